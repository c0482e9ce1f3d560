package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// response is one canned metadata endpoint answer.
type response struct {
	code int
	body string
}

// newMetadataServer serves a fixed response per path, like the real
// metadata service would. Unknown paths get a 404.
func newMetadataServer(t *testing.T, responses map[string]response) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(resp.code)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, responses map[string]response) *Client {
	t.Helper()
	server := newMetadataServer(t, responses)
	return NewClient(server.URL, hclog.NewNullLogger())
}

func TestPrivateIPv4(t *testing.T) {
	client := newTestClient(t, map[string]response{
		"/meta-data/local-ipv4": {code: http.StatusOK, body: "172.16.16.1\n"},
	})

	ip, err := client.PrivateIPv4(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "172.16.16.1", ip)
}

func TestPrivateIPv4NotFound(t *testing.T) {
	client := newTestClient(t, nil)

	_, err := client.PrivateIPv4(context.Background())
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestPrivateIPv4EmptyBody(t *testing.T) {
	client := newTestClient(t, map[string]response{
		"/meta-data/local-ipv4": {code: http.StatusOK, body: "  \n"},
	})

	_, err := client.PrivateIPv4(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty address")
}

func TestPrivateIPv4ServerError(t *testing.T) {
	client := newTestClient(t, map[string]response{
		"/meta-data/local-ipv4": {code: http.StatusInternalServerError},
	})

	_, err := client.PrivateIPv4(context.Background())
	assert.Error(t, err)
}

func TestUserData(t *testing.T) {
	const doc = `{"start_scylla_on_first_boot": false}`

	client := newTestClient(t, map[string]response{
		"/user-data": {code: http.StatusOK, body: doc},
	})

	body, err := client.UserData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, string(body))
}

func TestUserDataAbsent(t *testing.T) {
	// 404 means the instance was launched without user data. That is
	// not an error.
	client := newTestClient(t, nil)

	body, err := client.UserData(context.Background())
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestUserDataForbidden(t *testing.T) {
	client := newTestClient(t, map[string]response{
		"/user-data": {code: http.StatusForbidden},
	})

	_, err := client.UserData(context.Background())
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}

func TestUnreachableEndpoint(t *testing.T) {
	server := newMetadataServer(t, nil)
	url := server.URL
	server.Close()

	client := NewClient(url, hclog.NewNullLogger())
	_, err := client.PrivateIPv4(context.Background())
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*FetchError)), "transport failures are not status errors")
}
