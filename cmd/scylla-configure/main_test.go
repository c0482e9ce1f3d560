package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	rootCmd := newRootCmd()

	assert.Equal(t, "scylla-configure", rootCmd.Use)
	assert.Equal(t, "First-boot configuration for ScyllaDB machine images", rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCmdHelp(t *testing.T) {
	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"--help"})

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	err := rootCmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "scylla-configure")
	assert.Contains(t, output, "run")
	assert.Contains(t, output, "configure")
	assert.Contains(t, output, "run-script")
	assert.Contains(t, output, "start-policy")
}

func TestRootCmdVersion(t *testing.T) {
	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"--version"})

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	err := rootCmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "scylla-configure version")
}

// newFakeMetadataServer serves a private address and the given user
// data document.
func newFakeMetadataServer(t *testing.T, ip string, userData map[string]any) *httptest.Server {
	t.Helper()

	var raw []byte
	if userData != nil {
		var err error
		raw, err = json.Marshal(userData)
		require.NoError(t, err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/meta-data/local-ipv4":
			_, _ = w.Write([]byte(ip))
		case "/user-data":
			if raw == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(raw)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunCmdEndToEnd(t *testing.T) {
	server := newFakeMetadataServer(t, "10.1.2.3", map[string]any{
		"start_scylla_on_first_boot": false,
	})

	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "scylla.yaml")
	sentinelPath := filepath.Join(tmpDir, "ami_disabled")

	template, err := os.ReadFile(filepath.Join("..", "..", "pkg", "configure", "testdata", "scylla.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(yamlPath, template, 0o644))

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{
		"run",
		"--metadata-url", server.URL,
		"--scylla-yaml", yamlPath,
		"--sentinel", sentinelPath,
		"--log-level", "error",
	})

	require.NoError(t, rootCmd.Execute())

	merged, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Contains(t, string(merged), "10.1.2.3")
	assert.FileExists(t, yamlPath+".example")
	assert.FileExists(t, sentinelPath)
}

func TestConfigureCmdMetadataUnavailable(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "scylla.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("cluster_name: x\n"), 0o644))

	server := newFakeMetadataServer(t, "10.1.2.3", nil)
	url := server.URL
	server.Close()

	rootCmd := newRootCmd()
	rootCmd.SilenceErrors = true
	rootCmd.SetArgs([]string{
		"configure",
		"--metadata-url", url,
		"--scylla-yaml", yamlPath,
		"--log-level", "off",
	})

	assert.Error(t, rootCmd.Execute())
}
