// Package metadata fetches instance metadata from the cloud provider's
// local HTTP endpoint.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is the EC2 instance metadata service root.
	DefaultBaseURL = "http://169.254.169.254/latest"

	privateIPv4Path = "/meta-data/local-ipv4"
	userDataPath    = "/user-data"
)

// FetchError describes a metadata response the configurator cannot use.
type FetchError struct {
	Path       string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("metadata endpoint returned status %d for %s", e.StatusCode, e.Path)
}

// Client fetches instance metadata. The metadata service can still be
// coming up this early in boot, so transport failures and server errors
// are retried briefly before they are reported.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  hclog.Logger
}

// NewClient creates a metadata client for the given endpoint base URL.
func NewClient(baseURL string, logger hclog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = logger.Named("http")

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    rc,
		logger:  logger,
	}
}

// PrivateIPv4 returns the instance's private IPv4 address. The
// configurator cannot proceed without a bind address, so every failure
// here is an error.
func (c *Client) PrivateIPv4(ctx context.Context) (string, error) {
	body, status, err := c.get(ctx, privateIPv4Path)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &FetchError{Path: privateIPv4Path, StatusCode: status}
	}

	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", fmt.Errorf("metadata endpoint returned an empty address for %s", privateIPv4Path)
	}

	c.logger.Debug("detected private address", "ip", ip)
	return ip, nil
}

// UserData returns the raw operator override document, or nil when the
// instance was launched without one. Only a 404 means "no user data";
// any other non-200 status is an error.
func (c *Client) UserData(ctx context.Context) ([]byte, error) {
	body, status, err := c.get(ctx, userDataPath)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		c.logger.Debug("instance has no user data")
		return nil, nil
	default:
		return nil, &FetchError{Path: userDataPath, StatusCode: status}
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	return body, resp.StatusCode, nil
}
