package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIVersion is the Salesforce REST API version used when none is configured
const DefaultAPIVersion = "v53.0"

// Settings carries the authenticated-request settings for one destination.
// Tokens are issued by the OAuth collaborator; this package never refreshes them.
type Settings struct {
	InstanceURL string `json:"instanceUrl"`
	AccessToken string `json:"accessToken,omitempty"`
	APIVersion  string `json:"apiVersion,omitempty"`
	IsSandbox   bool   `json:"isSandbox,omitempty"`
}

// Options tunes the HTTP behaviour of a Client
type Options struct {
	Timeout     time.Duration
	GzipUploads bool
	// EnvToken is used when Settings carries no access token and names
	// EnvInstanceURL. It is never sent to any other instance.
	EnvToken       string
	EnvInstanceURL string
}

// Client talks to the Salesforce REST and Bulk 2.0 APIs of one org
type Client struct {
	client     *http.Client
	baseURL    string
	apiVersion string
	authHeader string
	gzip       bool
}

// ResolveToken resolves the bearer token for a request.
// Priority: settings token > environment token for the same instance.
// Returns (token, fromSettings).
func ResolveToken(settings Settings, opts Options) (string, bool) {
	if settings.AccessToken != "" {
		return settings.AccessToken, true
	}
	if opts.EnvInstanceURL == "" || normalizeInstanceURL(settings.InstanceURL) != normalizeInstanceURL(opts.EnvInstanceURL) {
		return "", false
	}
	return opts.EnvToken, false
}

func normalizeInstanceURL(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "/"))
}

// New creates a client for the org described by settings
func New(settings Settings, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(settings.InstanceURL), "/")
	if base == "" {
		return nil, errors.New("instance url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("instance url %q must be http(s)", settings.InstanceURL)
	}

	version := settings.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	authHeader := ""
	if token, _ := ResolveToken(settings, opts); token != "" {
		authHeader = "Bearer " + token
	}

	return &Client{
		client:     &http.Client{Timeout: timeout},
		baseURL:    base,
		apiVersion: version,
		authHeader: authHeader,
		gzip:       opts.GzipUploads,
	}, nil
}

// dataPath returns the versioned REST path for suffix
func (c *Client) dataPath(suffix string) string {
	return c.baseURL + "/services/data/" + c.apiVersion + suffix
}

type request struct {
	method      string
	url         string
	contentType string
	body        []byte
	gzip        bool
}

// do sends a request once and returns the status and body of a 2xx response.
// Non-2xx responses are returned as *HTTPError.
func (c *Client) do(ctx context.Context, r request) (int, []byte, error) {
	var body io.Reader
	contentEncoding := ""
	if r.body != nil {
		body = bytes.NewReader(r.body)
		if r.gzip {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			if _, err := gz.Write(r.body); err != nil {
				return 0, nil, fmt.Errorf("gzip error: %w", err)
			}
			if err := gz.Close(); err != nil {
				return 0, nil, fmt.Errorf("gzip close error: %w", err)
			}
			body = &buf
			contentEncoding = "gzip"
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request error: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response error: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, respBody, nil
	}

	return resp.StatusCode, nil, newHTTPError(resp.StatusCode, respBody, parseRetryAfter(resp.Header.Get("Retry-After")))
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out interface{}) (int, []byte, error) {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal error: %w", err)
		}
	}

	r := request{method: method, url: url, body: payload}
	if payload != nil {
		r.contentType = "application/json"
	}
	status, body, err := c.do(ctx, r)
	if err != nil {
		return status, nil, err
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return status, body, fmt.Errorf("decode response error: %w", err)
		}
	}
	return status, body, nil
}

// parseRetryAfter parses Retry-After header
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	// Try as seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// Try as HTTP date
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
