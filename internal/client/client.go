// Package client talks to a running iptoasn webservice.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultServerURL = "http://127.0.0.1:53661"

// StatusError carries the body of a non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("server answered %d", e.StatusCode)
	}
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, body)
}

type Client struct {
	base       string
	json       bool
	httpClient *http.Client
}

// New returns a client for the service at base. With jsonOutput the server
// is asked for JSON, otherwise for plain text.
func New(base string, jsonOutput bool, httpClient *http.Client) *Client {
	if strings.TrimSpace(base) == "" {
		base = DefaultServerURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:       strings.TrimRight(base, "/"),
		json:       jsonOutput,
		httpClient: httpClient,
	}
}

// LookupIP looks up ip, or the caller's own address when ip is empty.
func (c *Client) LookupIP(ctx context.Context, ip string) (string, error) {
	if ip == "" {
		return c.get(ctx, "/v1/as/ip")
	}
	return c.get(ctx, "/v1/as/ip/"+url.PathEscape(ip))
}

// LookupIPs sends body to the bulk endpoint as JSON when it looks like a
// JSON array and as text otherwise.
func (c *Client) LookupIPs(ctx context.Context, body []byte) (string, error) {
	contentType := "text/plain"
	if bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("[")) {
		contentType = "application/json"
	}
	return c.do(ctx, http.MethodPut, "/v1/as/ips", bytes.NewReader(body), contentType, "")
}

func (c *Client) AS(ctx context.Context, asn string) (string, error) {
	return c.get(ctx, "/v1/as/n/"+url.PathEscape(asn))
}

func (c *Client) ASSubnets(ctx context.Context, asn string) (string, error) {
	return c.get(ctx, "/v1/as/n/"+url.PathEscape(asn)+"/subnets")
}

func (c *Client) ASList(ctx context.Context) (string, error) {
	return c.get(ctx, "/v1/as/ns")
}

func (c *Client) Status(ctx context.Context) (string, error) {
	return c.get(ctx, "/v1/status")
}

// Reload asks the service to refetch its dataset. token must be an admin
// bearer token.
func (c *Client) Reload(ctx context.Context, token string) (string, error) {
	return c.do(ctx, http.MethodPost, "/v1/admin/reload", nil, "", token)
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	return c.do(ctx, http.MethodGet, path, nil, "", "")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return "", fmt.Errorf("client: build request: %w", err)
	}
	if c.json {
		req.Header.Set("Accept", "application/json")
	} else {
		req.Header.Set("Accept", "text/plain")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return string(data), nil
}

// WithTrailingNewline makes sure s ends with exactly the newline it needs.
func WithTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
