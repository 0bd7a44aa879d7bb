package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	method      string
	path        string
	accept      string
	contentType string
	auth        string
	body        string
}

func newServer(t *testing.T, status int, reply string, seen *seenRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*seen = seenRequest{
			method:      r.Method,
			path:        r.URL.EscapedPath(),
			accept:      r.Header.Get("Accept"),
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			body:        string(body),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupIP(t *testing.T) {
	var seen seenRequest
	srv := newServer(t, http.StatusOK, "8.8.8.8\tAS15169", &seen)

	out, err := New(srv.URL+"/", false, nil).LookupIP(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8\tAS15169", out)
	assert.Equal(t, "/v1/as/ip/8.8.8.8", seen.path)
	assert.Equal(t, "text/plain", seen.accept)

	_, err = New(srv.URL, true, nil).LookupIP(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/v1/as/ip", seen.path)
	assert.Equal(t, "application/json", seen.accept)
}

func TestLookupIPsDetectsJSON(t *testing.T) {
	var seen seenRequest
	srv := newServer(t, http.StatusOK, "[]", &seen)
	c := New(srv.URL, true, nil)

	_, err := c.LookupIPs(context.Background(), []byte("  [\"8.8.8.8\"]"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, seen.method)
	assert.Equal(t, "application/json", seen.contentType)
	assert.Equal(t, "  [\"8.8.8.8\"]", seen.body)

	_, err = c.LookupIPs(context.Background(), []byte("8.8.8.8\n1.1.1.1\n"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", seen.contentType)
}

func TestASPaths(t *testing.T) {
	var seen seenRequest
	srv := newServer(t, http.StatusOK, "ok", &seen)
	c := New(srv.URL, false, nil)
	ctx := context.Background()

	_, err := c.AS(ctx, "AS15169")
	require.NoError(t, err)
	assert.Equal(t, "/v1/as/n/AS15169", seen.path)

	_, err = c.ASSubnets(ctx, "15169")
	require.NoError(t, err)
	assert.Equal(t, "/v1/as/n/15169/subnets", seen.path)

	_, err = c.ASList(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/v1/as/ns", seen.path)

	_, err = c.Reload(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "Bearer token", seen.auth)
}

func TestStatusError(t *testing.T) {
	var seen seenRequest
	srv := newServer(t, http.StatusNotFound, `{"error":"AS not found"}`, &seen)

	_, err := New(srv.URL, true, nil).AS(context.Background(), "64512")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, `{"error":"AS not found"}`, statusErr.Body)
}

func TestWithTrailingNewline(t *testing.T) {
	assert.Equal(t, "a\n", WithTrailingNewline("a"))
	assert.Equal(t, "a\n", WithTrailingNewline("a\n"))
	assert.Equal(t, "\n", WithTrailingNewline(""))
}
