package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

var payload = []byte("\x1f\x8bnot-really-gzip-but-opaque-here")

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/db.gz", "/tmp/db.gz", ""} {
		if _, err := New(Options{URL: raw}); !errors.Is(err, ErrUnsupportedScheme) {
			t.Fatalf("New(%q) returned %v, want ErrUnsupportedScheme", raw, err)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.tsv.gz")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	l, err := New(Options{URL: "file://" + path})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if string(res.Data) != string(payload) || res.Network || res.Fallback {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	l, err := New(Options{URL: "file://" + filepath.Join(t.TempDir(), "missing.gz")})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := l.Load(context.Background()); !errors.Is(err, ErrReadLocal) {
		t.Fatalf("Load returned %v, want ErrReadLocal", err)
	}
}

func TestLoadDownloadsAndCaches(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cacheFile := filepath.Join(t.TempDir(), "cache", "ip2asn.tsv.gz")
	l, err := New(Options{URL: srv.URL + "/db.tsv.gz", CacheFile: cacheFile})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !res.Network || res.Fallback || string(res.Data) != string(payload) {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotUA != userAgent {
		t.Fatalf("User-Agent = %q, want %q", gotUA, userAgent)
	}

	cached, err := os.ReadFile(cacheFile)
	if err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	if string(cached) != string(payload) {
		t.Fatalf("cache file content mismatch")
	}
}

func TestLoadFallsBackOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	second := filepath.Join(dir, "second.gz")
	if err := os.WriteFile(second, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	l, err := New(Options{
		URL:       srv.URL,
		CacheFile: filepath.Join(dir, "cache.gz"),
		Fallbacks: []string{filepath.Join(dir, "first.gz"), second},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !res.Fallback || res.Network {
		t.Fatalf("expected fallback result, got %+v", res)
	}
	if res.Origin != "file://"+second {
		t.Fatalf("Origin = %q, want second fallback", res.Origin)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.gz")); !os.IsNotExist(err) {
		t.Fatalf("fallback data must not be written to the cache")
	}
}

func TestLoadUnreachableWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dir := t.TempDir()
	l, err := New(Options{
		URL:       url,
		CacheFile: filepath.Join(dir, "cache.gz"),
		Fallbacks: []string{filepath.Join(dir, "a.gz"), filepath.Join(dir, "b.gz")},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = l.Load(context.Background())
	if !errors.Is(err, ErrNoFallback) {
		t.Fatalf("Load returned %v, want ErrNoFallback", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Load error %v does not carry the fetch failure", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load error %v does not carry the fallback attempts", err)
	}
}

func TestDefaultFallbackChain(t *testing.T) {
	userCache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", userCache)
	perUser := filepath.Join(userCache, "iptoasn", "ip2asn-combined.tsv.gz")

	tests := []struct {
		name     string
		explicit string
		want     []string
	}{
		{
			name:     "explicit path first",
			explicit: "custom.gz",
			want:     []string{"custom.gz", perUser, "cache/ip2asn-combined.tsv.gz", "ip2asn-combined.tsv.gz", "test_data.tsv.gz"},
		},
		{
			name: "no explicit path",
			want: []string{perUser, "cache/ip2asn-combined.tsv.gz", "ip2asn-combined.tsv.gz", "test_data.tsv.gz"},
		},
		{
			name:     "explicit path equal to a legacy name",
			explicit: "./cache/ip2asn-combined.tsv.gz",
			want:     []string{"./cache/ip2asn-combined.tsv.gz", perUser, "ip2asn-combined.tsv.gz", "test_data.tsv.gz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(Options{URL: "https://example.invalid/db.gz", CacheFile: tt.explicit})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			if len(l.fallbacks) != len(tt.want) {
				t.Fatalf("fallbacks = %v, want %v", l.fallbacks, tt.want)
			}
			for i := range tt.want {
				if l.fallbacks[i] != tt.want[i] {
					t.Fatalf("fallbacks = %v, want %v", l.fallbacks, tt.want)
				}
			}
		})
	}
}

func TestLoadFallsBackToLegacyCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	work := t.TempDir()
	t.Chdir(work)
	if err := os.MkdirAll("cache", 0o755); err != nil {
		t.Fatalf("mkdir cache: %v", err)
	}
	if err := os.WriteFile(filepath.Join("cache", "ip2asn-combined.tsv.gz"), payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l, err := New(Options{URL: srv.URL, CacheFile: filepath.Join(work, "explicit.gz")})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("expected fallback result, got %+v", res)
	}
	if res.Origin != "file://cache/ip2asn-combined.tsv.gz" {
		t.Fatalf("Origin = %q, want the legacy cache file", res.Origin)
	}
}

func TestLoadPrefersUserCacheOverLegacy(t *testing.T) {
	userCache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", userCache)
	t.Chdir(t.TempDir())

	perUser := UserCacheFile()
	if err := os.MkdirAll(filepath.Dir(perUser), 0o755); err != nil {
		t.Fatalf("mkdir user cache: %v", err)
	}
	if err := os.WriteFile(perUser, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile("ip2asn-combined.tsv.gz", []byte("legacy"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l, err := New(Options{URL: srv.URL, CacheFile: "missing.gz"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if res.Origin != "file://"+perUser {
		t.Fatalf("Origin = %q, want %q", res.Origin, "file://"+perUser)
	}
}

func TestNewWithProxy(t *testing.T) {
	if _, err := New(Options{URL: "https://example.com/db.gz", Proxy: "socks5://127.0.0.1:1080"}); err != nil {
		t.Fatalf("New with socks5 proxy returned error: %v", err)
	}
	if _, err := New(Options{URL: "https://example.com/db.gz", Proxy: "gopher://127.0.0.1:70"}); err == nil {
		t.Fatalf("New with unknown proxy scheme returned nil error")
	}
}
