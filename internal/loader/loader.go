package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"
)

const (
	userAgent       = "iptoasn-webservice/0.3.0"
	defaultTimeout  = 5 * time.Minute
	maxDownloadSize = 512 << 20

	// DefaultCacheFile is where successful downloads are kept for later
	// fallback when no explicit cache file is configured.
	DefaultCacheFile = "cache/ip2asn-combined.tsv.gz"
)

var (
	ErrUnsupportedScheme = errors.New("loader: unsupported URL scheme")
	ErrFetch             = errors.New("loader: unable to download the database")
	ErrReadLocal         = errors.New("loader: unable to read the database")
	ErrNoFallback        = errors.New("loader: no fallback data available")
)

// fallbackResolvers produce the default fallback chain in order. A resolver
// returning "" contributes nothing.
var fallbackResolvers = []func(explicit string) string{
	func(explicit string) string { return explicit },
	func(string) string { return UserCacheFile() },
	func(string) string { return DefaultCacheFile },
	func(string) string { return "ip2asn-combined.tsv.gz" },
	func(string) string { return "test_data.tsv.gz" },
}

// UserCacheFile is the per-user cache location, or "" when the platform has
// no user cache directory.
func UserCacheFile() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return ""
	}
	return filepath.Join(dir, "iptoasn", filepath.Base(DefaultCacheFile))
}

// DefaultFallbacks is the fallback chain for an explicit cache path, which may
// be empty. Duplicates keep their first position.
func DefaultFallbacks(explicit string) []string {
	seen := make(map[string]struct{}, len(fallbackResolvers))
	chain := make([]string, 0, len(fallbackResolvers))
	for _, resolve := range fallbackResolvers {
		path := resolve(explicit)
		if path == "" {
			continue
		}
		key := filepath.Clean(path)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		chain = append(chain, path)
	}
	return chain
}

type Options struct {
	// URL is file://<path>, http://... or https://...
	URL string
	// CacheFile receives every successful download and is the first fallback.
	// When empty, downloads go to the per-user cache file.
	CacheFile string
	// Fallbacks overrides the fallback chain. When nil the chain is
	// DefaultFallbacks(CacheFile).
	Fallbacks []string
	// Proxy is an optional socks5:// URL used for downloads.
	Proxy   string
	Timeout time.Duration
	Client  *http.Client
}

// Result is the raw compressed dataset and where it came from.
type Result struct {
	Data   []byte
	Origin string
	// Network is true when the bytes were freshly downloaded.
	Network bool
	// Fallback is true when the bytes came from the fallback chain.
	Fallback bool
}

type sourceKind int

const (
	sourceFile sourceKind = iota
	sourceHTTP
)

// Loader resolves the configured source into raw dataset bytes.
type Loader struct {
	url       string
	kind      sourceKind
	path      string
	cacheFile string
	fallbacks []string
	client    *http.Client
}

// New validates the source and prepares the HTTP client. Unsupported schemes
// are rejected here so configuration errors surface at startup.
func New(opts Options) (*Loader, error) {
	l := &Loader{url: opts.URL, cacheFile: opts.CacheFile}
	if l.cacheFile == "" {
		l.cacheFile = UserCacheFile()
	}
	if l.cacheFile == "" {
		l.cacheFile = DefaultCacheFile
	}

	switch {
	case strings.HasPrefix(opts.URL, "file://"):
		l.kind = sourceFile
		l.path = strings.TrimPrefix(opts.URL, "file://")
	case strings.HasPrefix(opts.URL, "http://"), strings.HasPrefix(opts.URL, "https://"):
		l.kind = sourceHTTP
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, opts.URL)
	}

	if opts.Fallbacks != nil {
		l.fallbacks = opts.Fallbacks
	} else {
		l.fallbacks = DefaultFallbacks(opts.CacheFile)
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = newHTTPClient(opts.Proxy, opts.Timeout)
		if err != nil {
			return nil, err
		}
	}
	l.client = client

	return l, nil
}

func (l *Loader) URL() string {
	return l.url
}

// Load returns the dataset bytes. Local file sources are read directly and
// fail without fallback. Network sources fall back to the local chain on any
// transport error or non-200 status; the first readable file wins.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	if l.kind == sourceFile {
		log.Info("Loading the database from file", "path", l.path)
		data, err := os.ReadFile(l.path)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrReadLocal, err)
		}
		return Result{Data: data, Origin: l.url}, nil
	}

	log.Info("Loading the database", "url", l.url)
	data, err := l.download(ctx)
	if err == nil {
		l.saveToCache(data)
		return Result{Data: data, Origin: l.url, Network: true}, nil
	}

	log.Warn("Network request failed, attempting to use cached data", "url", l.url, "error", err)
	return l.loadFallback(err)
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFetch, maxDownloadSize)
	}
	return data, nil
}

func (l *Loader) loadFallback(cause error) (Result, error) {
	attempts := []error{cause}
	for _, path := range l.fallbacks {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Debug("Fallback file not available", "path", path, "error", err)
			attempts = append(attempts, fmt.Errorf("%s: %w", path, err))
			continue
		}
		log.Info("Loaded fallback data", "path", path)
		return Result{Data: data, Origin: "file://" + path, Fallback: true}, nil
	}

	log.Error("No fallback data sources available", "url", l.url)
	return Result{}, errors.Join(append([]error{ErrNoFallback}, attempts...)...)
}

func (l *Loader) saveToCache(data []byte) {
	if err := writeFile(l.cacheFile, data); err != nil {
		log.Warn("Failed to cache database", "path", l.cacheFile, "error", err)
		return
	}
	log.Info("Cached database", "path", l.cacheFile)
}

func writeFile(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "ip2asn-*.tsv.gz")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	return nil
}

func newHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("loader: parse proxy url: %w", err)
		}
		dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("loader: create proxy dialer: %w", err)
		}
		transport.Proxy = nil
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}
