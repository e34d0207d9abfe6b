package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultMaxBytes bounds a single download.
const DefaultMaxBytes int64 = 512 << 20

// Fetcher downloads remote media into a Buffer.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Buffer, error)
}

// FetchError reports a non-success response from a media host.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// FetcherConfig tunes the HTTP fetcher.
type FetcherConfig struct {
	Timeout  time.Duration
	Retries  int
	MaxBytes int64
}

// HTTPFetcher implements Fetcher with a bounded-retry HTTP client.
type HTTPFetcher struct {
	client   *retryablehttp.Client
	maxBytes int64
}

// NewHTTPFetcher builds a fetcher. Transport errors, 429 and 5xx responses are retried.
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout

	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = logutil.Leveled{}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPFetcher{client: client, maxBytes: cfg.MaxBytes}
}

// Fetch downloads rawURL. The returned buffer is owned by the caller.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Buffer, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: %d bytes exceeds limit of %d", rawURL, resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds limit of %d bytes", rawURL, f.maxBytes)
	}

	buf := NewBuffer(fileName(rawURL), resp.Header.Get("Content-Type"), data)
	logutil.Debugf("media fetched: url=%s bytes=%d type=%s video=%t", rawURL, buf.Len(), buf.ContentType, buf.IsVideo)
	return buf, nil
}

func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}
