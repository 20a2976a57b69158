// Package fetcher downloads and parses data from HTTP, FTP, CSV, XLSX, and
// JSON permit sources.
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jtheoc80/permit-leads/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPFetcher implements Fetcher using net/http with bounded retry and a
// fixed-interval rate limiter per source. Government endpoints throttle
// aggressively, so the limiter is keyed by source rather than host.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	retries  map[string]int
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "permit-leads/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
		retries:  make(map[string]int),
	}
}

// SetSourceInterval installs a fixed minimum interval between requests for a
// source. Zero removes the limit.
func (f *HTTPFetcher) SetSourceInterval(source string, interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if interval <= 0 {
		delete(f.limiters, source)
		return
	}
	f.limiters[source] = rate.NewLimiter(rate.Every(interval), 1)
}

// SetSourceRetries overrides the attempt budget for a source. Zero or
// negative restores the global default.
func (f *HTTPFetcher) SetSourceRetries(source string, retries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if retries <= 0 {
		delete(f.retries, source)
		return
	}
	f.retries[source] = retries
}

func (f *HTTPFetcher) retriesFor(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.retries[source]; ok {
		return n
	}
	return f.opts.MaxRetries
}

func (f *HTTPFetcher) limiterFor(source string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[source]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	f.limiters[source] = lim
	return lim
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, source string, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(source)
	maxAttempts := f.retriesFor(source)

	var lastErr error
	for attempt := range maxAttempts {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := f.client.Do(cloned)
		if err != nil {
			lastErr = resilience.NewTransientError(err, 0)
			zap.L().Warn("http request failed, retrying",
				zap.String("source", source),
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			_ = resp.Body.Close()
			return nil, resilience.NewAuthError(source, resp.StatusCode,
				eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()))

		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			_ = resp.Body.Close()
			lastErr = resilience.NewTransientError(
				eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()),
				resp.StatusCode,
			)
			zap.L().Warn("transient http status, retrying",
				zap.String("source", source),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.backoff(ctx, attempt)
			continue

		case resp.StatusCode >= 400:
			// Non-retryable 4xx is a fatal adapter error.
			_ = resp.Body.Close()
			return nil, eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String())
		}

		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Get issues a GET and returns the response body.
func (f *HTTPFetcher) Get(ctx context.Context, source, rawURL string, header http.Header) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.doWithRetry(ctx, source, req)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, source, rawURL, path string) (int64, error) {
	body, err := f.Get(ctx, source, rawURL, nil)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}

	return n, nil
}
