package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/pharmacy-density/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries is the number of retries after the first try. Zero means
	// the default of 3; a negative value disables retries.
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
	// Backoff times the retries; its Attempts is MaxRetries plus one.
	Backoff resilience.Backoff
}

// HTTPFetcher implements Fetcher using net/http with retry and per-host rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	breakers *resilience.Breakers
}

// DefaultRateLimiters returns the default per-host rate limiters for the
// INEGI and INE download servers.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"www.inegi.org.mx":       rate.NewLimiter(2, 2),
		"inegi.org.mx":           rate.NewLimiter(2, 2),
		"cartografia.ife.org.mx": rate.NewLimiter(1, 1),
		"www.ine.mx":             rate.NewLimiter(1, 1),
	}
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pharmacy-density/1.0"
	}
	limiters := DefaultRateLimiters()
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		limiters: limiters,
		breakers: resilience.NewBreakers(5, time.Minute),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(5, 5)
	}
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	return rate.NewLimiter(5, 5)
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.String())
	breaker := f.breakers.For(req.URL.Host)
	backoff := f.opts.Backoff
	backoff.Attempts = max(f.opts.MaxRetries, 0) + 1

	resp, err := resilience.Retry(ctx, backoff, "download "+req.URL.String(), func(ctx context.Context) (*http.Response, error) {
		if err := breaker.Allow(); err != nil {
			return nil, err
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			err = resilience.NewTransientError(err, 0)
		case resilience.IsTransientStatus(resp.StatusCode):
			_ = resp.Body.Close()
			err = resilience.NewTransientError(eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
			resp = nil
		}
		breaker.Record(err)
		return resp, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "all retries exhausted")
	}
	return resp, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
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
