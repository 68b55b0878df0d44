package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Identity is the request fingerprint a standalone client presents.
type Identity struct {
	Name      string
	Headers   map[string]string
	HTTP1Only bool
}

// DefaultIdentity mimics a desktop Chrome navigation request.
func DefaultIdentity() Identity {
	return Identity{
		Name: "http-default",
		Headers: map[string]string{
			"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Cache-Control":             "max-age=0",
		},
	}
}

// AlternateIdentity presents as desktop Firefox over HTTP/1.1 with a
// separate cookie jar. It is the fallback transport when the default one is
// blocked.
func AlternateIdentity() Identity {
	return Identity{
		Name: "http-alternate",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.5",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "cross-site",
		},
		HTTP1Only: true,
	}
}

// Options configures an HTTPFetcher.
type Options struct {
	Identity Identity
	// Timeout bounds a buffered request. Streamed transfers are bounded by the
	// caller's context only. Zero leaves timing to the context.
	Timeout time.Duration
	// RequestsPerSecond limits requests per host. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxBodyBytes caps the response body. Zero means unlimited.
	MaxBodyBytes int64
}

// HTTPFetcher is a standalone net/http transport.
type HTTPFetcher struct {
	client   *http.Client
	identity Identity
	limiter  *hostLimiter
	maxBody  int64
	timeout  time.Duration
}

// NewHTTPFetcher builds a fetcher with its own transport and cookie jar.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Identity.HTTP1Only {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Transport: tr, Jar: jar}
	return NewHTTPFetcherWithClient(client, opts)
}

// NewHTTPFetcherWithClient wraps an existing client, e.g. one from httptest.
func NewHTTPFetcherWithClient(client *http.Client, opts Options) *HTTPFetcher {
	if opts.Identity.Name == "" {
		opts.Identity = DefaultIdentity()
	}
	f := &HTTPFetcher{
		client:   client,
		identity: opts.Identity,
		maxBody:  opts.MaxBodyBytes,
		timeout:  opts.Timeout,
	}
	if opts.RequestsPerSecond > 0 {
		f.limiter = newHostLimiter(rate.Limit(opts.RequestsPerSecond), max(1, opts.Burst))
	}
	return f
}

// Name implements Named.
func (f *HTTPFetcher) Name() string {
	return f.identity.Name
}

// FetchText implements Fetcher.FetchText.
func (f *HTTPFetcher) FetchText(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	body, err := f.get(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBinary implements Fetcher.FetchBinary.
func (f *HTTPFetcher) FetchBinary(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	return f.get(ctx, rawURL, headers)
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	resp, err := f.do(ctx, rawURL, headers, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if f.maxBody > 0 {
		r = io.LimitReader(resp.Body, f.maxBody+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if f.maxBody > 0 && int64(len(body)) > f.maxBody {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// FetchTo implements Streamer. When dst already holds data the request asks
// for the remaining range; a server that ignores the range restarts dst from
// the beginning. MaxBodyBytes does not apply since nothing is buffered.
func (f *HTTPFetcher) FetchTo(ctx context.Context, rawURL string, headers map[string]string, dst Destination) (int64, error) {
	offset, err := dst.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	resp, err := f.do(ctx, rawURL, headers, offset)
	if err != nil {
		var se *StatusError
		if offset > 0 && errors.As(err, &se) && se.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			// Everything was already written by an earlier attempt.
			return offset, nil
		}
		return offset, err
	}
	defer resp.Body.Close()

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		if err := dst.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		offset = 0
	}
	n, err := io.Copy(dst, resp.Body)
	return offset + n, err
}

// do sends the GET and returns the response for 2xx statuses. offset > 0 adds
// a Range header.
func (f *HTTPFetcher) do(ctx context.Context, rawURL string, headers map[string]string, offset int64) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if f.limiter != nil {
		if err := f.limiter.wait(ctx, u.Host); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.identity.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &StatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp, nil
}

// hostLimiter hands out one token bucket per host.
type hostLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	hosts map[string]*rate.Limiter
}

func newHostLimiter(limit rate.Limit, burst int) *hostLimiter {
	return &hostLimiter{limit: limit, burst: burst, hosts: make(map[string]*rate.Limiter)}
}

func (h *hostLimiter) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	l, ok := h.hosts[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.hosts[host] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}
