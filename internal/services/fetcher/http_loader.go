package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
)

// Loader performs a single page load. Implementations keep their own
// session state (cookies, browser) across calls.
type Loader interface {
	// Load fetches rawURL once. status is 0 when no response was received.
	Load(ctx context.Context, rawURL string) (status int, body string, err error)

	// Reset discards the session so the next Load starts with a fresh warm-up.
	Reset()

	// Close releases any resources held by the loader.
	Close() error
}

// httpLoader keeps one cookie-jar client across calls. The first Load after
// construction or Reset visits the landing and category pages first so the
// site sets its session cookies.
type httpLoader struct {
	cfg    Config
	gate   *RateLimiter
	logger arbor.ILogger

	mu       sync.Mutex
	client   *http.Client
	warmedUp bool
}

func newHTTPLoader(cfg Config, gate *RateLimiter, logger arbor.ILogger) *httpLoader {
	return &httpLoader{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
	}
}

// newSessionClient creates a client with an empty cookie jar
func newSessionClient(cfg Config) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: cfg.RequestTimeout,
	}, nil
}

func (l *httpLoader) Load(ctx context.Context, rawURL string) (int, string, error) {
	client, warmed, err := l.session(ctx)
	if err != nil {
		return 0, "", err
	}
	// The warm-up consumed the caller's rate-limit slot.
	if warmed {
		if err := l.gate.Wait(ctx); err != nil {
			return 0, "", err
		}
	}
	return l.get(ctx, client, rawURL, l.cfg.BaseURL)
}

// session returns the live client, creating and warming it up if needed.
// warmed reports whether warm-up requests were sent during this call.
func (l *httpLoader) session(ctx context.Context) (client *http.Client, warmed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		c, err := newSessionClient(l.cfg)
		if err != nil {
			return nil, false, err
		}
		l.client = c
		l.warmedUp = false
	}

	if !l.warmedUp {
		warmed = l.warmup(ctx, l.client)
		l.warmedUp = true
	}
	return l.client, warmed, nil
}

// warmup visits the landing page and category pages. Failures are logged
// and do not fail the fetch. Returns true if any request was sent.
func (l *httpLoader) warmup(ctx context.Context, client *http.Client) bool {
	urls := warmupURLs(l.cfg.BaseURL, l.cfg.WarmupPaths)
	if len(urls) == 0 {
		return false
	}

	sent := false
	referer := ""
	for _, u := range urls {
		if sent {
			if err := l.gate.Wait(ctx); err != nil {
				return sent
			}
		}
		sent = true
		status, _, err := l.get(ctx, client, u, referer)
		if err != nil || status >= 400 {
			l.logger.Warn().
				Str("url", u).
				Int("status_code", status).
				Err(err).
				Msg("Session warm-up request failed")
			continue
		}
		referer = u
		l.logger.Debug().
			Str("url", u).
			Int("status_code", status).
			Msg("Session warm-up request completed")
	}
	return sent
}

func (l *httpLoader) get(ctx context.Context, client *http.Client, rawURL, referer string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", l.cfg.AcceptLanguage)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBodySize))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, string(data), nil
}

func (l *httpLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.CloseIdleConnections()
	}
	l.client = nil
	l.warmedUp = false
}

func (l *httpLoader) Close() error {
	l.Reset()
	return nil
}

// warmupURLs resolves the warm-up paths against the base URL.
func warmupURLs(baseURL string, paths []string) []string {
	if baseURL == "" {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	out := []string{base.String()}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out
}
