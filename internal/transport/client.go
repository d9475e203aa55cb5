// Package transport implements the pooled HTTP fetch path shared by every
// page request of a run: a colly collector over a pooled http.Transport,
// bounded retry with jittered backoff, and the Accept-header fallback chain
// some catalog servers need.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const defaultUserAgent = "feedscope/1.0"

// acceptFallback is tried in order; a 406 moves to the next entry. Some ODL
// servers reject the compound header, some reject any Accept at all.
var acceptFallback = []string{
	"application/opds+json, application/json",
	"application/json",
	"",
}

// Credentials are per-request basic-auth credentials.
type Credentials struct {
	Username string
	Password string
}

func (c *Credentials) header() string {
	raw := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// CredentialsFor returns the credentials to use for a discovered next URL.
// A URL carrying its own token= query parameter is self-authenticating and
// must not also receive basic auth.
func CredentialsFor(pageURL string, creds *Credentials) *Credentials {
	if creds == nil {
		return nil
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return creds
	}
	if u.Query().Has("token") {
		return nil
	}
	return creds
}

// Response is one successfully fetched page body.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Observer receives fetch outcomes for metrics. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveFetch(statusClass string, d time.Duration)
	ObserveRetry()
}

// Options controls client behavior. Zero values get defaults.
type Options struct {
	UserAgent     string
	Timeout       time.Duration
	MaxAttempts   int
	MaxConcurrent int
	Observer      Observer
}

// Client is the shared fetch client of a run. Safe for concurrent use; each
// request runs on a clone of the base collector over one pooled transport.
type Client struct {
	opts   Options
	policy *RetryPolicy
	base   *colly.Collector
	log    *zap.Logger
}

// NewClient builds a Client whose connection pool is sized to the worker
// count that will share it.
func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.UserAgent = opts.UserAgent
	c.WithTransport(newHTTPTransport(opts.MaxConcurrent))
	// Clones share the backend http.Client, so the timeout must be set once
	// here; setting it per request would race with in-flight fetches.
	c.SetRequestTimeout(opts.Timeout)

	return &Client{
		opts:   opts,
		policy: NewRetryPolicy(opts.MaxAttempts),
		base:   c,
		log:    log,
	}
}

// Fetch gets one page. Transient failures are retried under the policy; a
// 406 walks the Accept fallback chain; any 4xx besides 406/429 is terminal.
// The returned error is always a *FetchError.
func (c *Client) Fetch(ctx context.Context, pageURL string, creds *Credentials) (Response, error) {
	var lastErr error
	for _, accept := range acceptFallback {
		resp, err := c.fetchWithRetry(ctx, pageURL, creds, accept)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var fe *FetchError
		if errors.As(err, &fe) && fe.StatusCode == http.StatusNotAcceptable {
			c.log.Debug("accept header rejected, falling back",
				zap.String("url", pageURL),
				zap.String("accept", accept))
			continue
		}
		return Response{}, err
	}
	return Response{}, lastErr
}

func (c *Client) fetchWithRetry(ctx context.Context, pageURL string, creds *Credentials, accept string) (Response, error) {
	var lastErr error
	attempt := 0
	for {
		attempt++
		resp, err := c.doOnce(ctx, pageURL, creds, accept)
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveFetch(StatusClass(resp.StatusCode), resp.Duration)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var fe *FetchError
		if errors.As(err, &fe) && fe.StatusCode == http.StatusNotAcceptable {
			// Not transient; the caller decides whether to change Accept.
			return Response{}, err
		}
		if !c.policy.ShouldRetry(err, attempt) {
			break
		}
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveRetry()
		}
		c.log.Debug("retrying fetch",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if err := sleepCtx(ctx, c.policy.Backoff(attempt)); err != nil {
			return Response{}, &FetchError{URL: pageURL, Attempts: attempt, Err: err}
		}
	}
	var fe *FetchError
	if errors.As(lastErr, &fe) {
		fe.Attempts = attempt
		return Response{}, fe
	}
	return Response{}, &FetchError{URL: pageURL, Attempts: attempt, Err: lastErr}
}

// doOnce executes a single attempt on a collector clone.
func (c *Client) doOnce(ctx context.Context, pageURL string, creds *Credentials, accept string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, &FetchError{URL: pageURL, Attempts: 1, Err: err}
	}
	collector := c.base.Clone()

	var (
		result    Response
		gotBody   bool
		errStatus int
		hookErr   error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		if accept != "" {
			r.Headers.Set("Accept", accept)
		}
		if creds != nil {
			r.Headers.Set("Authorization", creds.header())
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		gotBody = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			errStatus = r.StatusCode
		}
		hookErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return Response{Duration: time.Since(start)}, &FetchError{URL: pageURL, Attempts: 1, Err: ctx.Err()}
	case visitErr := <-done:
		if gotBody && result.StatusCode < 400 {
			return result, nil
		}
		err := hookErr
		if err == nil {
			err = visitErr
		}
		return Response{StatusCode: errStatus, Duration: time.Since(start)},
			&FetchError{URL: pageURL, StatusCode: errStatus, Attempts: 1, Err: err}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newHTTPTransport(maxConcurrent int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConcurrent,
		IdleConnTimeout:       90 * time.Second,
	}
}
