// Package emapi implements the clients for the two upstream AM platform APIs:
// the resource API (EM-Infra) and the linked-data API (EMSON).
package emapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mowtools/emsync/internal/concurrency"
	"github.com/mowtools/emsync/internal/errors"
	"github.com/mowtools/emsync/internal/logger"
)

const contentTypeEMInfra = "application/vnd.awv.eminfra.v1+json"

// Response is a fully read upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decorator mutates an outgoing request, typically to attach credentials
type Decorator func(req *http.Request) error

// Requester performs authenticated HTTP requests against one upstream base
// URL. Any non-2xx response is retried up to the configured bound; exhausted
// retries surface as a protocol error. An optional rate limit and an
// in-flight bound throttle the load put on the upstream.
type Requester struct {
	baseURL  string
	client   *http.Client
	retries  int
	limiter  *rate.Limiter
	inflight *concurrency.Semaphore
	decorate Decorator
	log      logger.Logger
}

// RequesterConfig configures a Requester
type RequesterConfig struct {
	BaseURL     string
	Retries     int           // per-request attempt bound, default 3
	Timeout     time.Duration // per-attempt HTTP timeout, default 2m
	RPS         float64       // 0 disables rate limiting
	MaxInFlight int           // concurrent request bound, default 16
	Client      *http.Client  // optional pre-built client (mTLS)
	Decorate    Decorator
}

// NewRequester creates a requester with the given transport configuration
func NewRequester(cfg RequesterConfig) *Requester {
	retries := cfg.Retries
	if retries < 1 {
		retries = 3
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		client.Timeout = timeout
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 16
	}
	return &Requester{
		baseURL:  cfg.BaseURL,
		client:   client,
		retries:  retries,
		limiter:  limiter,
		inflight: concurrency.NewSemaphore(maxInFlight),
		decorate: cfg.Decorate,
		log:      logger.New("emapi"),
	}
}

// WithBasePath returns a copy of the requester with path appended to its base
// URL. The copy shares the rate and in-flight bounds of the original, so both
// API clients count against the same upstream budget.
func (r *Requester) WithBasePath(path string) *Requester {
	clone := *r
	clone.baseURL = r.baseURL + path
	return &clone
}

// Get performs a GET request against base+path
func (r *Requester) Get(ctx context.Context, path string) (*Response, error) {
	return r.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body against base+path
func (r *Requester) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return r.do(ctx, http.MethodPost, path, body)
}

func (r *Requester) do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var last *Response
	var lastErr error

	for attempt := 1; attempt <= r.retries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		r.inflight.Acquire()
		resp, err := r.once(ctx, method, path, body)
		r.inflight.Release()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			r.log.Debug("request attempt failed",
				logger.String("method", method),
				logger.String("path", path),
				logger.Int("attempt", attempt),
				logger.Error(err))
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		last = resp
		r.log.Debug("request attempt returned non-2xx",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("attempt", attempt),
			logger.Int("status", resp.StatusCode))
	}

	if last != nil {
		return nil, errors.NewProtocolError(
			fmt.Sprintf("%s %s failed after %d attempts", method, path, r.retries)).
			WithDetail("status", last.StatusCode).
			WithDetail("body", truncate(string(last.Body), 512))
	}
	return nil, errors.NewConnectivityError(
		fmt.Sprintf("%s %s failed after %d attempts", method, path, r.retries)).
		WithCause(lastErr)
}

func (r *Requester) once(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentTypeEMInfra)
	}
	if r.decorate != nil {
		if err := r.decorate(req); err != nil {
			return nil, err
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
