package spapi

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"sellersync/internal/domain"
)

// Response is the outcome of a single successful transport call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestOptions carries the per-call extras for Client.Execute.
type RequestOptions struct {
	Headers map[string]string
	Query   url.Values
	Body    []byte
	// Policy overrides the client's default retry policy for this call.
	Policy *domain.RetryPolicy
}

// ClientConfig configures the resilient transport shared by every component
// that talks to the seller API.
type ClientConfig struct {
	Timeout time.Duration
	// Policy governs retries on 429 and 5xx responses.
	Policy domain.RetryPolicy
	// NetworkPolicy governs retries on connection-level failures, which occur
	// before any status code exists and usually clear faster than throttling.
	NetworkPolicy domain.RetryPolicy
	// RPS and Burst bound the client-side token bucket. The remote enforces a
	// global rate limit shared across all request types, so the bucket is one
	// per process, not per driver.
	RPS        float64
	Burst      int
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client issues HTTP calls with bounded retry on rate limiting and transient
// server failure.
type Client struct {
	httpClient    *http.Client
	policy        domain.RetryPolicy
	networkPolicy domain.RetryPolicy
	limiter       *rate.Limiter
	logger        *log.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Policy.MaxAttempts <= 0 {
		config.Policy = domain.RetryPolicy{
			MaxAttempts: 4,
			Backoff:     []time.Duration{60 * time.Second, 300 * time.Second, 300 * time.Second},
		}
	}
	if config.NetworkPolicy.MaxAttempts <= 0 {
		config.NetworkPolicy = domain.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		}
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	var limiter *rate.Limiter
	if config.RPS > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RPS), burst)
	}

	return &Client{
		httpClient:    config.HTTPClient,
		policy:        config.Policy,
		networkPolicy: config.NetworkPolicy,
		limiter:       limiter,
		logger:        config.Logger,
		sleep:         sleepContext,
	}
}

// Execute performs one logical call, retrying per policy. 2xx responses are
// returned unmodified. 429 and 5xx are retried on the backoff schedule and
// surface as *RateLimitError / *ServerError once attempts run out. Any other
// status fails immediately with *APIError.
func (c *Client) Execute(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	policy := c.policy
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	var (
		lastResp    *Response
		lastNetErr  error
		netAttempts int
	)

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.do(ctx, method, rawURL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// No status code: connection refused/reset, DNS failure. Retried
			// under the shorter network schedule independent of the 429 budget.
			lastNetErr = err
			netAttempts++
			if netAttempts >= c.networkPolicy.MaxAttempts {
				return nil, &ServerError{Attempts: netAttempts, Cause: err}
			}
			if err := c.sleep(ctx, c.networkPolicy.Delay(netAttempts-1)); err != nil {
				return nil, err
			}
			attempt--
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastResp = resp
			if attempt == policy.MaxAttempts-1 {
				return nil, &RateLimitError{Attempts: policy.MaxAttempts, Last: resp}
			}
			delay := policy.Delay(attempt)
			if c.logger != nil {
				c.logger.Printf("transport: rate limited, retrying in %s (attempt %d/%d) url=%s", delay, attempt+1, policy.MaxAttempts, rawURL)
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		case resp.StatusCode >= 500 && resp.StatusCode <= 599:
			lastResp = resp
			if attempt == policy.MaxAttempts-1 {
				return nil, &ServerError{Attempts: policy.MaxAttempts, Last: resp}
			}
			delay := policy.Delay(attempt)
			if c.logger != nil {
				c.logger.Printf("transport: server error %d, retrying in %s (attempt %d/%d)", resp.StatusCode, delay, attempt+1, policy.MaxAttempts)
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
	}

	// Unreachable with MaxAttempts > 0, but do not return a nil error.
	if lastResp != nil {
		return nil, &ServerError{Attempts: policy.MaxAttempts, Last: lastResp}
	}
	return nil, &ServerError{Attempts: netAttempts, Cause: lastNetErr}
}

func (c *Client) do(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if len(opts.Query) > 0 {
		q := req.URL.Query()
		for key, values := range opts.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
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

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
