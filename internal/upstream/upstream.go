// Package upstream is the upstream caller (C6): the single call()
// operation that composes the cache, breaker, coalescer, and quota
// ledger around one outbound HTTP GET to aviationstack, in the fixed
// order the gateway's correctness properties depend on.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hellomira/aviationstack-gateway/internal/breaker"
	"github.com/hellomira/aviationstack-gateway/internal/cache"
	"github.com/hellomira/aviationstack-gateway/internal/coalesce"
	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
	"github.com/hellomira/aviationstack-gateway/internal/metrics"
	"github.com/hellomira/aviationstack-gateway/internal/params"
	"github.com/hellomira/aviationstack-gateway/internal/quota"
)

// maxUpstreamBodyBytes caps how much of an upstream response we will
// read, matching the defensive body cap used elsewhere against
// third-party services.
const maxUpstreamBodyBytes = 2 * 1024 * 1024 // 2 MiB

// Config points the caller at aviationstack.
type Config struct {
	BaseURL     string
	APIKeyParam string
	APIKey      string
}

// Caller is the composed C2-through-C6 pipeline.
type Caller struct {
	cfg       Config
	client    *http.Client
	cache     *cache.Cache
	breaker   *breaker.Breaker
	coalescer *coalesce.Coalescer
	ledger    *quota.Ledger
	metrics   *metrics.Metrics
}

// New builds a Caller. client should be a shared, long-lived HTTP client
// configured with sane timeouts and an SSRF-guarding transport.
func New(cfg Config, client *http.Client, c *cache.Cache, b *breaker.Breaker, co *coalesce.Coalescer, l *quota.Ledger, m *metrics.Metrics) *Caller {
	return &Caller{cfg: cfg, client: client, cache: c, breaker: b, coalescer: co, ledger: l, metrics: m}
}

// Call proxies one logical (endpoint, params) request through the full
// cache/breaker/coalescer/quota pipeline and returns the upstream JSON
// payload verbatim.
func (c *Caller) Call(ctx context.Context, endpoint, path string, values url.Values) ([]byte, error) {
	key := params.CacheKey(endpoint, values)

	if payload, hit, err := c.cache.Get(ctx, endpoint, key); err != nil {
		return nil, err
	} else if hit {
		return payload, nil
	}

	if !c.breaker.CanExecute() {
		c.metrics.SetBreakerState(int(c.breaker.Stats().State))
		return nil, gatewayerr.New(gatewayerr.BreakerOpen, "circuit breaker is open").
			WithRetryAfter(c.breaker.RetryAfter().UTC().Format(time.RFC3339))
	}

	val, coalesced, err := c.coalescer.Execute(ctx, key, func() (any, error) {
		return c.lead(ctx, endpoint, path, values, key)
	})
	if coalesced {
		c.metrics.Coalesced.WithLabelValues(endpoint).Inc()
	}
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// lead performs the leader's steps 5 through 9: reserve quota, call
// upstream, record the outcome against the breaker, and store the
// result in the cache. It runs at most once per in-flight window for a
// given key, regardless of how many followers are waiting on it.
func (c *Caller) lead(ctx context.Context, endpoint, path string, values url.Values, key string) ([]byte, error) {
	snap, err := c.ledger.Reserve(ctx)
	if err != nil {
		return nil, err
	}
	c.metrics.SetRateLimit(snap.Used, snap.Remaining)

	payload, status, err := c.fetch(ctx, path, values)
	if err != nil {
		if ge, ok := gatewayerr.As(err); ok && ge.Kind == gatewayerr.UpstreamClientError {
			// A 4xx other than 429 is a policy-neutral passthrough, not a
			// breaker failure: the upstream is healthy, the caller's
			// request was bad.
			return nil, err
		}
		c.breaker.RecordFailure()
		c.metrics.APICalls.WithLabelValues(endpoint, status).Inc()
		c.metrics.SetBreakerState(int(c.breaker.Stats().State))
		return nil, err
	}

	c.breaker.RecordSuccess()
	c.metrics.APICalls.WithLabelValues(endpoint, "success").Inc()
	c.metrics.SetBreakerState(int(c.breaker.Stats().State))

	if err := c.cache.Put(ctx, key, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// fetch issues the raw HTTP GET and classifies the outcome. The
// returned status string is the api_calls_total status label to use
// when the call did not succeed; it is meaningless on success.
func (c *Caller) fetch(ctx context.Context, path string, values url.Values) ([]byte, string, error) {
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return nil, "error", gatewayerr.Wrap(gatewayerr.UpstreamTransientFailure, "build upstream url", err)
	}
	q := params.Normalise(values)
	q.Set(c.cfg.APIKeyParam, c.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "error", gatewayerr.Wrap(gatewayerr.UpstreamTransientFailure, "build upstream request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "error", gatewayerr.Wrap(gatewayerr.UpstreamTransientFailure, "upstream transport error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return nil, "error", gatewayerr.Wrap(gatewayerr.UpstreamTransientFailure, "read upstream body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "rate_limited", gatewayerr.New(gatewayerr.UpstreamTransientFailure, "upstream rate limited the gateway")
	case resp.StatusCode >= 500:
		return nil, "error", gatewayerr.New(gatewayerr.UpstreamTransientFailure, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		clientErr := gatewayerr.New(gatewayerr.UpstreamClientError, fmt.Sprintf("upstream returned %d", resp.StatusCode))
		return nil, "", clientErr.WithStatus(resp.StatusCode).WithBody(body)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if !json.Valid(body) {
			return nil, "error", gatewayerr.New(gatewayerr.UpstreamTransientFailure, "upstream returned malformed body")
		}
		if hasErrorEnvelope(body) {
			return nil, "error", gatewayerr.New(gatewayerr.UpstreamTransientFailure, "upstream returned an error envelope with a 2xx status")
		}
		return body, "success", nil
	default:
		return nil, "error", gatewayerr.New(gatewayerr.UpstreamTransientFailure, fmt.Sprintf("unexpected upstream status %d", resp.StatusCode))
	}
}

// hasErrorEnvelope reports whether body is a JSON object carrying a
// top-level "error" field. aviationstack sometimes answers a bad
// access_key or malformed query with HTTP 200 and an error payload (e.g.
// {"error":{"code":"invalid_access_key", ...}}) instead of a 4xx status,
// so a 2xx status code alone does not mean the call succeeded.
func hasErrorEnvelope(body []byte) bool {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	_, ok := envelope["error"]
	return ok
}

// NewHTTPClient builds the shared long-lived client the gateway uses for
// every upstream call, with per-request and dial-level timeouts.
func NewHTTPClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Transport: transport, Timeout: timeout}
}
