package network

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"metasearch/internal/infra/tracer"
)

// maxAttempts is the total attempt budget of one round trip.
const maxAttempts = 2

// Evicter drops the pooled connections of one origin.
type Evicter interface {
	Evict(origin string) int
}

// RetryTransport decorates a RoundTripper with failure classification,
// per-origin connection eviction and one retry for stale connections.
type RetryTransport struct {
	next      http.RoundTripper
	pool      Evicter
	proxy     string // origin of a forwarding HTTP proxy, if any
	logger    *slog.Logger
	evictions atomic.Int64
}

var _ http.RoundTripper = (*RetryTransport)(nil)

// NewRetryTransport wraps next. pool receives eviction requests for the
// connections next dialled.
func NewRetryTransport(next http.RoundTripper, pool Evicter, logger *slog.Logger) *RetryTransport {
	return &RetryTransport{next: next, pool: pool, logger: logger}
}

// Evictions reports how many times an origin was evicted.
func (t *RetryTransport) Evictions() int64 {
	return t.evictions.Load()
}

// viaProxy records that next forwards requests through the HTTP proxy u.
func (t *RetryTransport) viaProxy(u *url.URL) {
	t.proxy = OriginOf(u)
}

// poolKey is the ConnPool key of the connections serving u. Plaintext
// requests forwarded by an HTTP proxy share the proxy connections.
func (t *RetryTransport) poolKey(u *url.URL) string {
	if t.proxy != "" && u.Scheme == "http" {
		return t.proxy
	}
	return OriginOf(u)
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origin := t.poolKey(req.URL)
	ctx, span := tracer.StartSpan(WithOrigin(req.Context(), origin), "network.request")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("origin", origin))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		span.SetAttributes(tracer.IntAttr("attempts", attempt))

		r, err := attemptRequest(req.WithContext(ctx), attempt)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}

		resp, err := t.next.RoundTrip(r)
		if err == nil {
			tracer.SetOK(span)
			return resp, nil
		}

		kind := Classify(err)
		lastErr = wrapKind(kind, err)

		switch policyTable[kind] {
		case actionEvictRetry:
			t.evict(origin)
			if attempt < maxAttempts && rewindable(req) {
				t.logger.Warn("stale connection, retrying", "origin", origin, "attempt", attempt, "error", err)
				continue
			}
		case actionEvictRaise:
			t.evict(origin)
		}
		tracer.RecordError(span, lastErr)
		return nil, lastErr
	}
	tracer.RecordError(span, lastErr)
	return nil, lastErr
}

func (t *RetryTransport) evict(origin string) {
	t.pool.Evict(origin)
	t.evictions.Add(1)
}

// CloseIdleConnections forwards to the wrapped transport.
func (t *RetryTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := t.next.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// attemptRequest returns the request for the given attempt. Retries get a
// clone carrying a fresh body.
func attemptRequest(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 {
		return req, nil
	}
	r := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}
