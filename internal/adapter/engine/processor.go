package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"metasearch/internal/adapter/network"
	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
	"metasearch/internal/infra/tracer"
)

// Default suspension settings.
const (
	defaultSuspendMaxFailures uint32        = 5
	defaultSuspendDuration    time.Duration = 30 * time.Second
	defaultSuspendInterval    time.Duration = 60 * time.Second
)

// OnlineProcessor runs an Engine over HTTP. Repeated failures open a circuit
// breaker and the engine is reported as suspended until it closes again.
type OnlineProcessor struct {
	cfg     config.EngineConfig
	engine  Engine
	client  Doer
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[domain.Batch]
	logger  *slog.Logger
}

// NewOnlineProcessor wraps engine. A zero cfg.Timeout falls back to
// defaultTimeout.
func NewOnlineProcessor(cfg config.EngineConfig, engine Engine, client Doer, defaultTimeout time.Duration, logger *slog.Logger) *OnlineProcessor {
	logger = logger.With("engine", cfg.Name)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), max(rl.Burst, 1))
	}

	maxFailures := cfg.Suspend.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultSuspendMaxFailures
	}
	suspendFor := cfg.Suspend.Duration
	if suspendFor == 0 {
		suspendFor = defaultSuspendDuration
	}

	cb := gobreaker.NewCircuitBreaker[domain.Batch](gobreaker.Settings{
		Name:        "engine:" + cfg.Name,
		MaxRequests: 1,
		Interval:    defaultSuspendInterval,
		Timeout:     suspendFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			var abandoned *abandonedError
			return err == nil || errors.As(err, &abandoned)
		},
	})

	return &OnlineProcessor{
		cfg:     cfg,
		engine:  engine,
		client:  client,
		timeout: timeout,
		limiter: limiter,
		breaker: cb,
		logger:  logger,
	}
}

// Name implements domain.Processor.
func (p *OnlineProcessor) Name() string { return p.cfg.Name }

// Timeout implements domain.Processor.
func (p *OnlineProcessor) Timeout() time.Duration { return p.timeout }

// Config returns the engine configuration.
func (p *OnlineProcessor) Config() config.EngineConfig { return p.cfg }

// Suspended reports whether the breaker currently rejects requests.
func (p *OnlineProcessor) Suspended() bool {
	return p.breaker.State() == gobreaker.StateOpen
}

// GetParams implements domain.Processor.
func (p *OnlineProcessor) GetParams(q domain.SearchQuery, category string) (*domain.RequestParams, bool) {
	pageNo := max(q.PageNo, 1)
	if pageNo > 1 && !p.cfg.Paging {
		return nil, false
	}
	if q.TimeRange != "" && !p.cfg.TimeRangeSupport {
		return nil, false
	}

	lang := q.Lang
	if lang == "" || lang == "all" {
		lang = p.cfg.Language
	}

	headers := http.Header{}
	headers.Set("User-Agent", p.client.UserAgent())
	if lang != "" && lang != "all" {
		headers.Set("Accept-Language", lang)
	}
	for k, v := range p.cfg.Headers {
		headers.Set(k, v)
	}

	return &domain.RequestParams{
		Method:         http.MethodGet,
		Headers:        headers,
		Data:           url.Values{},
		Cookies:        map[string]string{},
		Category:       category,
		PageNo:         pageNo,
		SafeSearch:     q.SafeSearch,
		Language:       lang,
		TimeRange:      q.TimeRange,
		Timeout:        p.timeout,
		AllowRedirects: true,
	}, true
}

// ExtendContainerIfSuspended implements domain.Processor.
func (p *OnlineProcessor) ExtendContainerIfSuspended(sink domain.ResultSink) bool {
	if !p.Suspended() {
		return false
	}
	sink.AddUnresponsiveEngine(p.cfg.Name, domain.ReasonSuspended)
	return true
}

// Search implements domain.Processor. Every failure ends up in sink as an
// unresponsive engine with its reason.
func (p *OnlineProcessor) Search(ctx context.Context, query string, params *domain.RequestParams, sink domain.ResultSink, start time.Time, timeout time.Duration) {
	ctx, cancel := context.WithDeadline(ctx, start.Add(timeout))
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "search.engine")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("engine.name", p.cfg.Name),
		tracer.StringAttr("engine.category", params.Category),
		tracer.DurationAttr("engine.timeout", timeout),
	)

	batch, load, err := p.fetch(ctx, query, params, timeout)
	if err != nil {
		reason := Reason(err)
		sink.AddUnresponsiveEngine(p.cfg.Name, reason)
		tracer.RecordError(span, err)
		p.logger.Warn("engine error", "reason", reason, "error", err)
		return
	}

	for i := range batch.Results {
		if batch.Results[i].Category == "" {
			batch.Results[i].Category = params.Category
		}
	}
	sink.Extend(p.cfg.Name, batch)
	sink.AddTiming(p.cfg.Name, time.Since(start), load)
	span.SetAttributes(tracer.IntAttr("engine.results", len(batch.Results)))
	tracer.SetOK(span)
}

// Check runs query once outside any search and returns the engine error,
// if any, together with the number of results.
func (p *OnlineProcessor) Check(ctx context.Context, query string) (int, error) {
	params, ok := p.GetParams(domain.SearchQuery{Query: query, PageNo: 1}, firstCategory(p.cfg.Categories))
	if !ok {
		return 0, fmt.Errorf("engine %s declined the check query", p.cfg.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	batch, _, err := p.fetch(ctx, query, params, p.timeout)
	if err != nil {
		return 0, err
	}
	return len(batch.Results), nil
}

// abandonedError wraps a failure caused by the caller giving up on the
// request. The breaker does not count it against the engine.
type abandonedError struct{ err error }

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }

// abandoned marks err when ctx ended before the engine had its full timeout:
// a cancelled caller, or a search budget shorter than the engine's own.
func (p *OnlineProcessor) abandoned(ctx context.Context, err error, budget time.Duration) error {
	cause := ctx.Err()
	if cause == nil {
		return err
	}
	if errors.Is(cause, context.Canceled) || budget < p.timeout {
		return &abandonedError{err: err}
	}
	return err
}

// fetch runs one request through the breaker. budget is the time the caller
// granted, which decides whether a deadline counts as an engine failure.
func (p *OnlineProcessor) fetch(ctx context.Context, query string, params *domain.RequestParams, budget time.Duration) (domain.Batch, time.Duration, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return domain.Batch{}, 0, fmt.Errorf("%w: %w", domain.ErrRateLimit, err)
		}
	}

	var load time.Duration
	batch, err := p.breaker.Execute(func() (domain.Batch, error) {
		if err := p.engine.Request(query, params); err != nil {
			return domain.Batch{}, err
		}
		if !params.AllowRedirects {
			ctx = network.WithoutRedirects(ctx)
		}
		req, err := buildRequest(ctx, params)
		if err != nil {
			return domain.Batch{}, err
		}
		resp, err := p.client.Do(ctx, req)
		if err != nil {
			return domain.Batch{}, p.abandoned(ctx, err, budget)
		}
		load = resp.Elapsed
		if resp.StatusCode >= http.StatusBadRequest {
			return domain.Batch{}, &StatusError{Code: resp.StatusCode}
		}
		return p.engine.Response(resp)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Batch{}, 0, fmt.Errorf("%w: %w", domain.ErrEngineSuspended, err)
	}
	return batch, load, err
}

func buildRequest(ctx context.Context, params *domain.RequestParams) (*http.Request, error) {
	method := params.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *strings.Reader
	if method == http.MethodPost && len(params.Data) > 0 {
		body = strings.NewReader(params.Data.Encode())
	}

	var (
		req *http.Request
		err error
	)
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, params.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, params.URL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range params.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for name, value := range params.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}

// Reason maps an engine error to the unresponsive-engine reason shown to
// users.
func Reason(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, domain.ErrEngineSuspended):
		return domain.ReasonSuspended
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, domain.ErrTimeout):
		return domain.ReasonTimeout
	case errors.Is(err, domain.ErrRateLimit):
		return domain.ReasonTooManyRequests
	case errors.Is(err, domain.ErrProxy):
		return domain.ReasonProxy
	case errors.Is(err, domain.ErrConnect):
		return domain.ReasonConnection
	case errors.Is(err, domain.ErrProtocol), errors.Is(err, domain.ErrStaleConnection), errors.Is(err, domain.ErrUnsupportedProtocol):
		return domain.ReasonProtocol
	case errors.As(err, &se):
		switch se.Code {
		case http.StatusTooManyRequests:
			return domain.ReasonTooManyRequests
		case http.StatusForbidden:
			return domain.ReasonAccessDenied
		}
		return domain.ReasonHTTP
	case errors.Is(err, network.ErrResponseTooLarge), errors.Is(err, network.ErrBodyDecode):
		return domain.ReasonHTTP
	case errors.Is(err, domain.ErrParse):
		return domain.ReasonParsing
	}
	return domain.ReasonCrash
}

func firstCategory(cats []string) string {
	if len(cats) == 0 {
		return "general"
	}
	return cats[0]
}

var _ domain.Processor = (*OnlineProcessor)(nil)
