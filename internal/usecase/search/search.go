// Package search runs one query against the selected engines and collects
// whatever they return within the query's time budget.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"metasearch/internal/domain"
	"metasearch/internal/infra/tracer"
	"metasearch/internal/usecase/results"
)

// ProcessorSource looks up the processor of an engine.
type ProcessorSource interface {
	Processor(name string) (domain.Processor, bool)
}

// Answerer produces instant answers for a query. Each inner slice is one
// answerer's output.
type Answerer interface {
	Ask(q domain.SearchQuery) [][]domain.Answer
}

// BangResolver turns an external bang into a redirect URL.
type BangResolver interface {
	Resolve(bang, query string) (string, bool)
}

// Deps are the collaborators of a search.
type Deps struct {
	Processors ProcessorSource
	Answerers  Answerer     // optional
	Bangs      BangResolver // optional
	// MaxRequestTimeout caps the time budget. Zero means no ceiling.
	MaxRequestTimeout time.Duration
	Weights           map[string]float64
	Logger            *slog.Logger
}

// Search is one run of a SearchQuery. A Search is used once.
type Search struct {
	id        string
	query     domain.SearchQuery
	deps      Deps
	container *results.Container
	logger    *slog.Logger

	start         time.Time
	actualTimeout time.Duration
}

// New prepares a search for q.
func New(q domain.SearchQuery, deps Deps) *Search {
	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Search{
		id:        id,
		query:     q,
		deps:      deps,
		container: results.NewContainer(results.WithWeights(deps.Weights)),
		logger:    logger.With("component", "search", "search_id", id),
	}
}

// ID returns the search identifier used in logs and spans.
func (s *Search) ID() string { return s.id }

// Query returns the query being searched.
func (s *Search) Query() domain.SearchQuery { return s.query }

// Results returns the result container as seen by plugins.
func (s *Search) Results() domain.ResultStore { return s.container }

// Container returns the concrete result container.
func (s *Search) Container() *results.Container { return s.container }

// ActualTimeout returns the time budget computed by the standard search, or
// zero when no engine was contacted.
func (s *Search) ActualTimeout() time.Duration { return s.actualTimeout }

// Run executes the search: an external bang redirect, else instant answers,
// else the standard engine fan-out. The container is frozen on return.
func (s *Search) Run(ctx context.Context) *results.Container {
	ctx, span := tracer.StartSpan(ctx, "search.run")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("search.id", s.id),
		tracer.IntAttr("search.engines", len(s.query.EngineRefs)),
	)

	s.run(ctx)
	s.container.Close()

	span.SetAttributes(
		tracer.IntAttr("search.results", len(s.container.OrderedResults())),
		tracer.IntAttr("search.unresponsive", len(s.container.UnresponsiveEngines())),
	)
	tracer.SetOK(span)
	return s.container
}

func (s *Search) run(ctx context.Context) {
	s.start = time.Now()
	if s.searchExternalBang() {
		return
	}
	if s.searchAnswerers() {
		return
	}
	s.searchStandard(ctx)
}

func (s *Search) searchExternalBang() bool {
	if s.query.ExternalBang == "" || s.deps.Bangs == nil {
		return false
	}
	target, ok := s.deps.Bangs.Resolve(s.query.ExternalBang, s.query.Query)
	if !ok {
		return false
	}
	s.container.SetRedirectURL(target)
	s.logger.Debug("external bang", "bang", s.query.ExternalBang, "redirect", target)
	return true
}

func (s *Search) searchAnswerers() bool {
	if s.deps.Answerers == nil {
		return false
	}
	batches := s.deps.Answerers.Ask(s.query)
	if len(batches) == 0 {
		return false
	}
	for _, answers := range batches {
		s.container.Extend(domain.AnswerEngine, domain.Batch{Answers: answers})
	}
	return true
}

type request struct {
	processor domain.Processor
	params    *domain.RequestParams
}

func (s *Search) searchStandard(ctx context.Context) {
	requests, actual := s.getRequests()
	s.actualTimeout = actual
	if len(requests) == 0 {
		return
	}
	s.searchMultipleRequests(ctx, requests)
}

// getRequests selects the engines that will be contacted and computes the
// shared time budget.
func (s *Search) getRequests() ([]request, time.Duration) {
	var (
		requests       []request
		defaultTimeout time.Duration
	)
	for _, ref := range s.query.EngineRefs {
		p, ok := s.deps.Processors.Processor(ref.Name)
		if !ok {
			s.logger.Debug("engine not loaded", "engine", ref.Name)
			continue
		}
		if p.ExtendContainerIfSuspended(s.container) {
			continue
		}
		params, ok := p.GetParams(s.query, ref.Category)
		if !ok {
			continue
		}
		requests = append(requests, request{processor: p, params: params})
		defaultTimeout = max(defaultTimeout, p.Timeout())
	}

	var ceiling *time.Duration
	if s.deps.MaxRequestTimeout > 0 {
		ceiling = &s.deps.MaxRequestTimeout
	}
	actual := ActualTimeout(defaultTimeout, s.query.TimeoutLimit, ceiling)
	s.logger.Debug("time budget",
		"actual_timeout", actual,
		"default_timeout", defaultTimeout,
		"timeout_limit", optionalDuration(s.query.TimeoutLimit),
		"max_request_timeout", optionalDuration(ceiling))
	return requests, actual
}

func optionalDuration(d *time.Duration) slog.Value {
	if d == nil {
		return slog.StringValue("none")
	}
	return slog.DurationValue(*d)
}

// ActualTimeout combines the largest engine timeout, the query's own limit
// and the configured ceiling into the search budget. queryLimit and ceiling
// are nil when absent.
func ActualTimeout(defaultTimeout time.Duration, queryLimit, ceiling *time.Duration) time.Duration {
	switch {
	case queryLimit == nil && ceiling == nil:
		return defaultTimeout
	case queryLimit != nil && ceiling == nil:
		return min(defaultTimeout, *queryLimit)
	case queryLimit == nil && ceiling != nil:
		return min(defaultTimeout, *ceiling)
	default:
		return min(*queryLimit, *ceiling)
	}
}

// searchMultipleRequests runs one worker per engine and waits until all are
// done or start+actualTimeout has passed. Workers still running at the
// deadline are recorded as timed out and abandoned; their HTTP calls are
// cancelled once the container is frozen.
func (s *Search) searchMultipleRequests(ctx context.Context, requests []request) {
	deadline := s.start.Add(s.actualTimeout)
	workCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished = make([]bool, len(requests))
	)
	for i, r := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				finished[i] = true
				mu.Unlock()
			}()
			s.runWorker(workCtx, r)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	for i, r := range requests {
		if finished[i] {
			continue
		}
		name := r.processor.Name()
		s.container.AddUnresponsiveEngine(name, domain.ReasonTimeout)
		s.logger.Warn("engine timeout", "engine", name, "timeout", s.actualTimeout)
	}
	// Late writes from abandoned workers must not reach the result.
	s.container.Close()
}

func (s *Search) runWorker(ctx context.Context, r request) {
	name := r.processor.Name()
	defer func() {
		if rec := recover(); rec != nil {
			s.container.AddUnresponsiveEngine(name, domain.ReasonCrash)
			s.logger.Error("engine crashed",
				"engine", name,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
		}
	}()
	r.processor.Search(ctx, s.query.Query, r.params, s.container, s.start, s.actualTimeout)
}
