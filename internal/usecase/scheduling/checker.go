package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"metasearch/internal/domain"
)

// defaultCheckConcurrency caps how many engines are checked at once.
const defaultCheckConcurrency = 4

// Checkable is an engine the checker can test.
type Checkable interface {
	Name() string
	// Check runs query directly against the engine, bypassing plugins and
	// the result container, and reports the number of results.
	Check(ctx context.Context, query string) (int, error)
}

// CheckResult is the outcome of one engine check.
type CheckResult struct {
	Engine    string           `json:"engine"`
	OK        bool             `json:"ok"`
	Results   int              `json:"results"`
	Error     string           `json:"error,omitempty"`
	Code      domain.ErrorCode `json:"code,omitempty"`
	Duration  time.Duration    `json:"duration"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Checker queries every engine with a canned query and keeps the latest
// outcome per engine.
type Checker struct {
	targets     []Checkable
	query       string
	concurrency int
	logger      *slog.Logger

	mu   sync.RWMutex
	last map[string]CheckResult
}

// NewChecker creates a checker for targets.
func NewChecker(targets []Checkable, query string, logger *slog.Logger) *Checker {
	return &Checker{
		targets:     targets,
		query:       query,
		concurrency: defaultCheckConcurrency,
		logger:      logger.With("component", "checker"),
		last:        make(map[string]CheckResult, len(targets)),
	}
}

// Run checks every engine once and returns the outcomes sorted by engine
// name. An engine without results counts as failed.
func (c *Checker) Run(ctx context.Context) []CheckResult {
	out := make([]CheckResult, len(c.targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, target := range c.targets {
		g.Go(func() error {
			out[i] = c.check(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(out, byEngine)

	c.mu.Lock()
	for _, r := range out {
		c.last[r.Engine] = r
	}
	c.mu.Unlock()
	return out
}

func (c *Checker) check(ctx context.Context, target Checkable) CheckResult {
	start := time.Now()
	n, err := target.Check(ctx, c.query)
	res := CheckResult{
		Engine:    target.Name(),
		Results:   n,
		Duration:  time.Since(start),
		CheckedAt: start,
	}
	switch {
	case err != nil:
		res.Error = err.Error()
		res.Code = domain.ErrorCodeOf(err)
		c.logger.Warn("engine check failed", "engine", res.Engine, "code", res.Code, "error", err)
	case n == 0:
		res.Error = "no results"
		c.logger.Warn("engine check failed", "engine", res.Engine, "error", res.Error)
	default:
		res.OK = true
		c.logger.Debug("engine check passed", "engine", res.Engine, "results", n, "duration", res.Duration)
	}
	return res
}

// Action adapts Run to a scheduled action. It fails when any engine fails.
func (c *Checker) Action(ctx context.Context) error {
	results := c.Run(ctx)
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("engine check: %d of %d engines failed", failed, len(results))
	}
	return nil
}

// Last returns the most recent outcome per engine, sorted by name.
func (c *Checker) Last() []CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CheckResult, 0, len(c.last))
	for _, r := range c.last {
		out = append(out, r)
	}
	slices.SortFunc(out, byEngine)
	return out
}

func byEngine(a, b CheckResult) int { return strings.Compare(a.Engine, b.Engine) }
