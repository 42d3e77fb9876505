// Package results aggregates the output of concurrently running engines.
package results

import (
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"metasearch/internal/domain"
)

// Timing is the measured duration of one engine request.
type Timing struct {
	Engine string        `json:"engine"`
	Total  time.Duration `json:"total"`
	Load   time.Duration `json:"load"`
}

// Option configures a Container.
type Option func(*Container)

// WithWeights sets per-engine score weights. Engines not listed weigh 1.
func WithWeights(weights map[string]float64) Option {
	return func(c *Container) {
		for name, w := range weights {
			if w > 0 {
				c.weights[name] = w
			}
		}
	}
}

// Container is the concurrent aggregate of one search. Engines write into
// it while the search runs; Close freezes it and the ordered view is read
// afterwards. All methods are safe for concurrent use.
type Container struct {
	mu sync.Mutex

	weights map[string]float64

	byURL        map[string]*domain.Result
	order        []*domain.Result // insertion order, merged entries kept once
	suggestions  []string
	seenSuggest  map[string]struct{}
	answers      []domain.Answer
	seenAnswer   map[string]struct{}
	infoboxes    []domain.Infobox
	corrections  []string
	numResults   []int
	unresponsive []domain.UnresponsiveEngine
	timings      []Timing
	redirectURL  string

	closed  bool
	dropped int
	ordered []*domain.Result // cached ordered view, reset by writes
}

// NewContainer returns an empty container.
func NewContainer(opts ...Option) *Container {
	c := &Container{
		weights:     make(map[string]float64),
		byURL:       make(map[string]*domain.Result),
		seenSuggest: make(map[string]struct{}),
		seenAnswer:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extend adds one engine's batch. Results with the same normalized URL are
// merged: the merged entry keeps the longest content, collects every engine
// and every position.
func (c *Container) Extend(engine string, batch domain.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped += batch.Len()
		return
	}
	c.ordered = nil

	for i, r := range batch.Results {
		c.addResult(engine, i+1, r)
	}
	for _, s := range batch.Suggestions {
		if _, ok := c.seenSuggest[s]; ok || s == "" {
			continue
		}
		c.seenSuggest[s] = struct{}{}
		c.suggestions = append(c.suggestions, s)
	}
	for _, a := range batch.Answers {
		if _, ok := c.seenAnswer[a.Answer]; ok {
			continue
		}
		c.seenAnswer[a.Answer] = struct{}{}
		if a.Engine == "" {
			a.Engine = engine
		}
		c.answers = append(c.answers, a)
	}
	for _, ib := range batch.Infoboxes {
		if ib.Engine == "" {
			ib.Engine = engine
		}
		c.infoboxes = append(c.infoboxes, ib)
	}
	c.corrections = append(c.corrections, batch.Corrections...)
	if batch.NumberOfResults > 0 {
		c.numResults = append(c.numResults, batch.NumberOfResults)
	}
}

func (c *Container) addResult(engine string, position int, r domain.Result) {
	if r.URL == "" {
		return
	}
	key := normalizeURL(r.URL)
	if existing, ok := c.byURL[key]; ok {
		if !slices.Contains(existing.Engines, engine) {
			existing.Engines = append(existing.Engines, engine)
		}
		existing.Positions = append(existing.Positions, position)
		if len(r.Content) > len(existing.Content) {
			existing.Content = r.Content
		}
		if len(r.Title) > len(existing.Title) {
			existing.Title = r.Title
		}
		if existing.Thumbnail == "" {
			existing.Thumbnail = r.Thumbnail
		}
		if existing.PublishedDate == nil {
			existing.PublishedDate = r.PublishedDate
		}
		// Prefer the https variant of a merged URL.
		if strings.HasPrefix(r.URL, "https://") && !strings.HasPrefix(existing.URL, "https://") {
			existing.URL = r.URL
		}
		return
	}

	res := r
	res.Engine = engine
	res.Engines = []string{engine}
	res.Positions = []int{position}
	c.byURL[key] = &res
	c.order = append(c.order, &res)
}

// AddUnresponsiveEngine records that engine produced nothing. Only the first
// reason per engine is kept.
func (c *Container) AddUnresponsiveEngine(engine, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped++
		return
	}
	for _, u := range c.unresponsive {
		if u.Engine == engine {
			return
		}
	}
	c.unresponsive = append(c.unresponsive, domain.UnresponsiveEngine{Engine: engine, Reason: reason})
}

// AddTiming records how long an engine request took.
func (c *Container) AddTiming(engine string, total, load time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped++
		return
	}
	c.timings = append(c.timings, Timing{Engine: engine, Total: total, Load: load})
}

// SetRedirectURL marks the search as answered by a redirect.
func (c *Container) SetRedirectURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirectURL = u
}

// RedirectURL returns the redirect set by a bang, or "".
func (c *Container) RedirectURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirectURL
}

// Close freezes the container. Engine writes arriving afterwards are
// discarded and counted. Close is idempotent.
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether Close was called.
func (c *Container) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dropped returns the number of writes discarded after Close.
func (c *Container) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// OrderedResults returns the merged results by descending score; ties keep
// insertion order. The returned pointers are shared with the container so
// result plugins can modify them in place.
func (c *Container) OrderedResults() []*domain.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ordered == nil {
		c.ordered = c.sorted()
	}
	return slices.Clone(c.ordered)
}

func (c *Container) sorted() []*domain.Result {
	out := slices.Clone(c.order)
	for _, r := range out {
		r.Score = c.score(r)
	}
	slices.SortStableFunc(out, func(a, b *domain.Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

// score sums weight/position over every position the result was seen at.
// The weight is the product of the contributing engines' weights times the
// number of engines.
func (c *Container) score(r *domain.Result) float64 {
	weight := 1.0
	for _, e := range r.Engines {
		if w, ok := c.weights[e]; ok {
			weight *= w
		}
	}
	weight *= float64(len(r.Engines))

	var s float64
	for _, p := range r.Positions {
		s += weight / float64(p)
	}
	return s
}

// Filter removes results for which keep returns false and reports how many
// were removed. It is allowed after Close.
func (c *Container) Filter(keep func(*domain.Result) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	kept := c.order[:0]
	for _, r := range c.order {
		if keep(r) {
			kept = append(kept, r)
			continue
		}
		delete(c.byURL, normalizeURL(r.URL))
		removed++
	}
	clear(c.order[len(kept):])
	c.order = kept
	c.ordered = nil
	return removed
}

// Answers returns the collected answers.
func (c *Container) Answers() []domain.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.answers)
}

// Suggestions returns the distinct suggestions in arrival order.
func (c *Container) Suggestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.suggestions)
}

// Infoboxes returns the collected infoboxes. Infoboxes sharing an ID are
// merged into the first one.
func (c *Container) Infoboxes() []domain.Infobox {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Infobox
	index := make(map[string]int)
	for _, ib := range c.infoboxes {
		if ib.ID != "" {
			if i, ok := index[ib.ID]; ok {
				if len(ib.Content) > len(out[i].Content) {
					out[i].Content = ib.Content
				}
				out[i].URLs = append(out[i].URLs, ib.URLs...)
				continue
			}
			index[ib.ID] = len(out)
		}
		out = append(out, ib)
	}
	return out
}

// Corrections returns the collected spelling corrections.
func (c *Container) Corrections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.corrections)
}

// NumberOfResults returns the average of the engine-reported totals, or 0.
func (c *Container) NumberOfResults() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.numResults) == 0 {
		return 0
	}
	sum := 0
	for _, n := range c.numResults {
		sum += n
	}
	return sum / len(c.numResults)
}

// UnresponsiveEngines returns the engines that produced nothing.
func (c *Container) UnresponsiveEngines() []domain.UnresponsiveEngine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.unresponsive)
}

// Timings returns the recorded engine timings.
func (c *Container) Timings() []Timing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.timings)
}

// normalizeURL builds the merge key of a result URL: scheme and a leading
// "www." are ignored, the host is lower-cased and a trailing slash dropped.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

var _ domain.ResultStore = (*Container)(nil)
