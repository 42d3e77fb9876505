package results

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metasearch/internal/domain"
)

func batchOf(urls ...string) domain.Batch {
	var b domain.Batch
	for _, u := range urls {
		b.Results = append(b.Results, domain.Result{URL: u, Title: u})
	}
	return b
}

func TestContainerMergesByNormalizedURL(t *testing.T) {
	c := NewContainer()
	c.Extend("alpha", domain.Batch{Results: []domain.Result{
		{URL: "http://www.example.org/page/", Title: "Ex", Content: "short"},
	}})
	c.Extend("beta", domain.Batch{Results: []domain.Result{
		{URL: "https://example.org/page", Title: "Example page", Content: "a longer snippet"},
	}})

	got := c.OrderedResults()
	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, "https://example.org/page", r.URL)
	assert.Equal(t, "Example page", r.Title)
	assert.Equal(t, "a longer snippet", r.Content)
	assert.Equal(t, []string{"alpha", "beta"}, r.Engines)
	assert.Equal(t, []int{1, 1}, r.Positions)
	assert.Equal(t, "alpha", r.Engine)
}

func TestContainerOrdering(t *testing.T) {
	c := NewContainer()
	c.Extend("alpha", batchOf("https://a.test/1", "https://a.test/2", "https://shared.test/"))
	c.Extend("beta", batchOf("https://shared.test/", "https://b.test/1"))

	got := c.OrderedResults()
	require.Len(t, got, 4)
	// shared: weight 2, positions 3 and 1 → 2/3 + 2/1
	assert.Equal(t, "https://shared.test/", got[0].URL)
	assert.InDelta(t, 2.0/3+2, got[0].Score, 1e-9)
	assert.Equal(t, "https://a.test/1", got[1].URL)
	// a/2 and b/1 tie at 0.5; insertion order wins
	assert.Equal(t, "https://a.test/2", got[2].URL)
	assert.Equal(t, "https://b.test/1", got[3].URL)
}

func TestContainerWeights(t *testing.T) {
	c := NewContainer(WithWeights(map[string]float64{"heavy": 5, "ignored": -1}))
	c.Extend("light", batchOf("https://light.test/"))
	c.Extend("heavy", batchOf("https://other.test/", "https://heavy.test/"))

	got := c.OrderedResults()
	require.Len(t, got, 3)
	assert.Equal(t, "https://other.test/", got[0].URL)
	assert.Equal(t, "https://heavy.test/", got[1].URL)
	assert.InDelta(t, 2.5, got[1].Score, 1e-9)
}

func TestContainerSuggestionsAndAnswersDeduped(t *testing.T) {
	c := NewContainer()
	c.Extend("alpha", domain.Batch{
		Suggestions: []string{"go lang", "golang", ""},
		Answers:     []domain.Answer{{Answer: "42"}},
	})
	c.Extend("beta", domain.Batch{
		Suggestions: []string{"golang"},
		Answers:     []domain.Answer{{Answer: "42"}, {Answer: "43", Engine: "custom"}},
	})

	assert.Equal(t, []string{"go lang", "golang"}, c.Suggestions())
	assert.Equal(t, []domain.Answer{{Answer: "42", Engine: "alpha"}, {Answer: "43", Engine: "custom"}}, c.Answers())
}

func TestContainerInfoboxesMergeByID(t *testing.T) {
	c := NewContainer()
	c.Extend("alpha", domain.Batch{Infoboxes: []domain.Infobox{
		{ID: "go", Title: "Go", Content: "lang", URLs: []domain.InfoboxURL{{Title: "site", URL: "https://go.dev"}}},
	}})
	c.Extend("beta", domain.Batch{Infoboxes: []domain.Infobox{
		{ID: "go", Title: "Go", Content: "programming language", URLs: []domain.InfoboxURL{{Title: "wiki", URL: "https://w.test/Go"}}},
		{Title: "no id"},
	}})

	got := c.Infoboxes()
	require.Len(t, got, 2)
	assert.Equal(t, "programming language", got[0].Content)
	assert.Len(t, got[0].URLs, 2)
	assert.Equal(t, "alpha", got[0].Engine)
	assert.Equal(t, "beta", got[1].Engine)
}

func TestContainerUnresponsiveFirstReasonWins(t *testing.T) {
	c := NewContainer()
	c.AddUnresponsiveEngine("slow", domain.ReasonTimeout)
	c.AddUnresponsiveEngine("slow", domain.ReasonConnection)
	c.AddUnresponsiveEngine("broken", domain.ReasonParsing)

	assert.Equal(t, []domain.UnresponsiveEngine{
		{Engine: "slow", Reason: domain.ReasonTimeout},
		{Engine: "broken", Reason: domain.ReasonParsing},
	}, c.UnresponsiveEngines())
}

func TestContainerCloseDropsLateWrites(t *testing.T) {
	c := NewContainer()
	c.Extend("alpha", batchOf("https://a.test/"))
	c.Close()
	c.Close()

	c.Extend("late", batchOf("https://late.test/1", "https://late.test/2"))
	c.AddUnresponsiveEngine("late", domain.ReasonCrash)
	c.AddTiming("late", time.Second, time.Second)

	assert.True(t, c.Closed())
	assert.Equal(t, 4, c.Dropped())
	assert.Len(t, c.OrderedResults(), 1)
	assert.Empty(t, c.UnresponsiveEngines())
	assert.Empty(t, c.Timings())
}

func TestContainerFilterAfterClose(t *testing.T) {
	c := NewContainer()
	c.Extend("alpha", batchOf("https://keep.test/", "https://drop.test/", "https://keep.test/2"))
	c.Close()
	require.Len(t, c.OrderedResults(), 3)

	removed := c.Filter(func(r *domain.Result) bool { return r.URL != "https://drop.test/" })
	assert.Equal(t, 1, removed)

	got := c.OrderedResults()
	require.Len(t, got, 2)
	for _, r := range got {
		assert.NotEqual(t, "https://drop.test/", r.URL)
	}
}

func TestContainerRedirectAndNumbers(t *testing.T) {
	c := NewContainer()
	assert.Empty(t, c.RedirectURL())
	c.SetRedirectURL("https://duckduckgo.com/?q=go")
	assert.Equal(t, "https://duckduckgo.com/?q=go", c.RedirectURL())

	assert.Zero(t, c.NumberOfResults())
	c.Extend("a", domain.Batch{NumberOfResults: 100})
	c.Extend("b", domain.Batch{NumberOfResults: 300})
	assert.Equal(t, 200, c.NumberOfResults())
}

func TestContainerConcurrentWritersLoseNothing(t *testing.T) {
	const engines, perEngine = 16, 50
	c := NewContainer()

	var wg sync.WaitGroup
	for e := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("engine%d", e)
			for i := range perEngine {
				c.Extend(name, batchOf(fmt.Sprintf("https://%s.test/%d", name, i)))
				c.Extend(name, domain.Batch{Suggestions: []string{fmt.Sprintf("%s-%d", name, i)}})
			}
			c.AddTiming(name, time.Millisecond, time.Millisecond)
		}()
	}
	wg.Wait()
	c.Close()

	assert.Len(t, c.OrderedResults(), engines*perEngine)
	assert.Len(t, c.Suggestions(), engines*perEngine)
	assert.Len(t, c.Timings(), engines)
	assert.Zero(t, c.Dropped())
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://www.Example.org/a/": "example.org/a",
		"http://example.org/a":       "example.org/a",
		"https://example.org/a?x=1":  "example.org/a?x=1",
		"https://example.org":        "example.org",
		"not a url":                  "not a url",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeURL(in), in)
	}
}
