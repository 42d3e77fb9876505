package domain

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// AnswerEngine is the engine name under which answerer output is stored.
const AnswerEngine = "answer"

// EngineRef selects one engine for one category.
type EngineRef struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// SearchQuery is the immutable input of one search.
type SearchQuery struct {
	Query        string
	EngineRefs   []EngineRef
	Lang         string
	SafeSearch   int
	PageNo       int
	TimeRange    string
	TimeoutLimit *time.Duration // user supplied cap, nil when absent
	ExternalBang string
}

// Categories returns the distinct categories of the selected engines in
// selection order.
func (q SearchQuery) Categories() []string {
	seen := make(map[string]struct{}, len(q.EngineRefs))
	var out []string
	for _, ref := range q.EngineRefs {
		if _, ok := seen[ref.Category]; ok {
			continue
		}
		seen[ref.Category] = struct{}{}
		out = append(out, ref.Category)
	}
	return out
}

// RequestParams describes the outbound HTTP request of one engine. A
// processor fills the defaults, the engine completes URL and body.
type RequestParams struct {
	Method         string
	URL            string
	Headers        http.Header
	Data           url.Values
	Cookies        map[string]string
	Category       string
	PageNo         int
	SafeSearch     int
	Language       string
	TimeRange      string
	Timeout        time.Duration
	AllowRedirects bool
}

// Result is one merged search hit.
type Result struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Content       string     `json:"content,omitempty"`
	Engine        string     `json:"engine"`
	Engines       []string   `json:"engines"`
	Category      string     `json:"category,omitempty"`
	Thumbnail     string     `json:"thumbnail,omitempty"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	Positions     []int      `json:"positions"`
	Score         float64    `json:"score"`
}

// Answer is a direct answer shown above the results.
type Answer struct {
	Answer string `json:"answer"`
	URL    string `json:"url,omitempty"`
	Engine string `json:"engine"`
}

// InfoboxURL is a labelled link inside an infobox.
type InfoboxURL struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Infobox is a summary card about the query subject.
type Infobox struct {
	ID      string       `json:"id,omitempty"`
	Title   string       `json:"infobox"`
	Content string       `json:"content,omitempty"`
	ImgSrc  string       `json:"img_src,omitempty"`
	URLs    []InfoboxURL `json:"urls,omitempty"`
	Engine  string       `json:"engine"`
}

// Batch is everything one engine produced for one request.
type Batch struct {
	Results         []Result
	Suggestions     []string
	Answers         []Answer
	Infoboxes       []Infobox
	Corrections     []string
	NumberOfResults int
}

// Len reports the number of items in the batch.
func (b Batch) Len() int {
	return len(b.Results) + len(b.Suggestions) + len(b.Answers) + len(b.Infoboxes) + len(b.Corrections)
}

// UnresponsiveEngine records why an engine contributed nothing.
type UnresponsiveEngine struct {
	Engine string `json:"engine"`
	Reason string `json:"reason"`
}

// Unresponsive engine reasons.
const (
	ReasonTimeout         = "timeout"
	ReasonSuspended       = "suspended"
	ReasonConnection      = "connection error"
	ReasonProxy           = "proxy error"
	ReasonProtocol        = "protocol error"
	ReasonHTTP            = "HTTP error"
	ReasonTooManyRequests = "too many requests"
	ReasonAccessDenied    = "access denied"
	ReasonParsing         = "parsing error"
	ReasonCrash           = "unexpected crash"
)

// ResultSink is the write side of a result container. All methods are safe
// for concurrent use.
type ResultSink interface {
	Extend(engine string, batch Batch)
	AddUnresponsiveEngine(engine, reason string)
	AddTiming(engine string, total, load time.Duration)
	SetRedirectURL(u string)
	RedirectURL() string
}

// ResultStore is a ResultSink that also exposes the merged view.
type ResultStore interface {
	ResultSink
	OrderedResults() []*Result
	Answers() []Answer
	// Filter removes every ordered result for which keep returns false and
	// reports how many were removed.
	Filter(keep func(*Result) bool) int
}

// Processor runs one engine. Implementations must honor the deadline
// start+timeout on their own; the orchestrator never interrupts them.
type Processor interface {
	Name() string
	Timeout() time.Duration
	// GetParams returns the request defaults for q, or false when the engine
	// cannot serve q (unsupported page, time range, ...).
	GetParams(q SearchQuery, category string) (*RequestParams, bool)
	Search(ctx context.Context, query string, params *RequestParams, sink ResultSink, start time.Time, timeout time.Duration)
	// ExtendContainerIfSuspended records the engine as suspended and returns
	// true when it must not be queried.
	ExtendContainerIfSuspended(sink ResultSink) bool
}
