package domain

import "context"

// Hook names a plugin extension point of a search.
type Hook string

const (
	HookPreSearch  Hook = "pre_search"
	HookPostSearch Hook = "post_search"
	HookOnResult   Hook = "on_result"
)

// SearchRequest carries the caller context a plugin may inspect.
type SearchRequest struct {
	RemoteAddr  string
	UserAgent   string
	Preferences map[string]string
}

// SearchContext is the view of a running search handed to plugins.
type SearchContext interface {
	Query() SearchQuery
	Results() ResultStore
}

// SearchPlugin is the base interface of every plugin. A plugin takes part
// in a hook by also implementing the matching hook interface.
type SearchPlugin interface {
	ID() string
	Description() string
}

// PreSearchPlugin runs before any engine is contacted. Returning false
// skips the search itself.
type PreSearchPlugin interface {
	PreSearch(ctx context.Context, req *SearchRequest, search SearchContext) bool
}

// PostSearchPlugin runs after the join step.
type PostSearchPlugin interface {
	PostSearch(ctx context.Context, req *SearchRequest, search SearchContext) bool
}

// ResultPlugin runs once per ordered result and may modify it in place.
type ResultPlugin interface {
	OnResult(ctx context.Context, req *SearchRequest, search SearchContext, result *Result) bool
}
