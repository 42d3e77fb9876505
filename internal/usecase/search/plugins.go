package search

import (
	"context"

	"metasearch/internal/domain"
	"metasearch/internal/plugin"
	"metasearch/internal/usecase/results"
)

// WithPlugins is a Search that runs the plugin hooks around the search.
type WithPlugins struct {
	*Search
	plugins []domain.SearchPlugin
	request *domain.SearchRequest
}

// NewWithPlugins prepares a search whose hooks run over plugins, in order.
func NewWithPlugins(q domain.SearchQuery, deps Deps, plugins []domain.SearchPlugin, req *domain.SearchRequest) *WithPlugins {
	if req == nil {
		req = &domain.SearchRequest{}
	}
	return &WithPlugins{
		Search:  New(q, deps),
		plugins: plugins,
		request: req,
	}
}

// Run calls pre_search, runs the search unless a plugin vetoed it, then calls
// post_search and on_result for every ordered result.
func (s *WithPlugins) Run(ctx context.Context) *results.Container {
	if plugin.Call(ctx, s.plugins, domain.HookPreSearch, s.request, s, nil) {
		s.Search.Run(ctx)
	} else {
		s.logger.Debug("search vetoed by plugin")
		s.container.Close()
	}

	plugin.Call(ctx, s.plugins, domain.HookPostSearch, s.request, s, nil)

	for _, r := range s.container.OrderedResults() {
		plugin.Call(ctx, s.plugins, domain.HookOnResult, s.request, s, r)
	}
	return s.container
}

var _ domain.SearchContext = (*WithPlugins)(nil)
