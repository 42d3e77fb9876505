package plugin

import (
	"context"

	"metasearch/internal/domain"
)

// Call runs hook on every plugin of ordered that implements it, in order.
// The chain stops at the first plugin returning false, and that false is
// returned. result is only used by the on_result hook.
func Call(ctx context.Context, ordered []domain.SearchPlugin, hook domain.Hook, req *domain.SearchRequest, search domain.SearchContext, result *domain.Result) bool {
	ret := true
	for _, p := range ordered {
		switch hook {
		case domain.HookPreSearch:
			h, ok := p.(domain.PreSearchPlugin)
			if !ok {
				continue
			}
			ret = h.PreSearch(ctx, req, search)
		case domain.HookPostSearch:
			h, ok := p.(domain.PostSearchPlugin)
			if !ok {
				continue
			}
			ret = h.PostSearch(ctx, req, search)
		case domain.HookOnResult:
			h, ok := p.(domain.ResultPlugin)
			if !ok || result == nil {
				continue
			}
			ret = h.OnResult(ctx, req, search, result)
		default:
			continue
		}
		if !ret {
			break
		}
	}
	return ret
}
