package engine

import (
	"context"
	"fmt"
	"net/http"

	"metasearch/internal/adapter/network"
	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

// Engine knows one backend's wire format: it completes the outbound request
// and turns the response into a batch. Engines hold no per-search state.
type Engine interface {
	// Request fills params.URL (and Data for POST) for query.
	Request(query string, params *domain.RequestParams) error
	// Response parses a successful response.
	Response(resp *network.Response) (domain.Batch, error)
}

// Doer sends a request through an engine's network.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*network.Response, error)
	UserAgent() string
}

// Factory builds an Engine from its configuration.
type Factory func(cfg config.EngineConfig) (Engine, error)

var factories = map[string]Factory{
	"json": newJSONEngine,
	"html": newHTMLEngine,
}

// Types lists the registered engine types.
func Types() []string {
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	return out
}

// StatusError is returned for an HTTP error status from an engine.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", domain.ErrHTTPStatus, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return domain.ErrHTTPStatus }

func parseError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrParse, fmt.Sprintf(format, args...))
}
