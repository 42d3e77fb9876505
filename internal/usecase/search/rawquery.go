package search

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"metasearch/internal/domain"
)

// EngineCatalog resolves engine and category selectors of a query.
type EngineCatalog interface {
	// Lookup resolves an engine name or shortcut to the engine name and its
	// categories.
	Lookup(nameOrShortcut string) (name string, categories []string, ok bool)
	// CategoryEngines lists the enabled engines of a category.
	CategoryEngines(category string) []string
}

// QueryOptions are the query parameters given next to the raw query text.
type QueryOptions struct {
	Categories      []string
	Engines         []string
	Lang            string
	PageNo          int
	SafeSearch      int
	TimeRange       string
	TimeoutLimit    *time.Duration
	DefaultCategory string
}

// MaxTimeoutLimit bounds the timeout limit a query may ask for.
const MaxTimeoutLimit = time.Hour

var (
	langPattern    = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,4})?$`)
	timeoutPattern = regexp.MustCompile(`^<([0-9]{1,9})$`)
)

// parsedQuery is what the leading modifiers of a raw query select.
type parsedQuery struct {
	query        string
	refs         []domain.EngineRef
	lang         string
	timeoutLimit *time.Duration
	externalBang string
}

// parseRawQuery consumes the leading modifiers of raw:
//
//	<N       timeout limit, N seconds when below 100, milliseconds otherwise
//	!!bang   external bang
//	!name    engine name, shortcut or category (underscores for spaces)
//	:lang    search language
//
// The first token that is not a modifier starts the query text.
func parseRawQuery(raw string, catalog EngineCatalog) parsedQuery {
	var p parsedQuery
	parts := strings.Fields(raw)
	i := 0
	for ; i < len(parts); i++ {
		if !p.consume(parts[i], catalog) {
			break
		}
	}
	p.query = strings.Join(parts[i:], " ")
	return p
}

func (p *parsedQuery) consume(token string, catalog EngineCatalog) bool {
	if m := timeoutPattern.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return false
		}
		var d time.Duration
		if n < 100 {
			d = time.Duration(n) * time.Second
		} else {
			d = time.Duration(n) * time.Millisecond
		}
		p.timeoutLimit = &d
		return true
	}

	if bang, ok := strings.CutPrefix(token, "!!"); ok {
		if bang == "" {
			return false
		}
		p.externalBang = strings.ToLower(bang)
		return true
	}

	if sel, ok := strings.CutPrefix(token, "!"); ok && sel != "" && catalog != nil {
		sel = strings.ToLower(sel)
		if name, categories, ok := catalog.Lookup(sel); ok {
			p.refs = append(p.refs, domain.EngineRef{Name: name, Category: firstOr(categories, "general")})
			return true
		}
		category := strings.ReplaceAll(sel, "_", " ")
		if engines := catalog.CategoryEngines(category); len(engines) > 0 {
			for _, name := range engines {
				p.refs = append(p.refs, domain.EngineRef{Name: name, Category: category})
			}
			return true
		}
		return false
	}

	if lang, ok := strings.CutPrefix(token, ":"); ok && (lang == "all" || langPattern.MatchString(lang)) {
		p.lang = lang
		return true
	}
	return false
}

// ParseQuery builds the SearchQuery of raw. Engines selected in the raw
// query win over opts.Engines and opts.Categories; with no selection at
// all the engines of opts.DefaultCategory are used.
func ParseQuery(raw string, opts QueryOptions, catalog EngineCatalog) (domain.SearchQuery, error) {
	p := parseRawQuery(raw, catalog)
	if p.query == "" {
		return domain.SearchQuery{}, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if opts.PageNo < 1 {
		opts.PageNo = 1
	}
	if opts.SafeSearch < 0 || opts.SafeSearch > 2 {
		return domain.SearchQuery{}, fmt.Errorf("%w: safesearch must be 0, 1 or 2", domain.ErrInvalidInput)
	}
	switch opts.TimeRange {
	case "", "day", "week", "month", "year":
	default:
		return domain.SearchQuery{}, fmt.Errorf("%w: unknown time range %q", domain.ErrInvalidInput, opts.TimeRange)
	}

	q := domain.SearchQuery{
		Query:        p.query,
		Lang:         opts.Lang,
		PageNo:       opts.PageNo,
		SafeSearch:   opts.SafeSearch,
		TimeRange:    opts.TimeRange,
		TimeoutLimit: opts.TimeoutLimit,
		ExternalBang: p.externalBang,
	}
	if p.lang != "" {
		q.Lang = p.lang
	}
	if p.timeoutLimit != nil {
		q.TimeoutLimit = p.timeoutLimit
	}
	if l := q.TimeoutLimit; l != nil && (*l <= 0 || *l > MaxTimeoutLimit) {
		return domain.SearchQuery{}, fmt.Errorf("%w: timeout limit must be in (0, %s]", domain.ErrInvalidInput, MaxTimeoutLimit)
	}

	refs := p.refs
	if len(refs) == 0 {
		refs = selectEngines(opts, catalog)
	}
	q.EngineRefs = dedupeRefs(refs)
	return q, nil
}

func selectEngines(opts QueryOptions, catalog EngineCatalog) []domain.EngineRef {
	if catalog == nil {
		return nil
	}
	var refs []domain.EngineRef
	for _, e := range opts.Engines {
		name, categories, ok := catalog.Lookup(strings.ToLower(e))
		if !ok {
			continue
		}
		category := firstOr(categories, "general")
		for _, c := range opts.Categories {
			if slices.Contains(categories, c) {
				category = c
				break
			}
		}
		refs = append(refs, domain.EngineRef{Name: name, Category: category})
	}
	for _, c := range opts.Categories {
		for _, name := range catalog.CategoryEngines(c) {
			refs = append(refs, domain.EngineRef{Name: name, Category: c})
		}
	}
	if len(refs) == 0 && opts.DefaultCategory != "" {
		for _, name := range catalog.CategoryEngines(opts.DefaultCategory) {
			refs = append(refs, domain.EngineRef{Name: name, Category: opts.DefaultCategory})
		}
	}
	return refs
}

// dedupeRefs keeps the first reference of every engine.
func dedupeRefs(refs []domain.EngineRef) []domain.EngineRef {
	seen := make(map[string]struct{}, len(refs))
	out := refs[:0:0]
	for _, r := range refs {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r)
	}
	return out
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}
