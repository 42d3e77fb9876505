// Package bang resolves external bangs (!!g, !!w, ...) to redirect URLs.
package bang

import (
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Placeholder is replaced by the escaped query in a bang template.
const Placeholder = "{query}"

// builtin is the default bang table. Configured bangs override entries of
// the same name.
var builtin = map[string]string{
	"g":     "https://www.google.com/search?q={query}",
	"ddg":   "https://duckduckgo.com/?q={query}",
	"b":     "https://www.bing.com/search?q={query}",
	"w":     "https://en.wikipedia.org/wiki/Special:Search?search={query}",
	"wd":    "https://www.wikidata.org/w/index.php?search={query}",
	"gh":    "https://github.com/search?q={query}",
	"so":    "https://stackoverflow.com/search?q={query}",
	"yt":    "https://www.youtube.com/results?search_query={query}",
	"osm":   "https://www.openstreetmap.org/search?query={query}",
	"arxiv": "https://arxiv.org/search/?query={query}&searchtype=all",
	"pkg":   "https://pkg.go.dev/search?q={query}",
	"mdn":   "https://developer.mozilla.org/en-US/search?q={query}",
}

// Table maps bang names to URL templates.
type Table struct {
	templates map[string]string
}

// New returns the built-in table merged with extra.
func New(extra map[string]string) *Table {
	t := &Table{templates: make(map[string]string, len(builtin)+len(extra))}
	for name, tmpl := range builtin {
		t.templates[name] = tmpl
	}
	for name, tmpl := range extra {
		t.templates[strings.ToLower(strings.TrimPrefix(name, "!!"))] = tmpl
	}
	return t
}

// Resolve returns the redirect URL for bang and query.
func (t *Table) Resolve(bang, query string) (string, bool) {
	tmpl, ok := t.templates[strings.ToLower(strings.TrimPrefix(bang, "!!"))]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(tmpl, Placeholder, url.QueryEscape(query)), true
}

// Names lists the known bangs, sorted.
func (t *Table) Names() []string {
	return slices.Sorted(maps.Keys(t.templates))
}
