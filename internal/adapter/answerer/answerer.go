// Package answerer produces instant answers for queries that start with a
// known keyword. A search that gets an answer here contacts no engine.
package answerer

import (
	"fmt"
	"strings"
	"sync"

	"metasearch/internal/domain"
)

// Answerer answers queries whose first word is one of its keywords.
type Answerer interface {
	Keywords() []string
	// Answer returns nothing when the query is not for this answerer.
	Answer(query string) []domain.Answer
	Info() Info
}

// Info describes an answerer for listings.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
}

// Registry dispatches a query to the answerers registered for its first
// word.
type Registry struct {
	mu        sync.RWMutex
	byKeyword map[string][]Answerer
	all       []Answerer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKeyword: make(map[string][]Answerer)}
}

// Default returns a registry with the built-in answerers.
func Default() *Registry {
	r := NewRegistry()
	for _, a := range []Answerer{NewRandom(), NewStatistics()} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a. A keyword already claimed by another answerer is an
// error.
func (r *Registry) Register(a Answerer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kw := range a.Keywords() {
		kw = strings.ToLower(kw)
		if len(r.byKeyword[kw]) > 0 {
			return domain.NewDomainError("Registry.Register", domain.ErrDuplicate,
				fmt.Sprintf("answerer keyword %q", kw))
		}
	}
	for _, kw := range a.Keywords() {
		kw = strings.ToLower(kw)
		r.byKeyword[kw] = append(r.byKeyword[kw], a)
	}
	r.all = append(r.all, a)
	return nil
}

// Ask returns one answer list per answerer that answered q.
func (r *Registry) Ask(q domain.SearchQuery) [][]domain.Answer {
	parts := strings.Fields(q.Query)
	if len(parts) == 0 {
		return nil
	}

	r.mu.RLock()
	candidates := r.byKeyword[strings.ToLower(parts[0])]
	r.mu.RUnlock()

	var out [][]domain.Answer
	for _, a := range candidates {
		if answers := a.Answer(q.Query); len(answers) > 0 {
			out = append(out, answers)
		}
	}
	return out
}

// List describes the registered answerers in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.all))
	for _, a := range r.all {
		out = append(out, a.Info())
	}
	return out
}
