package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

// Deps are the collaborators Load needs.
type Deps struct {
	// Network returns the client an engine sends its requests through.
	Network        func(engine string) Doer
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Info is a listing entry for one engine.
type Info struct {
	Name       string
	Type       string
	Shortcut   string
	Categories []string
	Timeout    time.Duration
	Weight     float64
	Suspended  bool
}

// Registry holds the processors of every enabled engine.
type Registry struct {
	processors map[string]*OnlineProcessor
	order      []string
	shortcuts  map[string]string
	categories map[string][]string
}

// Load builds one processor per enabled engine. An unknown type or a
// broken engine configuration fails the whole load.
func Load(configs []config.EngineConfig, deps Deps) (*Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	r := &Registry{
		processors: make(map[string]*OnlineProcessor, len(configs)),
		shortcuts:  make(map[string]string),
		categories: make(map[string][]string),
	}
	for _, cfg := range configs {
		if cfg.Disabled {
			logger.Debug("engine disabled", "engine", cfg.Name)
			continue
		}
		factory, ok := factories[cfg.Type]
		if !ok {
			return nil, domain.NewSubSystemError("engine", "engine.Load", domain.ErrInvalidInput,
				fmt.Sprintf("engine %s: unknown type %q", cfg.Name, cfg.Type))
		}
		eng, err := factory(cfg)
		if err != nil {
			return nil, domain.NewSubSystemError("engine", "engine.Load", domain.ErrInvalidInput,
				fmt.Sprintf("engine %s: %v", cfg.Name, err))
		}

		client := deps.Network(cfg.Name)
		name := strings.ToLower(cfg.Name)
		cfg.Name = name
		if len(cfg.Categories) == 0 {
			cfg.Categories = []string{"general"}
		}
		r.processors[name] = NewOnlineProcessor(cfg, eng, client, deps.DefaultTimeout, logger)
		r.order = append(r.order, name)
		if cfg.Shortcut != "" {
			r.shortcuts[strings.ToLower(cfg.Shortcut)] = name
		}
		for _, cat := range cfg.Categories {
			cat = strings.ToLower(cat)
			r.categories[cat] = append(r.categories[cat], name)
		}
	}
	logger.Info("engines loaded", "count", len(r.order))
	return r, nil
}

// Processor returns the processor of the engine called name.
func (r *Registry) Processor(name string) (domain.Processor, bool) {
	p, ok := r.processors[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return p, true
}

// Get returns the concrete processor of an engine.
func (r *Registry) Get(name string) (*OnlineProcessor, error) {
	p, ok := r.processors[strings.ToLower(name)]
	if !ok {
		return nil, domain.NewSubSystemError("engine", "Registry.Get", domain.ErrNotFound, name)
	}
	return p, nil
}

// Lookup resolves an engine name or shortcut.
func (r *Registry) Lookup(s string) (string, []string, bool) {
	s = strings.ToLower(s)
	if name, ok := r.shortcuts[s]; ok {
		s = name
	}
	p, ok := r.processors[s]
	if !ok {
		return "", nil, false
	}
	return s, lowered(p.cfg.Categories), true
}

// CategoryEngines lists the engines of category in configuration order.
func (r *Registry) CategoryEngines(category string) []string {
	return slices.Clone(r.categories[strings.ToLower(category)])
}

// Categories lists every known category, sorted.
func (r *Registry) Categories() []string {
	out := make([]string, 0, len(r.categories))
	for c := range r.categories {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Names lists the loaded engines in configuration order.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// Weights returns the configured weight of every engine that sets one.
func (r *Registry) Weights() map[string]float64 {
	out := make(map[string]float64)
	for name, p := range r.processors {
		if p.cfg.Weight > 0 {
			out[name] = p.cfg.Weight
		}
	}
	return out
}

// List describes the loaded engines in configuration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		p := r.processors[name]
		out = append(out, Info{
			Name:       name,
			Type:       p.cfg.Type,
			Shortcut:   p.cfg.Shortcut,
			Categories: lowered(p.cfg.Categories),
			Timeout:    p.timeout,
			Weight:     p.cfg.Weight,
			Suspended:  p.Suspended(),
		})
	}
	return out
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
