package plugin

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"metasearch/internal/domain"
)

// Info describes a loaded plugin.
type Info struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Hooks       []string `json:"hooks"`
}

type loaded struct {
	plugin   domain.SearchPlugin
	priority int
	seq      int
}

// Manager holds the search plugins of the process and hands them out in
// call order: ascending priority, then load order.
type Manager struct {
	mu      sync.RWMutex
	plugins map[string]loaded
	seq     int
	logger  *slog.Logger
}

// NewManager creates an empty plugin manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		plugins: make(map[string]loaded),
		logger:  logger,
	}
}

// Load registers p. Plugins with a lower priority run first.
func (m *Manager) Load(p domain.SearchPlugin, priority int) error {
	id := p.ID()
	if id == "" {
		return fmt.Errorf("%w: plugin without id", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	if _, exists := m.plugins[id]; exists {
		m.mu.Unlock()
		return domain.NewSubSystemError("plugin", "Manager.Load", domain.ErrDuplicate, id)
	}
	m.seq++
	m.plugins[id] = loaded{plugin: p, priority: priority, seq: m.seq}
	m.mu.Unlock()

	m.logger.Info("plugin loaded", "id", id, "priority", priority, "hooks", hooksOf(p))
	return nil
}

// Unload removes a plugin.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	if _, ok := m.plugins[id]; !ok {
		m.mu.Unlock()
		return domain.NewSubSystemError("plugin", "Manager.Unload", domain.ErrNotFound, id)
	}
	delete(m.plugins, id)
	m.mu.Unlock()

	m.logger.Info("plugin unloaded", "id", id)
	return nil
}

// Ordered returns the plugins in call order.
func (m *Manager) Ordered() []domain.SearchPlugin {
	entries := m.sorted()
	out := make([]domain.SearchPlugin, len(entries))
	for i, e := range entries {
		out[i] = e.plugin
	}
	return out
}

// List describes the loaded plugins in call order.
func (m *Manager) List() []Info {
	entries := m.sorted()
	out := make([]Info, len(entries))
	for i, e := range entries {
		out[i] = Info{
			ID:          e.plugin.ID(),
			Description: e.plugin.Description(),
			Priority:    e.priority,
			Hooks:       hooksOf(e.plugin),
		}
	}
	return out
}

func (m *Manager) sorted() []loaded {
	m.mu.RLock()
	entries := make([]loaded, 0, len(m.plugins))
	for _, e := range m.plugins {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(entries, func(a, b loaded) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	return entries
}

func hooksOf(p domain.SearchPlugin) []string {
	var hooks []string
	if _, ok := p.(domain.PreSearchPlugin); ok {
		hooks = append(hooks, string(domain.HookPreSearch))
	}
	if _, ok := p.(domain.PostSearchPlugin); ok {
		hooks = append(hooks, string(domain.HookPostSearch))
	}
	if _, ok := p.(domain.ResultPlugin); ok {
		hooks = append(hooks, string(domain.HookOnResult))
	}
	return hooks
}
