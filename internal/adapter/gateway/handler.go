package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"metasearch/internal/adapter/engine"
	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
	"metasearch/internal/infra/middleware"
	"metasearch/internal/plugin"
	"metasearch/internal/usecase/results"
	"metasearch/internal/usecase/scheduling"
	"metasearch/internal/usecase/search"
)

// EngineDirectory is the engine registry as seen by the API.
type EngineDirectory interface {
	search.ProcessorSource
	search.EngineCatalog
	List() []engine.Info
}

// PluginSource lists the loaded plugins in hook order.
type PluginSource interface {
	Ordered() []domain.SearchPlugin
	List() []plugin.Info
}

// CheckReporter exposes the latest engine check outcomes.
type CheckReporter interface {
	Last() []scheduling.CheckResult
}

// TaskReporter exposes the state of the background tasks.
type TaskReporter interface {
	Status() []scheduling.TaskStatus
	StatusOf(name string) (scheduling.TaskStatus, bool)
}

// HandlerDeps holds the collaborators of the API handlers.
type HandlerDeps struct {
	Engines   EngineDirectory
	Plugins   PluginSource        // optional
	Answerers search.Answerer     // optional
	Bangs     search.BangResolver // optional
	Checker   CheckReporter       // optional
	Tasks     TaskReporter        // optional

	Search            config.SearchConfig
	MaxRequestTimeout time.Duration
	Weights           map[string]float64
	TrustedProxies    []string
	Metrics           *Metrics
	Logger            *slog.Logger
}

// Handler serves the search API.
type Handler struct {
	deps      HandlerDeps
	trusted   []netip.Prefix
	metrics   *Metrics
	startTime time.Time
	logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(deps HandlerDeps) *Handler {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Handler{
		deps:      deps,
		trusted:   middleware.ParseTrustedProxies(deps.TrustedProxies),
		metrics:   metrics,
		startTime: time.Now(),
		logger:    deps.Logger,
	}
}

// Mux returns a mux with every API route registered.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", h.handleSearch)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/engines", h.handleEngines)
	mux.HandleFunc("/plugins", h.handlePlugins)
	mux.HandleFunc("/checker", h.handleChecker)
	mux.HandleFunc("/tasks", h.handleTasks)
	mux.HandleFunc("/metrics", h.handleMetrics)
	return mux
}

// SearchResponse is the JSON body of GET /search.
type SearchResponse struct {
	Query               string                      `json:"query"`
	NumberOfResults     int                         `json:"number_of_results"`
	Results             []*domain.Result            `json:"results"`
	Answers             []domain.Answer             `json:"answers"`
	Corrections         []string                    `json:"corrections"`
	Infoboxes           []domain.Infobox            `json:"infoboxes"`
	Suggestions         []string                    `json:"suggestions"`
	UnresponsiveEngines []domain.UnresponsiveEngine `json:"unresponsive_engines"`
	RedirectURL         string                      `json:"redirect_url,omitempty"`
	Timeout             float64                     `json:"timeout"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code,omitempty"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := h.parseSearch(r)
	if err != nil {
		h.metrics.SearchErrorsTotal.Add(1)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := &domain.SearchRequest{
		RemoteAddr: middleware.ClientIP(r, h.trusted),
		UserAgent:  r.UserAgent(),
	}
	var plugins []domain.SearchPlugin
	if h.deps.Plugins != nil {
		plugins = h.deps.Plugins.Ordered()
	}

	s := search.NewWithPlugins(q, search.Deps{
		Processors:        h.deps.Engines,
		Answerers:         h.deps.Answerers,
		Bangs:             h.deps.Bangs,
		MaxRequestTimeout: h.deps.MaxRequestTimeout,
		Weights:           h.deps.Weights,
		Logger:            h.logger,
	}, plugins, req)
	c := s.Run(r.Context())

	unresponsive := c.UnresponsiveEngines()
	h.metrics.SearchesTotal.Add(1)
	h.metrics.UnresponsiveTotal.Add(int64(len(unresponsive)))
	h.metrics.DroppedWritesTotal.Add(int64(c.Dropped()))

	redirect := c.RedirectURL()
	if redirect != "" && r.FormValue("format") != "json" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, NewSearchResponse(q.Query, c, s.ActualTimeout()))
}

// NewSearchResponse renders a finished search container.
func NewSearchResponse(query string, c *results.Container, timeout time.Duration) SearchResponse {
	return SearchResponse{
		Query:               query,
		NumberOfResults:     c.NumberOfResults(),
		Results:             nonNil(c.OrderedResults()),
		Answers:             nonNil(c.Answers()),
		Corrections:         nonNil(c.Corrections()),
		Infoboxes:           nonNil(c.Infoboxes()),
		Suggestions:         nonNil(c.Suggestions()),
		UnresponsiveEngines: nonNil(c.UnresponsiveEngines()),
		RedirectURL:         c.RedirectURL(),
		Timeout:             timeout.Seconds(),
	}
}

// parseSearch builds the SearchQuery of a /search request.
func (h *Handler) parseSearch(r *http.Request) (domain.SearchQuery, error) {
	format := r.FormValue("format")
	if format != "" && format != "json" {
		return domain.SearchQuery{}, fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidInput, format)
	}

	opts := search.QueryOptions{
		Categories:      splitList(r.FormValue("categories")),
		Engines:         splitList(r.FormValue("engines")),
		Lang:            h.deps.Search.DefaultLang,
		PageNo:          1,
		SafeSearch:      h.deps.Search.SafeSearch,
		TimeRange:       r.FormValue("time_range"),
		DefaultCategory: h.deps.Search.DefaultCategory,
	}
	if v := r.FormValue("language"); v != "" {
		opts.Lang = v
	}
	if v := r.FormValue("lang"); v != "" {
		opts.Lang = v
	}
	if v := r.FormValue("pageno"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return domain.SearchQuery{}, fmt.Errorf("%w: invalid pageno %q", domain.ErrInvalidInput, v)
		}
		opts.PageNo = n
	}
	if v := r.FormValue("safesearch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.SearchQuery{}, fmt.Errorf("%w: invalid safesearch %q", domain.ErrInvalidInput, v)
		}
		opts.SafeSearch = n
	}
	if v := r.FormValue("timeout_limit"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || !(secs > 0 && secs <= search.MaxTimeoutLimit.Seconds()) {
			return domain.SearchQuery{}, fmt.Errorf("%w: invalid timeout_limit %q", domain.ErrInvalidInput, v)
		}
		limit := time.Duration(secs * float64(time.Second))
		opts.TimeoutLimit = &limit
	}

	return search.ParseQuery(r.FormValue("q"), opts, h.deps.Engines)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// EngineStatus is one entry of GET /engines.
type EngineStatus struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Shortcut   string   `json:"shortcut,omitempty"`
	Categories []string `json:"categories"`
	Timeout    float64  `json:"timeout"`
	Weight     float64  `json:"weight"`
	Suspended  bool     `json:"suspended"`
}

func (h *Handler) handleEngines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := h.deps.Engines.List()
	out := make([]EngineStatus, 0, len(infos))
	for _, info := range infos {
		out = append(out, EngineStatus{
			Name:       info.Name,
			Type:       info.Type,
			Shortcut:   info.Shortcut,
			Categories: info.Categories,
			Timeout:    info.Timeout.Seconds(),
			Weight:     info.Weight,
			Suspended:  info.Suspended,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Plugins == nil {
		writeJSON(w, http.StatusOK, []plugin.Info{})
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.deps.Plugins.List()))
}

func (h *Handler) handleChecker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Checker == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: checker disabled", domain.ErrDisabled))
		return
	}
	resp := CheckerResponse{Results: nonNil(h.deps.Checker.Last())}
	if h.deps.Tasks != nil {
		if st, ok := h.deps.Tasks.StatusOf(scheduling.TaskEngineCheck); ok {
			resp.Schedule = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckerResponse is the body of GET /checker.
type CheckerResponse struct {
	Results  []scheduling.CheckResult `json:"results"`
	Schedule *scheduling.TaskStatus   `json:"schedule,omitempty"`
}

func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Tasks == nil {
		writeJSON(w, http.StatusOK, []scheduling.TaskStatus{})
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.deps.Tasks.Status()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error(), Code: domain.ErrorCodeOf(err)}
	if errors.Is(err, domain.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// splitList splits a comma separated parameter, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
