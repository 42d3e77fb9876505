package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics tracks counters for the Prometheus endpoint.
type Metrics struct {
	SearchesTotal      atomic.Int64
	SearchErrorsTotal  atomic.Int64
	UnresponsiveTotal  atomic.Int64
	DroppedWritesTotal atomic.Int64
}

// handleMetrics serves GET /metrics in the Prometheus text format.
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Search metrics.
	fmt.Fprintf(w, "# HELP metasearch_searches_total Total searches run.\n")
	fmt.Fprintf(w, "# TYPE metasearch_searches_total counter\n")
	fmt.Fprintf(w, "metasearch_searches_total %d\n", h.metrics.SearchesTotal.Load())

	fmt.Fprintf(w, "# HELP metasearch_search_errors_total Searches rejected before running.\n")
	fmt.Fprintf(w, "# TYPE metasearch_search_errors_total counter\n")
	fmt.Fprintf(w, "metasearch_search_errors_total %d\n", h.metrics.SearchErrorsTotal.Load())

	fmt.Fprintf(w, "# HELP metasearch_unresponsive_engines_total Engines that contributed nothing to a search.\n")
	fmt.Fprintf(w, "# TYPE metasearch_unresponsive_engines_total counter\n")
	fmt.Fprintf(w, "metasearch_unresponsive_engines_total %d\n", h.metrics.UnresponsiveTotal.Load())

	fmt.Fprintf(w, "# HELP metasearch_late_writes_total Engine results that arrived after the deadline.\n")
	fmt.Fprintf(w, "# TYPE metasearch_late_writes_total counter\n")
	fmt.Fprintf(w, "metasearch_late_writes_total %d\n", h.metrics.DroppedWritesTotal.Load())

	// Engine metrics.
	engines := h.deps.Engines.List()
	suspended := 0
	for _, e := range engines {
		if e.Suspended {
			suspended++
		}
	}
	fmt.Fprintf(w, "# HELP metasearch_engines Number of enabled engines.\n")
	fmt.Fprintf(w, "# TYPE metasearch_engines gauge\n")
	fmt.Fprintf(w, "metasearch_engines %d\n", len(engines))

	fmt.Fprintf(w, "# HELP metasearch_engines_suspended Number of suspended engines.\n")
	fmt.Fprintf(w, "# TYPE metasearch_engines_suspended gauge\n")
	fmt.Fprintf(w, "metasearch_engines_suspended %d\n", suspended)

	// Uptime.
	fmt.Fprintf(w, "# HELP metasearch_uptime_seconds Seconds since the server started.\n")
	fmt.Fprintf(w, "# TYPE metasearch_uptime_seconds gauge\n")
	fmt.Fprintf(w, "metasearch_uptime_seconds %.0f\n", time.Since(h.startTime).Seconds())

	// Go runtime metrics.
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)
}
