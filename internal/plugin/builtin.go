package plugin

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

// Built-in plugin priorities. Lower runs first.
const (
	prioritySelfInfo        = 10
	priorityTrackerRemover  = 20
	priorityHostnameBlocker = 30
)

// LoadBuiltins loads the built-in plugins named in cfg.Enabled.
func LoadBuiltins(m *Manager, cfg config.PluginsConfig) error {
	for _, id := range cfg.Enabled {
		var (
			p        domain.SearchPlugin
			priority int
		)
		switch id {
		case SelfInfoID:
			p, priority = NewSelfInfo(), prioritySelfInfo
		case TrackerURLRemoverID:
			p, priority = NewTrackerURLRemover(cfg.TrackerParams), priorityTrackerRemover
		case HostnameBlockerID:
			p, priority = NewHostnameBlocker(cfg.HostnameBlocker.Hosts), priorityHostnameBlocker
		default:
			return domain.NewSubSystemError("plugin", "LoadBuiltins", domain.ErrNotFound, id)
		}
		if err := m.Load(p, priority); err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
	}
	return nil
}

// SelfInfoID identifies the self_info plugin.
const SelfInfoID = "self_info"

// SelfInfo answers "ip" and "user agent" queries from the request itself
// and skips the engines for them.
type SelfInfo struct{}

// NewSelfInfo creates the self_info plugin.
func NewSelfInfo() *SelfInfo { return &SelfInfo{} }

func (*SelfInfo) ID() string { return SelfInfoID }

func (*SelfInfo) Description() string {
	return `Displays your IP if the query is "ip" and your user agent if the query contains "user agent".`
}

// PreSearch adds the answer and vetoes the search when the query asks for
// caller information.
func (*SelfInfo) PreSearch(_ context.Context, req *domain.SearchRequest, search domain.SearchContext) bool {
	if req == nil {
		return true
	}
	q := strings.ToLower(strings.TrimSpace(search.Query().Query))
	var answer string
	switch {
	case q == "ip":
		answer = clientIP(req.RemoteAddr)
	case strings.Contains(q, "user agent") || strings.Contains(q, "user-agent"):
		answer = req.UserAgent
	default:
		return true
	}
	if answer == "" {
		return true
	}
	search.Results().Extend(SelfInfoID, domain.Batch{Answers: []domain.Answer{{Answer: answer, Engine: SelfInfoID}}})
	return false
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// TrackerURLRemoverID identifies the tracker_url_remover plugin.
const TrackerURLRemoverID = "tracker_url_remover"

var defaultTrackerParams = []string{"fbclid", "gclid", "dclid", "msclkid", "mc_eid", "yclid", "_hsenc", "_hsmi"}

// TrackerURLRemover strips tracking query parameters from result URLs.
type TrackerURLRemover struct {
	params []string
}

// NewTrackerURLRemover creates the plugin. extra names additional query
// parameters to strip besides utm_* and the common click ids.
func NewTrackerURLRemover(extra []string) *TrackerURLRemover {
	params := slices.Clone(defaultTrackerParams)
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !slices.Contains(params, p) {
			params = append(params, p)
		}
	}
	return &TrackerURLRemover{params: params}
}

func (*TrackerURLRemover) ID() string { return TrackerURLRemoverID }

func (*TrackerURLRemover) Description() string { return "Remove trackers arguments from the returned URL" }

func (t *TrackerURLRemover) OnResult(_ context.Context, _ *domain.SearchRequest, _ domain.SearchContext, result *domain.Result) bool {
	u, err := url.Parse(result.URL)
	if err != nil || u.RawQuery == "" {
		return true
	}
	q := u.Query()
	changed := false
	for key := range q {
		if t.isTracker(key) {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
		result.URL = u.String()
	}
	return true
}

func (t *TrackerURLRemover) isTracker(key string) bool {
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "utm_") || slices.Contains(t.params, key)
}

// HostnameBlockerID identifies the hostname_blocker plugin.
const HostnameBlockerID = "hostname_blocker"

// HostnameBlocker drops results whose host is, or is a subdomain of, a
// blocked host.
type HostnameBlocker struct {
	hosts []string
}

// NewHostnameBlocker creates the plugin for the given hosts.
func NewHostnameBlocker(hosts []string) *HostnameBlocker {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			out = append(out, h)
		}
	}
	return &HostnameBlocker{hosts: out}
}

func (*HostnameBlocker) ID() string { return HostnameBlockerID }

func (*HostnameBlocker) Description() string { return "Remove results from blocked hostnames" }

func (b *HostnameBlocker) PostSearch(_ context.Context, _ *domain.SearchRequest, search domain.SearchContext) bool {
	if len(b.hosts) == 0 {
		return true
	}
	search.Results().Filter(func(r *domain.Result) bool { return !b.Blocked(r.URL) })
	return true
}

// Blocked reports whether rawURL points at a blocked host.
func (b *HostnameBlocker) Blocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range b.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
