package network

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// urlPattern is a mount key in the httpx convention:
//
//	all://                every URL
//	https://              every https URL
//	all://example.com     exactly that host, any scheme
//	all://*.example.com   subdomains of example.com only
//	all://*example.com    example.com and its subdomains
//	https://example.com:8443
type urlPattern struct {
	raw    string
	scheme string // "" matches any scheme
	host   string // "" matches any host
	port   string // "" matches any port
}

func parsePattern(raw string) (urlPattern, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return urlPattern{}, fmt.Errorf("mount pattern %q: missing scheme", raw)
	}
	p := urlPattern{raw: raw}
	if scheme != "all" {
		p.scheme = scheme
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || rest == "*" {
		return p, nil
	}
	host := rest
	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.HasSuffix(rest, "]") {
		host, p.port = rest[:i], rest[i+1:]
	}
	if host != "*" {
		p.host = strings.ToLower(strings.Trim(host, "[]"))
	}
	return p, nil
}

func (p urlPattern) matches(u *url.URL) bool {
	if p.scheme != "" && p.scheme != u.Scheme {
		return false
	}
	if p.port != "" && p.port != portOf(u) {
		return false
	}
	if p.host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasPrefix(p.host, "*."):
		return strings.HasSuffix(host, p.host[1:])
	case strings.HasPrefix(p.host, "*"):
		domain := p.host[1:]
		return host == domain || strings.HasSuffix(host, "."+domain)
	default:
		return host == p.host
	}
}

// less orders patterns so that the most specific one is tried first: a
// port beats no port, a longer host beats a shorter one, a concrete scheme
// beats "all".
func (p urlPattern) less(o urlPattern) bool {
	if (p.port != "") != (o.port != "") {
		return p.port != ""
	}
	if len(p.host) != len(o.host) {
		return len(p.host) > len(o.host)
	}
	if len(p.scheme) != len(o.scheme) {
		return len(p.scheme) > len(o.scheme)
	}
	return p.raw < o.raw
}

func portOf(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch u.Scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

type mount struct {
	pattern urlPattern
	rt      http.RoundTripper
}

// mountRouter dispatches each request to the transport of the most specific
// matching pattern, or to the fallback.
type mountRouter struct {
	mounts   []mount
	fallback http.RoundTripper
}

var _ http.RoundTripper = (*mountRouter)(nil)

func newMountRouter(fallback http.RoundTripper) *mountRouter {
	return &mountRouter{fallback: fallback}
}

// Mount attaches rt to pattern, replacing an earlier mount of the same pattern.
func (r *mountRouter) Mount(pattern string, rt http.RoundTripper) error {
	p, err := parsePattern(pattern)
	if err != nil {
		return err
	}
	for i := range r.mounts {
		if r.mounts[i].pattern.raw == pattern {
			r.mounts[i].rt = rt
			return nil
		}
	}
	r.mounts = append(r.mounts, mount{pattern: p, rt: rt})
	sort.SliceStable(r.mounts, func(i, j int) bool {
		return r.mounts[i].pattern.less(r.mounts[j].pattern)
	})
	return nil
}

// transportFor returns the transport a request for u is sent through.
func (r *mountRouter) transportFor(u *url.URL) http.RoundTripper {
	for _, m := range r.mounts {
		if m.pattern.matches(u) {
			return m.rt
		}
	}
	return r.fallback
}

// RoundTrip implements http.RoundTripper.
func (r *mountRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	return r.transportFor(req.URL).RoundTrip(req)
}

// CloseIdleConnections closes idle connections of every mounted transport.
func (r *mountRouter) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	rts := []http.RoundTripper{r.fallback}
	for _, m := range r.mounts {
		rts = append(rts, m.rt)
	}
	for _, rt := range rts {
		if ci, ok := rt.(closeIdler); ok {
			ci.CloseIdleConnections()
		}
	}
}
