package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateOutgoing(cfg, ve)
	validateEngines(cfg, ve)
	validateBangs(cfg, ve)
	validateChecker(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	rl := cfg.Server.RateLimit
	if rl.Enabled && rl.RequestsPerMinute <= 0 {
		ve.Add("server.rate_limit.requests_per_minute must be > 0 when enabled")
	}
	for _, cidr := range rl.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			ve.Add("server.rate_limit.trusted_proxies: %q is neither an IP nor a CIDR", cidr)
		}
	}
}

func validateOutgoing(cfg *Config, ve *ValidationError) {
	o := cfg.Outgoing
	if o.MaxConnections < 0 {
		ve.Add("outgoing.max_connections must be >= 0")
	}
	if o.MaxKeepaliveConnections < 0 {
		ve.Add("outgoing.max_keepalive_connections must be >= 0")
	}
	if o.KeepaliveExpiry < 0 {
		ve.Add("outgoing.keepalive_expiry must be >= 0")
	}
	if o.Retries < 0 {
		ve.Add("outgoing.retries must be >= 0")
	}
	if o.MaxRedirects < 0 {
		ve.Add("outgoing.max_redirects must be >= 0")
	}
	if o.RequestTimeout <= 0 {
		ve.Add("outgoing.request_timeout must be > 0")
	}
	if o.MaxRequestTimeout < 0 {
		ve.Add("outgoing.max_request_timeout must be >= 0")
	}
	if o.LocalAddress != "" && net.ParseIP(o.LocalAddress) == nil {
		ve.Add("outgoing.local_address %q is not an IP address", o.LocalAddress)
	}
	validateProxies("outgoing.proxies", o.Proxies, ve)
}

// validProxySchemes are the proxy URL schemes a transport can be built for.
var validProxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks4":  true,
	"socks5":  true,
	"socks5h": true,
}

func validateProxies(field string, proxies ProxyMap, ve *ValidationError) {
	for _, pattern := range proxies.Patterns() {
		if !strings.Contains(pattern, "://") {
			ve.Add("%s: pattern %q must look like scheme://[host]", field, pattern)
		}
		raw := proxies[pattern]
		if strings.HasPrefix(raw, "enc:") {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			ve.Add("%s[%s]: invalid proxy URL %q", field, pattern, raw)
			continue
		}
		if !validProxySchemes[u.Scheme] {
			ve.Add("%s[%s]: unsupported proxy scheme %q", field, pattern, u.Scheme)
		}
	}
}

func validateEngines(cfg *Config, ve *ValidationError) {
	names := make(map[string]bool, len(cfg.Engines))
	for i, e := range cfg.Engines {
		field := fmt.Sprintf("engines[%d]", i)
		if e.Name == "" {
			ve.Add("%s.name is required", field)
		} else {
			if names[e.Name] {
				ve.Add("%s: duplicate engine name %q", field, e.Name)
			}
			names[e.Name] = true
			field = fmt.Sprintf("engines[%s]", e.Name)
		}
		if e.Type == "" {
			ve.Add("%s.type is required", field)
		}
		if e.BaseURL == "" {
			ve.Add("%s.base_url is required", field)
		}
		if e.Timeout < 0 {
			ve.Add("%s.timeout must be >= 0", field)
		}
		if e.Weight < 0 {
			ve.Add("%s.weight must be >= 0", field)
		}
		if e.RateLimit.RequestsPerSecond < 0 {
			ve.Add("%s.rate_limit.requests_per_second must be >= 0", field)
		}
		if e.Retries != nil && *e.Retries < 0 {
			ve.Add("%s.retries must be >= 0", field)
		}
		if e.LocalAddress != "" && net.ParseIP(e.LocalAddress) == nil {
			ve.Add("%s.local_address %q is not an IP address", field, e.LocalAddress)
		}
		validateProxies(field+".proxies", e.Proxies, ve)
	}

	for _, e := range cfg.Engines {
		if e.Network == "" {
			continue
		}
		if !names[e.Network] {
			ve.Add("engines[%s].network refers to unknown engine %q", e.Name, e.Network)
		}
		if e.HasNetworkOverrides() {
			ve.Add("engines[%s]: network and per-engine outgoing overrides are mutually exclusive", e.Name)
		}
	}
}

func validateBangs(cfg *Config, ve *ValidationError) {
	for bang, tmpl := range cfg.Bangs {
		if !strings.Contains(tmpl, "{query}") {
			ve.Add("bangs[%s]: template must contain {query}", bang)
		}
	}
}

func validateChecker(cfg *Config, ve *ValidationError) {
	if !cfg.Checker.Enabled {
		return
	}
	if cfg.Checker.Query == "" {
		ve.Add("checker.query is required when checker is enabled")
	}
	if _, err := cron.ParseStandard(cfg.Checker.Schedule); err != nil {
		ve.Add("checker.schedule %q: %v", cfg.Checker.Schedule, err)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}
