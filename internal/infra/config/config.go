package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for metasearch.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Search   SearchConfig      `yaml:"search"`
	Outgoing OutgoingConfig    `yaml:"outgoing"`
	Engines  []EngineConfig    `yaml:"engines"`
	Plugins  PluginsConfig     `yaml:"plugins"`
	Bangs    map[string]string `yaml:"bangs"`
	Checker  CheckerConfig     `yaml:"checker"`
	Logger   LoggerConfig      `yaml:"logger"`
	Tracer   TracerConfig      `yaml:"tracer"`
	Includes []string          `yaml:"includes,omitempty"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the per-client limiter in front of the API.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultCategory string `yaml:"default_category"`
	DefaultLang     string `yaml:"default_lang"`
	SafeSearch      int    `yaml:"safe_search"`
}

// OutgoingConfig configures every outbound HTTP client. It is read once when
// the networks are built.
type OutgoingConfig struct {
	EnableHTTP              bool          `yaml:"enable_http"`
	Verify                  Verify        `yaml:"verify"`
	EnableHTTP2             bool          `yaml:"enable_http2"`
	MaxConnections          int           `yaml:"max_connections"`
	MaxKeepaliveConnections int           `yaml:"max_keepalive_connections"`
	KeepaliveExpiry         time.Duration `yaml:"keepalive_expiry"`
	Proxies                 ProxyMap      `yaml:"proxies"`
	LocalAddress            string        `yaml:"local_address"`
	Retries                 int           `yaml:"retries"`
	MaxRedirects            int           `yaml:"max_redirects"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
	MaxRequestTimeout       time.Duration `yaml:"max_request_timeout"` // 0 means no ceiling
	UserAgentSuffix         string        `yaml:"useragent_suffix"`
	MaxResponseSize         int64         `yaml:"max_response_size"`
}

// Verify is the TLS verification setting: a bool, or a path to a CA bundle
// which implies verification against that bundle.
type Verify struct {
	Enabled bool
	CAFile  string
}

// UnmarshalYAML accepts `true`, `false` or a CA bundle path.
func (v *Verify) UnmarshalYAML(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err == nil {
		v.Enabled, v.CAFile = b, ""
		return nil
	}
	var path string
	if err := node.Decode(&path); err != nil {
		return fmt.Errorf("verify: want bool or CA bundle path: %w", err)
	}
	v.Enabled, v.CAFile = true, path
	return nil
}

// MarshalYAML renders the setting back in its short form.
func (v Verify) MarshalYAML() (any, error) {
	if v.CAFile != "" {
		return v.CAFile, nil
	}
	return v.Enabled, nil
}

// AllPattern is the mount pattern matching every URL.
const AllPattern = "all://"

// ProxyMap maps URL patterns to proxy URLs. A single scalar in YAML is
// shorthand for the all:// pattern.
type ProxyMap map[string]string

// UnmarshalYAML accepts either a proxy URL or a pattern map.
func (p *ProxyMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		if single == "" {
			*p = nil
			return nil
		}
		*p = ProxyMap{AllPattern: single}
		return nil
	}
	m := map[string]string{}
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("proxies: %w", err)
	}
	*p = m
	return nil
}

// Patterns returns the configured patterns in a stable order.
func (p ProxyMap) Patterns() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EngineConfig describes one search backend.
type EngineConfig struct {
	Name             string            `yaml:"name"`
	Type             string            `yaml:"type"`
	Shortcut         string            `yaml:"shortcut"`
	Categories       []string          `yaml:"categories"`
	Disabled         bool              `yaml:"disabled"`
	Timeout          time.Duration     `yaml:"timeout"`
	Weight           float64           `yaml:"weight"`
	Paging           bool              `yaml:"paging"`
	TimeRangeSupport bool              `yaml:"time_range_support"`
	Language         string            `yaml:"language"`
	BaseURL          string            `yaml:"base_url"`
	APIKey           string            `yaml:"api_key"`
	Headers          map[string]string `yaml:"headers"`
	Selectors        HTMLSelectors     `yaml:"selectors"`
	RateLimit        EngineRateLimit   `yaml:"rate_limit"`
	Suspend          SuspendConfig     `yaml:"suspend"`

	// Network names another engine whose network this engine shares.
	Network string `yaml:"network"`

	// Per-engine outgoing overrides. A set override gives the engine its
	// own network.
	Proxies      ProxyMap `yaml:"proxies"`
	Verify       *Verify  `yaml:"verify"`
	EnableHTTP2  *bool    `yaml:"enable_http2"`
	Retries      *int     `yaml:"retries"`
	LocalAddress string   `yaml:"local_address"`
}

// HTMLSelectors are the CSS selectors of an html engine.
type HTMLSelectors struct {
	Results    string `yaml:"results"`
	URL        string `yaml:"url"`
	Title      string `yaml:"title"`
	Content    string `yaml:"content"`
	Suggestion string `yaml:"suggestion"`
}

// EngineRateLimit caps outbound requests of one engine. Zero means unlimited.
type EngineRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SuspendConfig controls when a failing engine is suspended.
type SuspendConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Duration    time.Duration `yaml:"duration"`
}

// HasNetworkOverrides reports whether the engine needs a network of its own.
func (e EngineConfig) HasNetworkOverrides() bool {
	return len(e.Proxies) > 0 || e.Verify != nil || e.EnableHTTP2 != nil || e.Retries != nil || e.LocalAddress != ""
}

// WithEngine returns a copy of o with the engine's overrides applied.
func (o OutgoingConfig) WithEngine(e EngineConfig) OutgoingConfig {
	out := o
	if len(e.Proxies) > 0 {
		out.Proxies = e.Proxies
	}
	if e.Verify != nil {
		out.Verify = *e.Verify
	}
	if e.EnableHTTP2 != nil {
		out.EnableHTTP2 = *e.EnableHTTP2
	}
	if e.Retries != nil {
		out.Retries = *e.Retries
	}
	if e.LocalAddress != "" {
		out.LocalAddress = e.LocalAddress
	}
	return out
}

// PluginsConfig selects and configures the built-in plugins.
type PluginsConfig struct {
	Enabled         []string              `yaml:"enabled"`
	HostnameBlocker HostnameBlockerConfig `yaml:"hostname_blocker"`
	TrackerParams   []string              `yaml:"tracker_params"`
}

// HostnameBlockerConfig lists hosts whose results are dropped.
type HostnameBlockerConfig struct {
	Hosts []string `yaml:"hosts"`
}

// CheckerConfig configures the periodic engine self test.
type CheckerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Schedule   string `yaml:"schedule"`
	Query      string `yaml:"query"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8888",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		Search: SearchConfig{
			DefaultCategory: "general",
			DefaultLang:     "all",
		},
		Outgoing: OutgoingConfig{
			EnableHTTP:              false,
			Verify:                  Verify{Enabled: true},
			EnableHTTP2:             true,
			MaxConnections:          100,
			MaxKeepaliveConnections: 10,
			KeepaliveExpiry:         5 * time.Second,
			Retries:                 0,
			MaxRedirects:            30,
			RequestTimeout:          3 * time.Second,
			MaxResponseSize:         5 << 20,
		},
		Bangs: map[string]string{},
		Plugins: PluginsConfig{
			Enabled: []string{"self_info", "tracker_url_remover", "hostname_blocker"},
		},
		Checker: CheckerConfig{
			Schedule:   "@every 24h",
			Query:      "time",
			RunOnStart: true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "stdout",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		included, err := processIncludes(cfg, filepath.Dir(absPath), visited, 0)
		if err != nil {
			return nil, err
		}

		// Second pass so the main file wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Engines = mergeEngines(included, cfg.Engines)
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("METASEARCH_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides overrides config values from METASEARCH_* environment variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METASEARCH_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("METASEARCH_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("METASEARCH_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("METASEARCH_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("METASEARCH_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("METASEARCH_OUTGOING_PROXY"); v != "" {
		cfg.Outgoing.Proxies = ProxyMap{AllPattern: v}
	}
	if v := os.Getenv("METASEARCH_OUTGOING_ENABLE_HTTP"); v != "" {
		cfg.Outgoing.EnableHTTP = v == "true"
	}
	if v := os.Getenv("METASEARCH_OUTGOING_ENABLE_HTTP2"); v != "" {
		cfg.Outgoing.EnableHTTP2 = v == "true"
	}
	if v := os.Getenv("METASEARCH_OUTGOING_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Outgoing.RequestTimeout = d
		}
	}
	if v := os.Getenv("METASEARCH_OUTGOING_MAX_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Outgoing.MaxRequestTimeout = d
		}
	}
	if v := os.Getenv("METASEARCH_OUTGOING_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Outgoing.Retries = n
		}
	}
	if v := os.Getenv("METASEARCH_OUTGOING_LOCAL_ADDRESS"); v != "" {
		cfg.Outgoing.LocalAddress = v
	}
	if v := os.Getenv("METASEARCH_SERVER_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("METASEARCH_PLUGINS_ENABLED"); v != "" {
		cfg.Plugins.Enabled = splitAndTrim(v, ",")
	}
	if v := os.Getenv("METASEARCH_CHECKER_ENABLED"); v == "true" {
		cfg.Checker.Enabled = true
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeEngines appends engines from included files that the main file does
// not redefine; a main-file entry replaces an included one of the same name.
func mergeEngines(included, main []EngineConfig) []EngineConfig {
	defined := make(map[string]bool, len(main))
	for _, e := range main {
		defined[e.Name] = true
	}
	out := make([]EngineConfig, 0, len(included)+len(main))
	for _, e := range included {
		if !defined[e.Name] {
			out = append(out, e)
		}
	}
	return append(out, main...)
}

// decryptSecrets replaces "enc:" prefixed proxy URLs and engine API keys
// with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	if err := decryptProxies(cfg.Outgoing.Proxies, passphrase); err != nil {
		return fmt.Errorf("outgoing proxies: %w", err)
	}

	for i := range cfg.Engines {
		e := &cfg.Engines[i]
		if strings.HasPrefix(e.APIKey, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(e.APIKey, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("engine %s api_key: %w", e.Name, err)
			}
			e.APIKey = decrypted
		}
		if err := decryptProxies(e.Proxies, passphrase); err != nil {
			return fmt.Errorf("engine %s proxies: %w", e.Name, err)
		}
	}

	return nil
}

func decryptProxies(proxies ProxyMap, passphrase string) error {
	for pattern, proxyURL := range proxies {
		if !strings.HasPrefix(proxyURL, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(proxyURL, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", pattern, err)
		}
		proxies[pattern] = decrypted
	}
	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM using a key derived from passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
