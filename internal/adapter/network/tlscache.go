package network

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// TLSKey identifies one TLS client configuration.
type TLSKey struct {
	ProxyURL string
	Cert     string // CA bundle path, empty for the system roots
	Verify   bool
	TrustEnv bool // honor SSL_CERT_FILE when Cert is empty
	HTTP2    bool
}

func (k TLSKey) String() string {
	return strings.Join([]string{
		k.ProxyURL,
		k.Cert,
		strconv.FormatBool(k.Verify),
		strconv.FormatBool(k.TrustEnv),
		strconv.FormatBool(k.HTTP2),
	}, "|")
}

// TLSCache memoizes *tls.Config values per TLSKey. Entries are never
// evicted. Reads are lock free; concurrent first requests for one key build
// the config once.
type TLSCache struct {
	entries sync.Map // TLSKey -> *tls.Config
	group   singleflight.Group
	builds  atomic.Int64
}

var defaultTLSCache = &TLSCache{}

// GetTLSConfig returns the process-wide cached config for key. Callers that
// hand the config to a transport must Clone it first: transports append to
// NextProtos.
func GetTLSConfig(key TLSKey) (*tls.Config, error) {
	return defaultTLSCache.Get(key)
}

// Get returns the config for key, building it on first use.
func (c *TLSCache) Get(key TLSKey) (*tls.Config, error) {
	if v, ok := c.entries.Load(key); ok {
		return v.(*tls.Config), nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if v, ok := c.entries.Load(key); ok {
			return v, nil
		}
		cfg, err := buildTLSConfig(key)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		actual, _ := c.entries.LoadOrStore(key, cfg)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Config), nil
}

// Builds reports how many configs were constructed.
func (c *TLSCache) Builds() int64 {
	return c.builds.Load()
}

func buildTLSConfig(key TLSKey) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if !key.Verify {
		cfg.InsecureSkipVerify = true //nolint:gosec // operator opted out with verify: false
	}

	bundle := key.Cert
	if bundle == "" && key.TrustEnv {
		bundle = os.Getenv("SSL_CERT_FILE")
	}
	if bundle != "" {
		pem, err := os.ReadFile(bundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s: no certificates found", bundle)
		}
		cfg.RootCAs = pool
	}

	if key.HTTP2 {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	} else {
		cfg.NextProtos = []string{"http/1.1"}
	}
	return cfg, nil
}
