package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

const (
	connectTimeout      = 10 * time.Second
	tcpKeepAlive        = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	h2ReadIdleTimeout   = 30 * time.Second
	h2PingTimeout       = 15 * time.Second
)

// NewClient builds an HTTP client for cfg: one transport per proxy pattern,
// a direct transport for everything else, and a failing transport for
// plaintext HTTP when it is disabled.
func NewClient(cfg config.OutgoingConfig, logger *slog.Logger) (*http.Client, error) {
	router, err := newRouter(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport:     router,
		CheckRedirect: redirectPolicy(cfg.MaxRedirects),
	}, nil
}

func newRouter(cfg config.OutgoingConfig, logger *slog.Logger) (*mountRouter, error) {
	direct, err := newTransport(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	router := newMountRouter(direct)

	for _, pattern := range cfg.Proxies.Patterns() {
		if !cfg.EnableHTTP && strings.HasPrefix(pattern, "http://") {
			continue
		}
		proxyURL, err := url.Parse(cfg.Proxies[pattern])
		if err != nil {
			return nil, fmt.Errorf("proxy for %s: %w", pattern, err)
		}
		rt, err := newTransport(cfg, proxyURL, logger)
		if err != nil {
			return nil, fmt.Errorf("proxy for %s: %w", pattern, err)
		}
		if err := router.Mount(pattern, rt); err != nil {
			return nil, err
		}
	}

	if !cfg.EnableHTTP {
		if err := router.Mount("http://", noHTTPTransport{}); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// newTransport builds one retrying transport. proxyURL is nil for direct
// connections.
func newTransport(cfg config.OutgoingConfig, proxyURL *url.URL, logger *slog.Logger) (*RetryTransport, error) {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: tcpKeepAlive}
	if cfg.LocalAddress != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(cfg.LocalAddress)}
	}

	key := TLSKey{
		Cert:     cfg.Verify.CAFile,
		Verify:   cfg.Verify.Enabled,
		TrustEnv: true,
		HTTP2:    cfg.EnableHTTP2,
	}
	if proxyURL != nil {
		key.ProxyURL = proxyURL.String()
	}
	tlsCfg, err := GetTLSConfig(key)
	if err != nil {
		return nil, err
	}

	pool := NewConnPool(logger)
	t := &http.Transport{
		TLSClientConfig:       tlsCfg.Clone(),
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxKeepaliveConnections,
		MaxIdleConnsPerHost:   cfg.MaxKeepaliveConnections,
		IdleConnTimeout:       cfg.KeepaliveExpiry,
		DisableKeepAlives:     cfg.MaxKeepaliveConnections == 0,
		ExpectContinueTimeout: time.Second,
	}

	dial := DialFunc(dialer.DialContext)
	if proxyURL != nil {
		switch proxyURL.Scheme {
		case "socks4", "socks5", "socks5h":
			sd, err := newSOCKSDialer(proxyURL, dialer)
			if err != nil {
				return nil, err
			}
			dial = sd.DialContext
		case "http", "https":
			t.Proxy = http.ProxyURL(proxyURL)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		}
	}
	t.DialContext = pool.Dialer(withDialRetries(dial, cfg.Retries))

	if cfg.EnableHTTP2 {
		h2, err := http2.ConfigureTransports(t)
		if err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
		h2.ReadIdleTimeout = h2ReadIdleTimeout
		h2.PingTimeout = h2PingTimeout
	} else {
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	rt := NewRetryTransport(t, pool, logger.With("proxy", redactedOrDirect(proxyURL)))
	if t.Proxy != nil {
		rt.viaProxy(proxyURL)
	}
	return rt, nil
}

func redactedOrDirect(u *url.URL) string {
	if u == nil {
		return "direct"
	}
	return u.Redacted()
}

// withDialRetries retries failed dials up to retries extra times.
func withDialRetries(dial DialFunc, retries int) DialFunc {
	if retries <= 0 {
		return dial
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var lastErr error
		for i := 0; i <= retries; i++ {
			conn, err := dial(ctx, network, addr)
			if err == nil {
				return conn, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return nil, lastErr
	}
}

// noHTTPTransport rejects every request. It is mounted on http:// when
// plaintext HTTP is disabled.
type noHTTPTransport struct{}

func (noHTTPTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
	return nil, fmt.Errorf("%w: plaintext HTTP is disabled: %s", domain.ErrUnsupportedProtocol, req.URL.Redacted())
}

type noRedirectKey struct{}

// WithoutRedirects makes the client return the first response of a request
// made with the returned context instead of following redirects.
func WithoutRedirects(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRedirectKey{}, true)
}

func redirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if off, _ := req.Context().Value(noRedirectKey{}).(bool); off {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}
