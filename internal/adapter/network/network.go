package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

// Version is reported in the default User-Agent.
const Version = "1.0"

// DefaultNetwork is the name of the network shared by engines without
// outgoing overrides.
const DefaultNetwork = "default"

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL // final URL after redirects
	Elapsed    time.Duration
}

// Network is a named HTTP client with its outgoing settings. Requests run on
// the process Loop.
type Network struct {
	name      string
	client    *http.Client
	cfg       config.OutgoingConfig
	loop      *Loop
	userAgent string
	logger    *slog.Logger
}

// NewNetwork builds a network from cfg.
func NewNetwork(name string, cfg config.OutgoingConfig, logger *slog.Logger) (*Network, error) {
	logger = logger.With("component", "network", "network", name)
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	ua := "metasearch/" + Version
	if cfg.UserAgentSuffix != "" {
		ua += " " + cfg.UserAgentSuffix
	}
	return &Network{
		name:      name,
		client:    client,
		cfg:       cfg,
		loop:      GetLoop(),
		userAgent: ua,
		logger:    logger,
	}, nil
}

// Name returns the network name.
func (n *Network) Name() string { return n.name }

// UserAgent returns the User-Agent sent when a request sets none.
func (n *Network) UserAgent() string { return n.userAgent }

// Do sends req on the loop and reads the whole body. The request context
// bounds the call; the client itself has no timeout.
func (n *Network) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	var out *Response
	start := time.Now()
	err := n.loop.Call(ctx, func(ctx context.Context) error {
		resp, err := n.client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"), n.cfg.MaxResponseSize)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			URL:        resp.Request.URL,
			Elapsed:    time.Since(start),
		}
		return nil
	})
	if err != nil {
		// http.Client wraps transport failures in *url.Error; the domain
		// sentinel stays reachable through errors.Is.
		return nil, domain.WrapOp("Network.Do", err)
	}
	n.logger.Debug("request done", "url", req.URL.Redacted(), "status", out.StatusCode, "elapsed", out.Elapsed)
	return out, nil
}

// Get is a convenience wrapper around Do.
func (n *Network) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return n.Do(ctx, req)
}

// CloseIdleConnections releases idle pooled connections.
func (n *Network) CloseIdleConnections() {
	n.client.CloseIdleConnections()
}

// Registry holds one Network per distinct engine network configuration.
type Registry struct {
	networks map[string]*Network
	byEngine map[string]string
}

// Initialize builds the default network and one network per engine that
// overrides outgoing settings. Engines with a network: reference share the
// referenced engine's network.
func Initialize(engines []config.EngineConfig, outgoing config.OutgoingConfig, logger *slog.Logger) (*Registry, error) {
	Init()

	def, err := NewNetwork(DefaultNetwork, outgoing, logger)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		networks: map[string]*Network{DefaultNetwork: def},
		byEngine: make(map[string]string, len(engines)),
	}

	for _, e := range engines {
		if !e.HasNetworkOverrides() {
			continue
		}
		n, err := NewNetwork(e.Name, outgoing.WithEngine(e), logger)
		if err != nil {
			return nil, err
		}
		r.networks[e.Name] = n
		r.byEngine[e.Name] = e.Name
	}
	for _, e := range engines {
		switch {
		case e.Network != "":
			target := e.Network
			if owner, ok := r.byEngine[target]; ok {
				target = owner
			} else {
				target = DefaultNetwork
			}
			r.byEngine[e.Name] = target
		case !e.HasNetworkOverrides():
			r.byEngine[e.Name] = DefaultNetwork
		}
	}
	return r, nil
}

// Get returns the network named name, or the default network.
func (r *Registry) Get(name string) *Network {
	if n, ok := r.networks[name]; ok {
		return n
	}
	return r.networks[DefaultNetwork]
}

// ForEngine returns the network an engine sends its requests through.
func (r *Registry) ForEngine(engine string) *Network {
	return r.Get(r.byEngine[engine])
}

// Names lists the networks in the registry.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.networks))
	for name := range r.networks {
		out = append(out, name)
	}
	return out
}

// Close releases idle connections of every network.
func (r *Registry) Close() {
	for _, n := range r.networks {
		n.CloseIdleConnections()
	}
}
