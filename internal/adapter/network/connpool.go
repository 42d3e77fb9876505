package network

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"sync"
)

// DialFunc matches http.Transport.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type originKey struct{}

// WithOrigin tags ctx with the origin a dial is made for.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFrom(ctx context.Context) string {
	o, _ := ctx.Value(originKey{}).(string)
	return o
}

// OriginOf returns scheme://host:port for u with the default port filled in.
func OriginOf(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return u.Scheme + "://" + net.JoinHostPort(u.Hostname(), port)
}

// ConnPool tracks every connection a transport dials, grouped by origin, so
// that the connections of one origin can be dropped after a protocol error.
type ConnPool struct {
	mu     sync.Mutex
	conns  map[string]map[*trackedConn]struct{}
	logger *slog.Logger
}

// NewConnPool creates an empty pool.
func NewConnPool(logger *slog.Logger) *ConnPool {
	return &ConnPool{
		conns:  make(map[string]map[*trackedConn]struct{}),
		logger: logger,
	}
}

// Dialer wraps dial so that each connection it returns is tracked under the
// origin carried by the dial context (or tcp://addr when none is set).
func (p *ConnPool) Dialer(dial DialFunc) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		origin := originFrom(ctx)
		if origin == "" {
			origin = "tcp://" + addr
		}
		return p.track(origin, conn), nil
	}
}

func (p *ConnPool) track(origin string, conn net.Conn) net.Conn {
	tc := &trackedConn{Conn: conn, pool: p, origin: origin}
	p.mu.Lock()
	set, ok := p.conns[origin]
	if !ok {
		set = make(map[*trackedConn]struct{})
		p.conns[origin] = set
	}
	set[tc] = struct{}{}
	p.mu.Unlock()
	return tc
}

func (p *ConnPool) forget(tc *trackedConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.conns[tc.origin]
	delete(set, tc)
	if len(set) == 0 {
		delete(p.conns, tc.origin)
	}
}

// Evict removes every connection of origin from the registry and then
// closes it. Close failures are logged, never returned. It returns the
// number of connections evicted.
func (p *ConnPool) Evict(origin string) int {
	p.mu.Lock()
	set := p.conns[origin]
	delete(p.conns, origin)
	p.mu.Unlock()

	for tc := range set {
		if err := tc.closeUnderlying(); err != nil && !errors.Is(err, net.ErrClosed) {
			p.logger.Warn("closing evicted connection failed", "origin", origin, "error", err)
		}
	}
	return len(set)
}

// Count reports how many live connections are registered for origin.
func (p *ConnPool) Count(origin string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[origin])
}

type trackedConn struct {
	net.Conn
	pool      *ConnPool
	origin    string
	closeOnce sync.Once
	closeErr  error
}

// Close deregisters the connection before closing it.
func (c *trackedConn) Close() error {
	c.pool.forget(c)
	return c.closeUnderlying()
}

func (c *trackedConn) closeUnderlying() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
