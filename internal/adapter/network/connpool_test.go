package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a net.Conn whose Close can be made to fail.
type fakeConn struct {
	net.Conn
	closed   int
	closeErr error
}

func (c *fakeConn) Close() error {
	c.closed++
	return c.closeErr
}

func fakeDial(conns *[]*fakeConn, closeErr error) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		c := &fakeConn{closeErr: closeErr}
		*conns = append(*conns, c)
		return c, nil
	}
}

func TestOriginOf(t *testing.T) {
	tests := map[string]string{
		"https://example.org/search?q=x": "https://example.org:443",
		"http://example.org":             "http://example.org:80",
		"https://example.org:8443/":      "https://example.org:8443",
		"http://[::1]:8080/":             "http://[::1]:8080",
	}
	for raw, want := range tests {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, OriginOf(u), raw)
	}
}

func TestConnPoolEvictIsPerOrigin(t *testing.T) {
	pool := NewConnPool(newTestLogger())
	var conns []*fakeConn
	dial := pool.Dialer(fakeDial(&conns, nil))

	ctxA := WithOrigin(context.Background(), "https://a.example:443")
	ctxB := WithOrigin(context.Background(), "https://b.example:443")
	for i := 0; i < 2; i++ {
		_, err := dial(ctxA, "tcp", "a.example:443")
		require.NoError(t, err)
	}
	_, err := dial(ctxB, "tcp", "b.example:443")
	require.NoError(t, err)

	assert.Equal(t, 2, pool.Count("https://a.example:443"))
	assert.Equal(t, 1, pool.Count("https://b.example:443"))

	assert.Equal(t, 2, pool.Evict("https://a.example:443"))

	assert.Zero(t, pool.Count("https://a.example:443"))
	assert.Equal(t, 1, pool.Count("https://b.example:443"))
	assert.Equal(t, 1, conns[0].closed)
	assert.Equal(t, 1, conns[1].closed)
	assert.Zero(t, conns[2].closed, "origin B must be untouched")
}

func TestConnPoolEvictUnknownOrigin(t *testing.T) {
	pool := NewConnPool(newTestLogger())
	assert.Zero(t, pool.Evict("https://nothing:443"))
}

func TestConnPoolCloseDeregisters(t *testing.T) {
	pool := NewConnPool(newTestLogger())
	var conns []*fakeConn
	dial := pool.Dialer(fakeDial(&conns, nil))

	c, err := dial(WithOrigin(context.Background(), "https://a:443"), "tcp", "a:443")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Zero(t, pool.Count("https://a:443"))
	assert.Equal(t, 1, conns[0].closed, "underlying conn closed exactly once")
}

func TestConnPoolEvictLogsCloseFailure(t *testing.T) {
	var buf bytes.Buffer
	pool := NewConnPool(slog.New(slog.NewTextHandler(&buf, nil)))
	var conns []*fakeConn
	dial := pool.Dialer(fakeDial(&conns, errors.New("boom")))

	_, err := dial(WithOrigin(context.Background(), "https://a:443"), "tcp", "a:443")
	require.NoError(t, err)

	assert.Equal(t, 1, pool.Evict("https://a:443"))
	assert.True(t, strings.Contains(buf.String(), "level=WARN"), buf.String())
	assert.Contains(t, buf.String(), "boom")
}

func TestConnPoolFallbackOrigin(t *testing.T) {
	pool := NewConnPool(newTestLogger())
	var conns []*fakeConn
	_, err := pool.Dialer(fakeDial(&conns, nil))(context.Background(), "tcp", "proxy:1080")
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Count("tcp://proxy:1080"))
}

func TestConnPoolDialErrorNotTracked(t *testing.T) {
	pool := NewConnPool(newTestLogger())
	dial := pool.Dialer(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("refused")
	})
	_, err := dial(WithOrigin(context.Background(), "https://a:443"), "tcp", "a:443")
	require.Error(t, err)
	assert.Zero(t, pool.Count("https://a:443"))
}
