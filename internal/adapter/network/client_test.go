package network

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

func testOutgoing() config.OutgoingConfig {
	return config.OutgoingConfig{
		EnableHTTP:              true,
		Verify:                  config.Verify{Enabled: true},
		EnableHTTP2:             true,
		MaxConnections:          10,
		MaxKeepaliveConnections: 2,
		KeepaliveExpiry:         5 * time.Second,
		MaxRedirects:            3,
		RequestTimeout:          3 * time.Second,
		MaxResponseSize:         1 << 20,
	}
}

func TestClientPlainGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	client, err := NewClient(testOutgoing(), newTestLogger())
	require.NoError(t, err)

	body, err := getBody(t, client, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
}

func TestClientHTTPSWithoutVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	defer srv.Close()

	cfg := testOutgoing()
	cfg.Verify = config.Verify{Enabled: false}
	client, err := NewClient(cfg, newTestLogger())
	require.NoError(t, err)

	body, err := getBody(t, client, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "secure", body)
}

func TestClientHTTPSVerifyFailsOnSelfSigned(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client, err := NewClient(testOutgoing(), newTestLogger())
	require.NoError(t, err)

	_, err = getBody(t, client, srv.URL)
	assert.Error(t, err)
}

func TestClientHTTPDisabled(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	cfg := testOutgoing()
	cfg.EnableHTTP = false
	cfg.Proxies = config.ProxyMap{"http://": "http://127.0.0.1:1"}
	client, err := NewClient(cfg, newTestLogger())
	require.NoError(t, err)

	_, err = getBody(t, client, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProtocol)
	assert.False(t, hit)
}

func TestClientMaxRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	client, err := NewClient(testOutgoing(), newTestLogger())
	require.NoError(t, err)

	_, err = getBody(t, client, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 3 redirects")
}

func TestClientFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "landed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(testOutgoing(), newTestLogger())
	require.NoError(t, err)

	body, err := getBody(t, client, srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, "landed", body)
}

func TestClientWithoutRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	client, err := NewClient(testOutgoing(), newTestLogger())
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(WithoutRedirects(context.Background()), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}

func TestNewClientRejectsUnknownProxyScheme(t *testing.T) {
	cfg := testOutgoing()
	cfg.Proxies = config.ProxyMap{"all://": "ftp://proxy:21"}
	_, err := NewClient(cfg, newTestLogger())
	assert.Error(t, err)
}

func TestWithDialRetries(t *testing.T) {
	calls := 0
	dial := withDialRetries(func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls++
		return nil, errors.New("refused")
	}, 2)

	_, err := dial(context.Background(), "tcp", "x:1")
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
