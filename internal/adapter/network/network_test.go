package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metasearch/internal/domain"
	"metasearch/internal/infra/config"
)

func TestInitializeAssignsNetworks(t *testing.T) {
	http2Off := false
	engines := []config.EngineConfig{
		{Name: "plain"},
		{Name: "proxied", Proxies: config.ProxyMap{"all://": "socks5h://127.0.0.1:9050"}},
		{Name: "sibling", Network: "proxied"},
		{Name: "h1", EnableHTTP2: &http2Off},
		{Name: "dangling", Network: "missing"},
	}

	reg, err := Initialize(engines, testOutgoing(), newTestLogger())
	require.NoError(t, err)
	defer reg.Close()

	names := reg.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"default", "h1", "proxied"}, names)

	assert.Equal(t, DefaultNetwork, reg.ForEngine("plain").Name())
	assert.Equal(t, "proxied", reg.ForEngine("proxied").Name())
	assert.Same(t, reg.ForEngine("proxied"), reg.ForEngine("sibling"))
	assert.Equal(t, "h1", reg.ForEngine("h1").Name())
	assert.Equal(t, DefaultNetwork, reg.ForEngine("dangling").Name())
	assert.Equal(t, DefaultNetwork, reg.ForEngine("unknown").Name())
}

func TestNetworkDoDecodesAndSetsHeaders(t *testing.T) {
	var gotUA, gotAE string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAE = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(gzipped(t, payload))
	}))
	defer srv.Close()

	cfg := testOutgoing()
	cfg.UserAgentSuffix = "(+https://example.org/bot)"
	n, err := NewNetwork("test", cfg, newTestLogger())
	require.NoError(t, err)

	resp, err := n.Get(context.Background(), srv.URL+"/search?q=go", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, string(resp.Body))
	assert.Equal(t, "/search", resp.URL.Path)
	assert.Equal(t, "metasearch/"+Version+" (+https://example.org/bot)", gotUA)
	assert.Equal(t, acceptEncoding, gotAE)
}

func TestNetworkDoKeepsCallerUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	n, err := NewNetwork("test", testOutgoing(), newTestLogger())
	require.NoError(t, err)

	_, err = n.Get(context.Background(), srv.URL, http.Header{"User-Agent": {"custom/2"}})
	require.NoError(t, err)
	assert.Equal(t, "custom/2", gotUA)
}

func TestNetworkDoHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n, err := NewNetwork("test", testOutgoing(), newTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = n.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNetworkDoWrapsTransportErrors(t *testing.T) {
	cfg := testOutgoing()
	cfg.EnableHTTP = false
	n, err := NewNetwork("test", cfg, newTestLogger())
	require.NoError(t, err)

	_, err = n.Get(context.Background(), "http://example.org/", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProtocol)
	assert.Contains(t, err.Error(), "Network.Do: ")
}

func TestNetworkDoResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	cfg := testOutgoing()
	cfg.MaxResponseSize = 1024
	n, err := NewNetwork("test", cfg, newTestLogger())
	require.NoError(t, err)

	_, err = n.Get(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}
