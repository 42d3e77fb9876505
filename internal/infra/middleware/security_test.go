package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"metasearch/internal/infra/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limited(ctx context.Context, rpm, burst int, trusted ...string) http.Handler {
	return RateLimit(ctx, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		Burst:             burst,
		TrustedProxies:    trusted,
	})(okHandler())
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/search", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/search", nil))

	expectedHeaders := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Permissions-Policy":      "interest-cohort=()",
	}
	for header, expectedValue := range expectedHeaders {
		if got := w.Header().Get(header); got != expectedValue {
			t.Errorf("Header %s = %q, want %q", header, got, expectedValue)
		}
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS header should not be set without TLS, got: %q", hsts)
	}
}

func TestSecurityHeaders_HSTS_WithTLS(t *testing.T) {
	req := httptest.NewRequest("GET", "/search", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, req)

	expectedHSTS := "max-age=31536000; includeSubDomains"
	if got := w.Header().Get("Strict-Transport-Security"); got != expectedHSTS {
		t.Errorf("HSTS = %q, want %q", got, expectedHSTS)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(context.Background(), config.RateLimitConfig{Enabled: false, RequestsPerMinute: 1, Burst: 1})(okHandler())
	for i := 0; i < 5; i++ {
		if w := hit(h, "192.0.2.1:1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d with limiting disabled", i+1, w.Code)
		}
	}
}

func TestRateLimit_AllowsNormalTraffic(t *testing.T) {
	h := limited(context.Background(), 60, 10)
	for i := 0; i < 10; i++ {
		if w := hit(h, "192.168.1.1:12345"); w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	h := limited(context.Background(), 6, 3)

	successCount, blockedCount := 0, 0
	var last *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		w := hit(h, "192.168.1.1:12345")
		switch w.Code {
		case http.StatusOK:
			successCount++
		case http.StatusTooManyRequests:
			blockedCount++
			last = w
		}
	}

	if successCount != 3 {
		t.Errorf("Expected 3 successful requests, got %d", successCount)
	}
	if blockedCount != 7 {
		t.Errorf("Expected 7 blocked requests, got %d", blockedCount)
	}
	if got := last.Header().Get("Retry-After"); got != "10" {
		t.Errorf("Retry-After = %q, want %q", got, "10")
	}
	if got := last.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	h := limited(context.Background(), 6, 2)

	client1Blocked := false
	for i := 0; i < 3; i++ {
		if hit(h, "192.168.1.1:12345").Code == http.StatusTooManyRequests {
			client1Blocked = true
		}
	}
	client2Success := 0
	for i := 0; i < 2; i++ {
		if hit(h, "192.168.1.2:12345").Code == http.StatusOK {
			client2Success++
		}
	}

	if !client1Blocked {
		t.Error("Client 1 should have been rate limited")
	}
	if client2Success != 2 {
		t.Errorf("Client 2 should have 2 successful requests, got %d", client2Success)
	}
}

func TestRateLimit_TrustedProxyCIDR(t *testing.T) {
	h := limited(context.Background(), 6, 1, "10.0.0.0/8")

	send := func(xff string) int {
		req := httptest.NewRequest("GET", "/search", nil)
		req.RemoteAddr = "10.1.2.3:443"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("203.0.113.1"); code != http.StatusOK {
		t.Fatalf("first client: got %d", code)
	}
	if code := send("203.0.113.2"); code != http.StatusOK {
		t.Errorf("second client behind the same proxy should have its own bucket, got %d", code)
	}
	if code := send("203.0.113.1"); code != http.StatusTooManyRequests {
		t.Errorf("first client again: got %d, want 429", code)
	}
}

func TestClientIP_SpoofingPrevention(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xForwardedFor  string
		xRealIP        string
		trustedProxies []string
		wantIP         string
	}{
		{
			name:           "untrusted source ignores XFF",
			remoteAddr:     "1.2.3.4:12345",
			xForwardedFor:  "8.8.8.8",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "1.2.3.4",
		},
		{
			name:          "no trusted proxies ignores XFF",
			remoteAddr:    "1.2.3.4:12345",
			xForwardedFor: "8.8.8.8",
			wantIP:        "1.2.3.4",
		},
		{
			name:           "trusted proxy uses first XFF entry",
			remoteAddr:     "192.168.1.1:12345",
			xForwardedFor:  "203.0.113.1, 198.51.100.1",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "203.0.113.1",
		},
		{
			name:           "trusted proxy falls back to X-Real-IP",
			remoteAddr:     "192.168.1.1:12345",
			xRealIP:        "203.0.113.9",
			trustedProxies: []string{"192.168.0.0/16"},
			wantIP:         "203.0.113.9",
		},
		{
			name:           "trusted proxy without headers",
			remoteAddr:     "192.168.1.1:12345",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "192.168.1.1",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			wantIP:     "2001:db8::1",
		},
		{
			name:           "ipv6 trusted prefix",
			remoteAddr:     "[2001:db8::1]:443",
			xForwardedFor:  "198.51.100.7",
			trustedProxies: []string{"2001:db8::/32", "bogus"},
			wantIP:         "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/search", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			got := ClientIP(req, ParseTrustedProxies(tt.trustedProxies))
			if got != tt.wantIP {
				t.Errorf("ClientIP() = %q, want %q", got, tt.wantIP)
			}
		})
	}
}

func TestRateLimit_TokenRefill(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping time-dependent test in short mode")
	}

	h := limited(context.Background(), 60, 1)

	if w := hit(h, "192.168.1.1:12345"); w.Code != http.StatusOK {
		t.Errorf("First request: got status %d, want %d", w.Code, http.StatusOK)
	}
	if w := hit(h, "192.168.1.1:12345"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Second request (immediate): got status %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	time.Sleep(1100 * time.Millisecond)

	if w := hit(h, "192.168.1.1:12345"); w.Code != http.StatusOK {
		t.Errorf("Third request (after refill): got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimit_CleanupGoroutineStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runtime.GC()
	time.Sleep(10 * time.Millisecond)
	before := runtime.NumGoroutine()

	h := limited(ctx, 60, 10)
	hit(h, "192.168.1.1:12345")

	cancel()
	time.Sleep(100 * time.Millisecond)
	runtime.GC()
	time.Sleep(50 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before+2 {
		t.Errorf("Potential goroutine leak: before=%d, after=%d (diff=%d)",
			before, after, after-before)
	}
}
