package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSMiddleware(t *testing.T) {
	cors := CORSMiddleware(CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		MaxAge:         600,
	})(okHandler)

	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantHeaders map[string]string
	}{
		{"no origin", "GET", "", http.StatusOK, map[string]string{
			"Access-Control-Allow-Origin": "",
		}},
		{"unknown origin", "GET", "http://evil.example", http.StatusOK, map[string]string{
			"Access-Control-Allow-Origin": "",
		}},
		{"allowed origin", "GET", "http://localhost:3000", http.StatusOK, map[string]string{
			"Access-Control-Allow-Origin":  "http://localhost:3000",
			"Vary":                         "Origin",
			"Access-Control-Allow-Methods": "",
		}},
		{"preflight", "OPTIONS", "http://localhost:3000", http.StatusNoContent, map[string]string{
			"Access-Control-Allow-Origin":  "http://localhost:3000",
			"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
			"Access-Control-Allow-Headers": "Content-Type, X-API-Key",
			"Access-Control-Max-Age":       "600",
		}},
		{"preflight from unknown origin", "OPTIONS", "http://evil.example", http.StatusOK, map[string]string{
			"Access-Control-Allow-Methods": "",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/resolve", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			cors.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			for k, want := range tt.wantHeaders {
				if got := w.Header().Get(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	cors := CORSMiddleware(CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true})(okHandler)
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	w := httptest.NewRecorder()
	cors.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://anywhere.example" {
		t.Errorf("Allow-Origin = %q, want the request origin echoed", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	defer rl.Close()

	steps := []struct {
		key  string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.0.0.1", true},
		{"127.0.0.1", false}, // burst spent
		{"192.168.1.1", true},
	}
	for i, st := range steps {
		if got := rl.Allow(st.key); got != st.want {
			t.Errorf("step %d: Allow(%s) = %v, want %v", i, st.key, got, st.want)
		}
	}
}

func TestRateLimiterCloseConcurrent(t *testing.T) {
	rl := NewRateLimiter(10, 10)

	// Concurrent Close calls must not panic.
	const n = 50
	start := make(chan struct{})
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			<-start
			rl.Close()
			done <- struct{}{}
		}()
	}
	close(start) // release all at once
	for i := 0; i < n; i++ {
		<-done
	}
}

func TestRateLimiterEvict(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("second request should be rate limited")
	}

	rl.evict(time.Now().Add(time.Minute))
	if n := len(rl.limiters); n != 0 {
		t.Fatalf("%d limiters left after evict", n)
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("evicted client should start with a fresh burst")
	}

	rl.evict(time.Now().Add(-time.Minute))
	if n := len(rl.limiters); n != 1 {
		t.Errorf("recently seen limiter evicted, %d left", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		want       string
	}{
		{"host and port", "192.0.2.1:5555", "", "192.0.2.1"},
		{"ipv6", "[::1]:5555", "", "::1"},
		{"no port", "192.0.2.1", "", "192.0.2.1"},
		{"real ip header", "127.0.0.1:5555", "203.0.113.9", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	handler := RateLimitMiddleware(rl)(okHandler)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/stats", nil)
		req.RemoteAddr = "127.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), `"rate_limit_exceeded"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
