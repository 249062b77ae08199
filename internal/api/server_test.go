package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/config"
	"github.com/wesm/imsgtext/internal/store"
)

// testLogger returns a logger for tests that only prints errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockStore implements TextStore for tests.
type mockStore struct {
	stats *store.Stats
	texts []store.MessageText
	err   error
}

func (m *mockStore) GetStats() (*store.Stats, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.stats == nil {
		return &store.Stats{}, nil
	}
	return m.stats, nil
}

func (m *mockStore) RecentMessageTexts(limit int) ([]store.MessageText, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.texts[:min(limit, len(m.texts))], nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			APIPort:      8080,
			BindAddr:     "127.0.0.1",
			MaxBodyBytes: 1 << 20,
		},
	}
}

// mockScheduler implements ImportScheduler for tests.
type mockScheduler struct {
	scheduled  map[string]bool
	running    bool
	triggerErr error
	triggered  []string
	statuses   []DatabaseStatus
}

func (m *mockScheduler) IsScheduled(chatDB string) bool { return m.scheduled[chatDB] }

func (m *mockScheduler) TriggerImport(chatDB string) error {
	if m.triggerErr != nil {
		return m.triggerErr
	}
	m.triggered = append(m.triggered, chatDB)
	return nil
}

func (m *mockScheduler) Status() []DatabaseStatus { return m.statuses }

func (m *mockScheduler) IsRunning() bool { return m.running }

// newTestServer builds a server with the default policy. A nil st
// leaves the server without a store.
func newTestServer(t *testing.T, cfg *config.Config, st TextStore) *Server {
	t.Helper()
	return newTestServerWithScheduler(t, cfg, st, nil)
}

func newTestServerWithScheduler(t *testing.T, cfg *config.Config, st TextStore, sched ImportScheduler) *Server {
	t.Helper()
	r, err := attrbody.NewResolver(attrbody.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	srv := NewServer(cfg, r, st, sched, testLogger())
	t.Cleanup(srv.rateLimiter.Close)
	return srv
}

// serve runs one request through srv and returns the recorder.
func serve(srv *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(newTestServer(t, testConfig(), nil), "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %q, want ok", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		path       string
		header     http.Header
		wantStatus int
	}{
		{"missing key", "secret-key", "/api/v1/stats", nil, http.StatusUnauthorized},
		{"wrong key", "secret-key", "/api/v1/stats", http.Header{"Authorization": {"wrong-key"}}, http.StatusUnauthorized},
		{"wrong bearer", "secret-key", "/api/v1/stats", http.Header{"Authorization": {"Bearer wrong-key"}}, http.StatusUnauthorized},
		{"raw key", "secret-key", "/api/v1/stats", http.Header{"Authorization": {"secret-key"}}, http.StatusOK},
		{"bearer key", "secret-key", "/api/v1/stats", http.Header{"Authorization": {"Bearer secret-key"}}, http.StatusOK},
		{"X-API-Key", "secret-key", "/api/v1/stats", http.Header{"X-Api-Key": {"secret-key"}}, http.StatusOK},
		{"health is public", "secret-key", "/health", nil, http.StatusOK},
		{"no key configured", "", "/api/v1/stats", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.APIKey = tt.apiKey
			srv := newTestServer(t, cfg, &mockStore{})
			if w := serve(srv, "GET", tt.path, tt.header); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BindAddr = "0.0.0.0"
	srv := newTestServer(t, cfg, nil)

	if err := srv.Start(); err == nil {
		t.Fatal("Start() should refuse a non-loopback bind without an API key")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	if err := srv.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestCORSFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"allowed", []string{"http://localhost:3000", "http://example.com"}, "http://localhost:3000", "http://localhost:3000"},
		{"disallowed", []string{"http://localhost:3000"}, "http://evil.com", ""},
		{"disabled by default", nil, "http://localhost:3000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.CORSOrigins = tt.origins
			w := serve(newTestServer(t, cfg, nil), "GET", "/health", http.Header{"Origin": {tt.origin}})
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}
