package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRouter_Health(t *testing.T) {
	router := NewRouter(HTTPConfig{Gatherer: prometheus.NewRegistry()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "herald" {
		t.Errorf("body = %v", body)
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "herald_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := NewRouter(HTTPConfig{Gatherer: reg})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "herald_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestRouter_Webhook(t *testing.T) {
	var got string
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got = string(data)
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		config HTTPConfig
		method string
		path   string
		want   int
	}{
		{"mounted", HTTPConfig{WebhookPath: "/telegram", WebhookHandler: hook}, http.MethodPost, "/telegram", http.StatusOK},
		{"wrong method", HTTPConfig{WebhookPath: "/telegram", WebhookHandler: hook}, http.MethodGet, "/telegram", http.StatusMethodNotAllowed},
		{"polling mode", HTTPConfig{}, http.MethodPost, "/telegram", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = ""
			tt.config.Gatherer = prometheus.NewRegistry()
			router := NewRouter(tt.config)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"update_id":1}`)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && got != `{"update_id":1}` {
				t.Errorf("webhook body = %q", got)
			}
		})
	}
}

func TestHTTPServer_RunAndShutdown(t *testing.T) {
	server := NewHTTPServer(HTTPConfig{Addr: "127.0.0.1:0", Gatherer: prometheus.NewRegistry()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHTTPServer_ListenError(t *testing.T) {
	server := NewHTTPServer(HTTPConfig{Addr: "256.0.0.1:99999"})
	if err := server.Run(context.Background(), time.Second); err == nil {
		t.Error("expected listen error")
	}
}
