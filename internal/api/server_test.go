package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/wearsync/internal/api/handlers/integration"
	"github.com/router-for-me/wearsync/internal/buildinfo"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/metrics"
	"github.com/router-for-me/wearsync/internal/webhook"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	queue := webhook.NewQueue(3)
	t.Cleanup(queue.Close)
	handler := integration.NewHandler(integration.Options{
		Authenticator: webhook.NewAuthenticator("", time.Minute),
		Queue:         queue,
	})
	return NewServer(&config.Config{Host: "127.0.0.1", Port: 8317, Debug: true}, handler)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != buildinfo.Version {
		t.Fatalf("unexpected body %v", body)
	}
	if srv.Addr() != "127.0.0.1:8317" {
		t.Fatalf("addr = %q", srv.Addr())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	metrics.WebhookReceived("accepted")

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "wearsync_webhooks_received_total") {
		t.Fatalf("metrics output missing webhook counter")
	}
}

func TestWebhookStatusWithoutProcessor(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, integration.BasePath+"/webhook/status", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"processing":false`) {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, integration.BasePath+"/profile/u1", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("profile without store status = %d, want 503", w.Code)
	}
}
