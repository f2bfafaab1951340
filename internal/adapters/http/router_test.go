package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ucsaes/MSH-mock/internal/adapters/gpu"
	"github.com/ucsaes/MSH-mock/internal/adapters/signal"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/app/clock"
	"github.com/ucsaes/MSH-mock/internal/app/orch"
	"github.com/ucsaes/MSH-mock/internal/config"
	"github.com/ucsaes/MSH-mock/internal/core/coretest"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

type fixture struct {
	engine *gin.Engine
	orch   *orch.Orchestrator
}

func newFixture(t *testing.T, staticPath string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	o := orch.New(app.NewSessionStore(), &coretest.Factory{}, nil, m)
	t.Cleanup(o.Shutdown)
	ctrl := signal.NewSignalWSController(o, clock.Estimator{}, m)
	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: staticPath}
	return &fixture{
		engine: SetupRouter(context.Background(), cfg, o, ctrl, reg),
		orch:   o,
	}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthzAndClientCookie(t *testing.T) {
	f := newFixture(t, t.TempDir())
	w := f.do(http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), sessionName+"=") {
		t.Fatalf("Set-Cookie=%q, want %s cookie", w.Header().Get("Set-Cookie"), sessionName)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	f := newFixture(t, t.TempDir())
	if _, err := f.orch.Connect(context.Background(), "c1", 0.5, coretest.NewSignal(), "browser-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	w := f.do(http.MethodGet, "/api/sessions")
	var body struct {
		Sessions []app.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("sessions=%v, want 1", body.Sessions)
	}
	s := body.Sessions[0]
	if s.ID != "c1" || s.State != domain.StateConnected.String() || s.Offset != 0.5 || s.Browser != "browser-1" {
		t.Fatalf("session=%+v", s)
	}

	if w := f.do(http.MethodDelete, "/api/sessions/c1"); w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d, want 204", w.Code)
	}
	if w := f.do(http.MethodDelete, "/api/sessions/c1"); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d, want 404", w.Code)
	}
	if f.orch.Store.Len() != 0 {
		t.Fatalf("store len=%d, want 0", f.orch.Store.Len())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, t.TempDir())
	if _, err := f.orch.Connect(context.Background(), "c1", 0, coretest.NewSignal(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	w := f.do(http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "gaze_hub_sessions_active 1") {
		t.Fatalf("metrics output missing sessions gauge:\n%s", w.Body.String())
	}
}

func TestStaticUIOnlyWhenPresent(t *testing.T) {
	f := newFixture(t, t.TempDir())
	if w := f.do(http.MethodGet, "/"); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d without UI, want 404", w.Code)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hub</h1>"), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	f = newFixture(t, dir)
	w := f.do(http.MethodGet, "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "hub") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestGpuRouterHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupGpuRouter(&config.Config{Mode: "test"}, gpu.NewInbound(nil, 0))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"gpu_conns":0`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
