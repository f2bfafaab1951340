package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/app/clock"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

// fakeHub records what the controller drives; sessions live in a real store.
type fakeHub struct {
	store *app.SessionStore

	mu           sync.Mutex
	events       []string
	offsets      []float64
	offers       []webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	signals      map[domain.ClientID]core.ClientSignal
	offerErr     error
	disconnected chan domain.ClientID
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		store:        app.NewSessionStore(),
		signals:      make(map[domain.ClientID]core.ClientSignal),
		disconnected: make(chan domain.ClientID, 4),
	}
}

func (h *fakeHub) Connect(ctx context.Context, id domain.ClientID, offset float64, sig core.ClientSignal, browser string) (*app.Session, error) {
	sess, err := h.store.Create(ctx, id, offset, sig, browser)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "connect")
	h.offsets = append(h.offsets, offset)
	h.signals[id] = sig
	return sess, nil
}

func (h *fakeHub) OnClientOffer(id domain.ClientID, offer webrtc.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "offer")
	h.offers = append(h.offers, offer)
	return h.offerErr
}

func (h *fakeHub) OnClientCandidate(id domain.ClientID, cand webrtc.ICECandidateInit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "candidate")
	h.candidates = append(h.candidates, cand)
}

func (h *fakeHub) Disconnect(id domain.ClientID) {
	if sess := h.store.Remove(id); sess != nil {
		sess.Close()
	}
	h.disconnected <- id
}

func (h *fakeHub) eventList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *fakeHub) onlySignal(t *testing.T) core.ClientSignal {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.signals) != 1 {
		t.Fatalf("signals=%d, want 1", len(h.signals))
	}
	for _, s := range h.signals {
		return s
	}
	return nil
}

// steppedClock returns base on the first call and base+step afterwards.
func steppedClock(base, step float64) func() time.Time {
	var mu sync.Mutex
	calls := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		v := base
		if calls > 0 {
			v += step
		}
		calls++
		return time.Unix(0, int64(v*1e9))
	}
}

type testServer struct {
	hub *fakeHub
	ctl *SignalWSController
	m   *metrics.Metrics
	url string
}

func newTestServer(t *testing.T, est clock.Estimator) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := newFakeHub()
	m := metrics.New(nil)
	ctl := NewSignalWSController(hub, est, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws/signal", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{
		hub: hub,
		ctl: ctl,
		m:   m,
		url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal",
	}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func writeText(t *testing.T, ws *websocket.Conn, s string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// handshake answers the ping-offset with client time t1.
func handshake(t *testing.T, ws *websocket.Conn, t1 string) {
	t.Helper()
	ping := readJSON(t, ws)
	if ping["type"] != "ping-offset" {
		t.Fatalf("first message=%v, want ping-offset", ping)
	}
	if _, ok := ping["timestamp"].(float64); !ok {
		t.Fatalf("ping timestamp=%v, want number", ping["timestamp"])
	}
	writeText(t, ws, `{"type":"pong-offset","timestamp":`+t1+`}`)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
