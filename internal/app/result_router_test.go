package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ucsaes/MSH-mock/internal/core/coretest"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

func bridgedSession(t *testing.T, store *SessionStore, id domain.ClientID) (*Session, *coretest.Signal) {
	t.Helper()
	sig := coretest.NewSignal()
	sess, err := store.Create(context.Background(), id, 0, sig, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _ = sess.BeginNegotiation(peerMaker(coretest.NewPeer("client")))
	_, _, _ = sess.ClaimGpuPeer(peerMaker(coretest.NewPeer("gpu")))
	if !sess.MarkBridged() {
		t.Fatalf("MarkBridged failed")
	}
	return sess, sig
}

func TestResultRouter_DeliversToOwner(t *testing.T) {
	store := NewSessionStore()
	m := metrics.New(nil)
	r := &ResultRouter{Store: store, Policy: SimplePolicy{}, Metrics: m}
	_, a := bridgedSession(t, store, "a")
	_, b := bridgedSession(t, store, "b")

	r.Route(domain.Result{ClientID: "b", Gaze: domain.Gaze{X: 0.5, Y: 0.25}, Blink: true, FrameID: 7})

	if len(a.Results) != 0 {
		t.Fatalf("client a got %d results, want 0", len(a.Results))
	}
	if len(b.Results) != 1 {
		t.Fatalf("client b got %d results, want 1", len(b.Results))
	}
	got := b.Results[0]
	if got.FrameID != 7 || !got.Blink || got.Gaze.X != 0.5 || got.Gaze.Y != 0.25 {
		t.Fatalf("delivered %+v", got)
	}
	if v := testutil.ToFloat64(m.Results.WithLabelValues(metrics.ResultDelivered)); v != 1 {
		t.Fatalf("delivered counter=%v, want 1", v)
	}
}

func TestResultRouter_UnknownSessionDropped(t *testing.T) {
	store := NewSessionStore()
	m := metrics.New(nil)
	r := &ResultRouter{Store: store, Metrics: m}
	_, a := bridgedSession(t, store, "a")

	r.Route(domain.Result{ClientID: "stale", FrameID: 1})

	if len(a.Results) != 0 {
		t.Fatalf("result for unknown id reached another client")
	}
	if v := testutil.ToFloat64(m.Results.WithLabelValues(metrics.ResultUnknownSession)); v != 1 {
		t.Fatalf("unknown counter=%v, want 1", v)
	}
}

func TestResultRouter_NotBridgedDropped(t *testing.T) {
	store := NewSessionStore()
	sig := coretest.NewSignal()
	_, _ = store.Create(context.Background(), "a", 0, sig, "")
	r := &ResultRouter{Store: store}

	r.Route(domain.Result{ClientID: "a", FrameID: 1})

	if len(sig.Results) != 0 {
		t.Fatalf("result delivered before bridge")
	}
}

func TestResultRouter_ClosedSessionDropped(t *testing.T) {
	store := NewSessionStore()
	sess, sig := bridgedSession(t, store, "a")
	sess.Close()
	r := &ResultRouter{Store: store}

	r.Route(domain.Result{ClientID: "a", FrameID: 1})

	if len(sig.Results) != 0 {
		t.Fatalf("result delivered to closed session")
	}
}

func TestResultRouter_BackpressureDropsWithoutEviction(t *testing.T) {
	store := NewSessionStore()
	_, sig := bridgedSession(t, store, "a")
	sig.Full = true
	evicted := false
	m := metrics.New(nil)
	r := &ResultRouter{Store: store, Policy: SimplePolicy{}, Metrics: m, OnEvict: func(domain.ClientID) { evicted = true }}

	r.Route(domain.Result{ClientID: "a", FrameID: 1})

	if evicted {
		t.Fatalf("slow client evicted for a result")
	}
	if v := testutil.ToFloat64(m.Results.WithLabelValues(metrics.ResultBackpressure)); v != 1 {
		t.Fatalf("backpressure counter=%v, want 1", v)
	}
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}
	if got := p.OnBackPressure("a", KindControl); got != CloseSession {
		t.Fatalf("control action=%v, want CloseSession", got)
	}
	if got := p.OnBackPressure("a", KindResult); got != DropMessage {
		t.Fatalf("result action=%v, want DropMessage", got)
	}
	if got := p.OnBackPressure("a", KindCandidate); got != DropMessage {
		t.Fatalf("candidate action=%v, want DropMessage", got)
	}
}
