package orch

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/core/coretest"
	"github.com/ucsaes/MSH-mock/internal/core/mocks"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
	"go.uber.org/mock/gomock"
)

const testOffset = 0.25

var clientOffer = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "client-offer"}

type harness struct {
	o     *Orchestrator
	peers *coretest.Factory
	gpu   *mocks.MockGpuControl
	m     *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		peers: &coretest.Factory{},
		gpu:   mocks.NewMockGpuControl(ctrl),
		m:     metrics.New(nil),
	}
	h.o = New(app.NewSessionStore(), h.peers, h.gpu, h.m)
	t.Cleanup(h.o.Shutdown)
	return h
}

func (h *harness) connect(t *testing.T, id domain.ClientID) (*app.Session, *coretest.Signal) {
	t.Helper()
	sig := coretest.NewSignal()
	sess, err := h.o.Connect(context.Background(), id, testOffset, sig, "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sess, sig
}

// offer connects id and completes the client offer/answer.
func (h *harness) offer(t *testing.T, id domain.ClientID) (*app.Session, *coretest.Signal, *coretest.Peer) {
	t.Helper()
	sess, sig := h.connect(t, id)
	if err := h.o.OnClientOffer(id, clientOffer); err != nil {
		t.Fatalf("OnClientOffer: %v", err)
	}
	return sess, sig, h.peers.LastClient()
}

func gpuAnswer() *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "gpu-answer"}
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

func waitReady(t *testing.T, sig *coretest.Signal) {
	t.Helper()
	select {
	case <-sig.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ready was never sent")
	}
}
