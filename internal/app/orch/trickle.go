package orch

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// trickle holds locally gathered ICE candidates until the remote side has our
// description, then delivers them in gathering order.
type trickle struct {
	mu      sync.Mutex
	open    bool
	closed  bool
	pending []webrtc.ICECandidateInit
	deliver func(webrtc.ICECandidateInit)
}

func newTrickle(deliver func(webrtc.ICECandidateInit)) *trickle {
	return &trickle{deliver: deliver}
}

func (t *trickle) Add(c webrtc.ICECandidateInit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
	case !t.open:
		t.pending = append(t.pending, c)
	default:
		t.deliver(c)
	}
}

// Open flushes everything queued so far.
func (t *trickle) Open() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open || t.closed {
		return
	}
	t.open = true
	for _, c := range t.pending {
		t.deliver(c)
	}
	t.pending = nil
}

// Close discards queued candidates; nothing is delivered afterwards.
func (t *trickle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
}
