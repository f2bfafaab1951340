package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/core"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[core.SessionID]*Relay),
	}
}

// StartRelay creates a new Relay for the client's track and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, track core.RemoteTrack) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(sid)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for sid")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[sid] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSink attaches a writer to the relay of sid under name.
func (m *RelayManager) AddSink(sid core.SessionID, name string, w core.RTPWriter) bool {
	m.mu.RLock()
	relay, ok := m.relays[sid]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(name, NewOutTrack(w))
	return true
}

// MarkSinkOk resumes writing to a muted sink of sid's relay.
func (m *RelayManager) MarkSinkOk(sid core.SessionID, name string) {
	m.markSink(sid, name, (*OutTrack).MarkOk)
}

// MarkSinkMuted keeps a sink attached but stops writing to it.
func (m *RelayManager) MarkSinkMuted(sid core.SessionID, name string) {
	m.markSink(sid, name, (*OutTrack).MarkMuted)
}

// MarkSinkDelete marks a sink of sid's relay as TrackStateDelete.
func (m *RelayManager) MarkSinkDelete(sid core.SessionID, name string) {
	m.markSink(sid, name, (*OutTrack).MarkDelete)
}

func (m *RelayManager) markSink(sid core.SessionID, name string, mark func(*OutTrack)) {
	if ot, ok := m.Sink(sid, name); ok {
		mark(ot)
	}
}

// Sink returns the named sink of sid's relay.
func (m *RelayManager) Sink(sid core.SessionID, name string) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return relay.OutTrack(name)
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(sid core.SessionID) {
	m.mu.Lock()
	relay, ok := m.relays[sid]
	if ok {
		delete(m.relays, sid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// HasRelay reports whether a relay exists for sid.
func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[sid]
	return ok
}

func (m *RelayManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
