package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

var (
	ErrDuplicateNegotiation = errors.New("session already negotiating")
	ErrSessionClosed        = errors.New("session closed")
)

// Session is the per-client state. Peer fields and state are only touched
// under mu, which linearizes every mutation of one session.
type Session struct {
	id        domain.ClientID
	offset    float64
	browser   string
	createdAt time.Time
	signal    core.ClientSignal

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      domain.SessionState
	clientPeer core.MediaConnection
	gpuPeer    core.MediaConnection
	gpuClaimed bool
	metaSink   core.MessageSender
}

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	ID        domain.ClientID `json:"id"`
	State     string          `json:"state"`
	Offset    float64         `json:"offset"`
	Browser   string          `json:"browser,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	HasGpu    bool            `json:"has_gpu"`
}

func newSession(parent context.Context, id domain.ClientID, offset float64, signal core.ClientSignal, browser string) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        id,
		offset:    offset,
		browser:   browser,
		createdAt: time.Now(),
		signal:    signal,
		ctx:       ctx,
		cancel:    cancel,
		state:     domain.StateConnected,
	}
}

func (s *Session) ID() domain.ClientID       { return s.id }
func (s *Session) Offset() float64           { return s.offset }
func (s *Session) Signal() core.ClientSignal { return s.signal }
func (s *Session) Context() context.Context  { return s.ctx }
func (s *Session) Done() <-chan struct{}     { return s.ctx.Done() }
func (s *Session) CreatedAt() time.Time      { return s.createdAt }
func (s *Session) Browser() string           { return s.browser }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ClientPeer() core.MediaConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientPeer
}

func (s *Session) GpuPeer() core.MediaConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpuPeer
}

func (s *Session) MetaSink() core.MessageSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaSink
}

func (s *Session) SetMetaSink(ms core.MessageSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateClosed {
		s.metaSink = ms
	}
}

// BeginNegotiation moves Connected -> Negotiating, building the client peer
// with create while the session is locked so no second peer can appear.
func (s *Session) BeginNegotiation(create func() (core.MediaConnection, error)) (core.MediaConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.StateClosed:
		return nil, ErrSessionClosed
	case domain.StateConnected:
	default:
		return nil, ErrDuplicateNegotiation
	}
	pc, err := create()
	if err != nil {
		return nil, err
	}
	s.clientPeer = pc
	s.state = domain.StateNegotiating
	return pc, nil
}

// AbortNegotiation reverts a failed offer so the client may offer again.
// It reports whether pc was still the session's client peer.
func (s *Session) AbortNegotiation(pc core.MediaConnection) bool {
	s.mu.Lock()
	if s.clientPeer != pc || s.state != domain.StateNegotiating {
		s.mu.Unlock()
		return false
	}
	s.clientPeer = nil
	s.state = domain.StateConnected
	s.mu.Unlock()
	closePeer(s.id, "client", pc)
	return true
}

// ClaimGpuPeer is the one-shot guard for the GPU-facing peer. The first caller
// on a live session gets the peer built by create; later callers get false.
func (s *Session) ClaimGpuPeer(create func() (core.MediaConnection, error)) (core.MediaConnection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gpuClaimed || s.state == domain.StateClosed {
		return nil, false, nil
	}
	s.gpuClaimed = true
	pc, err := create()
	if err != nil {
		return nil, false, err
	}
	s.gpuPeer = pc
	return pc, true, nil
}

// MarkBridged moves Negotiating -> Bridged exactly once.
func (s *Session) MarkBridged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateNegotiating || s.gpuPeer == nil {
		return false
	}
	s.state = domain.StateBridged
	return true
}

// Close releases both peers and cancels pending work. Only the first call
// does anything; it reports whether this call performed the close.
func (s *Session) Close() bool {
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = domain.StateClosed
	client, gpu := s.clientPeer, s.gpuPeer
	s.clientPeer, s.gpuPeer, s.metaSink = nil, nil, nil
	s.mu.Unlock()

	s.cancel()
	closePeer(s.id, "client", client)
	closePeer(s.id, "gpu", gpu)
	return true
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.id,
		State:     s.state.String(),
		Offset:    s.offset,
		Browser:   s.browser,
		CreatedAt: s.createdAt,
		HasGpu:    s.gpuPeer != nil,
	}
}

// closePeer never lets a teardown failure escape: the session is being
// discarded anyway.
func closePeer(sid domain.ClientID, role string, pc core.MediaConnection) {
	if pc == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.session").Str("sid", string(sid)).Str("peer", role).Interface("panic", r).Msg("peer close panicked")
		}
	}()
	if err := pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Str("sid", string(sid)).Str("peer", role).Msg("peer close failed")
	}
}
