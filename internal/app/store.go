package app

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

var (
	ErrSessionExists  = errors.New("session already exists")
	ErrUnknownSession = errors.New("unknown session")
)

const storeShards = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[domain.ClientID]*Session
}

// SessionStore maps client ids to live sessions. Ids hash onto independent
// shards so unrelated sessions never contend on one lock.
type SessionStore struct {
	shards [storeShards]*shard
}

func NewSessionStore() *SessionStore {
	s := &SessionStore{}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[domain.ClientID]*Session)}
	}
	return s
}

func (s *SessionStore) shardFor(id domain.ClientID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%storeShards]
}

// Create registers a new session in state Connected.
func (s *SessionStore) Create(
	ctx context.Context,
	id domain.ClientID,
	offset float64,
	signal core.ClientSignal,
	browser string,
) (*Session, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; ok {
		return nil, ErrSessionExists
	}
	sess := newSession(ctx, id, offset, signal, browser)
	sh.sessions[id] = sess
	log.Info().Str("module", "app.store").Str("sid", string(id)).Float64("offset", offset).Msg("created session")
	return sess, nil
}

func (s *SessionStore) Get(id domain.ClientID) (*Session, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, ok := sh.sessions[id]
	return sess, ok
}

// Remove unbinds id and returns the removed session, or nil if it was absent.
func (s *SessionStore) Remove(id domain.ClientID) *Session {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		return nil
	}
	delete(sh.sessions, id)
	log.Info().Str("module", "app.store").Str("sid", string(id)).Msg("removed session")
	return sess
}

// Range calls fn for every session until fn returns false. The callback runs
// without any shard lock held.
func (s *SessionStore) Range(fn func(*Session) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		batch := make([]*Session, 0, len(sh.sessions))
		for _, sess := range sh.sessions {
			batch = append(batch, sess)
		}
		sh.mu.RUnlock()
		for _, sess := range batch {
			if !fn(sess) {
				return
			}
		}
	}
}

func (s *SessionStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

func (s *SessionStore) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, s.Len())
	s.Range(func(sess *Session) bool {
		out = append(out, sess.Info())
		return true
	})
	return out
}

// CloseAll empties the store and closes every session concurrently.
func (s *SessionStore) CloseAll() {
	var wg conc.WaitGroup
	for _, sh := range s.shards {
		sh.mu.Lock()
		victims := sh.sessions
		sh.sessions = make(map[domain.ClientID]*Session)
		sh.mu.Unlock()
		for _, sess := range victims {
			wg.Go(func() { sess.Close() })
		}
	}
	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Str("module", "app.store").Str("panic", r.String()).Msg("close all sessions")
	}
}
