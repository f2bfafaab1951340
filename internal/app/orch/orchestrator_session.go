package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

// OnClientOffer answers the client's offer. Only the first offer of a session
// is accepted; a failed one returns the session to Connected.
func (o *Orchestrator) OnClientOffer(id domain.ClientID, offer webrtc.SessionDescription) error {
	sess, ok := o.Store.Get(id)
	if !ok {
		return app.ErrUnknownSession
	}

	var candidates *trickle
	pc, err := sess.BeginNegotiation(func() (core.MediaConnection, error) {
		pc, err := o.Peers.NewClientPeer(id)
		if err != nil {
			return nil, err
		}
		candidates = o.bindClientPeer(sess, pc)
		return pc, nil
	})
	if err != nil {
		if errors.Is(err, app.ErrDuplicateNegotiation) {
			o.Metrics.Negotiations.WithLabelValues(metrics.NegotiationRejected).Inc()
			log.Warn().Str("module", "orch").Str("sid", string(id)).Msg("duplicate offer rejected")
			return err
		}
		if errors.Is(err, app.ErrSessionClosed) {
			return err
		}
		o.Metrics.Negotiations.WithLabelValues(metrics.NegotiationFailed).Inc()
		return fmt.Errorf("create client peer: %w", err)
	}

	if err := pc.Start(sess.Context()); err != nil {
		return o.abortOffer(sess, pc, candidates, fmt.Errorf("start client peer: %w", err))
	}
	answer, err := pc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return o.abortOffer(sess, pc, candidates, fmt.Errorf("apply offer: %w", err))
	}

	if err := sess.Signal().SendAnswer(*answer); err != nil {
		o.onBackpressure(id, app.KindControl)
		return err
	}
	o.Metrics.Negotiations.WithLabelValues(metrics.NegotiationAnswered).Inc()
	log.Info().Str("module", "orch").Str("sid", string(id)).Msg("answer sent")
	candidates.Open()
	return nil
}

func (o *Orchestrator) abortOffer(sess *app.Session, pc core.MediaConnection, candidates *trickle, err error) error {
	candidates.Close()
	sess.AbortNegotiation(pc)
	o.Metrics.Negotiations.WithLabelValues(metrics.NegotiationFailed).Inc()
	log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("offer failed, session back to connected")
	return err
}

// bindClientPeer wires the callbacks of a fresh client peer. Local candidates
// are held until the answer is on its way so the client never sees a
// candidate before the description it belongs to.
func (o *Orchestrator) bindClientPeer(sess *app.Session, pc core.MediaConnection) *trickle {
	id := sess.ID()
	candidates := newTrickle(func(c webrtc.ICECandidateInit) {
		if err := sess.Signal().SendCandidate(c); err != nil {
			o.onBackpressure(id, app.KindCandidate)
		}
	})
	pc.OnICECandidate(candidates.Add)
	pc.OnTrack(func(_ context.Context, track core.RemoteTrack) {
		o.onTrack(sess, track)
	})
	pc.OnChannelMessage(metaLabel, func(data []byte) {
		o.forwardMeta(sess, data)
	})
	pc.OnClosed(func() {
		candidates.Close()
		if sess.ClientPeer() == pc {
			log.Info().Str("module", "orch").Str("sid", string(id)).Msg("client peer closed")
			o.Close(id)
		}
	})
	return candidates
}

// OnClientCandidate applies a remote candidate from the client. Candidates for
// unknown sessions or sessions without a client peer are dropped.
func (o *Orchestrator) OnClientCandidate(id domain.ClientID, cand webrtc.ICECandidateInit) {
	sess, ok := o.Store.Get(id)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(id)).Msg("candidate for unknown session dropped")
		return
	}
	pc := sess.ClientPeer()
	if pc == nil {
		log.Debug().Str("module", "orch").Str("sid", string(id)).Msg("candidate before offer dropped")
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("add client candidate")
	}
}

// forwardMeta relays one client frame-metadata message to the GPU, adding the
// hub-time timestamp.
func (o *Orchestrator) forwardMeta(sess *app.Session, data []byte) {
	sink := sess.MetaSink()
	if sink == nil {
		return
	}
	var meta domain.FrameMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("bad frame meta")
		return
	}
	hubTS := meta.TS - sess.Offset()
	meta.HubTS = &hubTS
	out, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := sink.Send(out); err != nil {
		log.Trace().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("frame meta dropped")
	}
}
