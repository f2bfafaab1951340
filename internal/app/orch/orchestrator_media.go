package orch

import (
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

// gpuLink gates candidates in both directions of the GPU hop until the GPU
// has answered.
type gpuLink struct {
	local  *trickle
	remote *trickle
}

func (l *gpuLink) open() {
	l.local.Open()
	l.remote.Open()
}

func (l *gpuLink) close() {
	l.local.Close()
	l.remote.Close()
}

// onTrack is called for every remote track of the client peer. The first one
// builds the GPU-facing peer; later tracks are ignored.
func (o *Orchestrator) onTrack(sess *app.Session, track core.RemoteTrack) {
	id := sess.ID()
	var link *gpuLink
	gpu, claimed, err := sess.ClaimGpuPeer(func() (core.MediaConnection, error) {
		pc, err := o.Peers.NewGpuPeer(id)
		if err != nil {
			return nil, err
		}
		link = o.bindGpuPeer(sess, pc)
		return pc, nil
	})
	if err != nil {
		o.Metrics.Bridges.WithLabelValues(metrics.BridgeFailed).Inc()
		log.Error().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("create gpu peer")
		return
	}
	if !claimed {
		log.Debug().Str("module", "orch").Str("sid", string(id)).Str("track_id", track.ID()).Msg("extra track ignored")
		return
	}

	if err := gpu.Start(sess.Context()); err != nil {
		o.failBridge(sess, link, err, "start gpu peer")
		return
	}
	w, err := gpu.AddTrackFrom(track)
	if err != nil {
		o.failBridge(sess, link, err, "add gpu track")
		return
	}
	o.Relays.StartRelay(sess.Context(), id, track)
	o.Relays.AddSink(id, gpuSink, w)
	// no media to the GPU until it has answered
	o.Relays.MarkSinkMuted(id, gpuSink)

	meta, err := gpu.OpenChannel(metaLabel)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("open gpu meta channel")
	} else {
		sess.SetMetaSink(meta)
	}

	go o.negotiateGpu(sess, gpu, link)
}

// bindGpuPeer forwards the GPU peer's local candidates over the control
// channel through a bounded pool, once the GPU knows about the session, and
// holds candidates pushed by the GPU until its answer is applied.
func (o *Orchestrator) bindGpuPeer(sess *app.Session, pc core.MediaConnection) *gpuLink {
	id := sess.ID()
	workers := o.PushWorkers
	if workers <= 0 {
		workers = DefaultPushWorkers
	}
	pushes := pool.New().WithMaxGoroutines(workers)
	link := &gpuLink{
		local: newTrickle(func(c webrtc.ICECandidateInit) {
			pushes.Go(func() {
				if err := o.Gpu.PushCandidate(sess.Context(), id, c); err != nil {
					log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("push gpu candidate")
				}
			})
		}),
		remote: newTrickle(func(c webrtc.ICECandidateInit) {
			if err := pc.AddICECandidate(c); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
				log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("add gpu candidate")
			}
		}),
	}
	o.gpuRemote.Store(id, link.remote)
	pc.OnICECandidate(link.local.Add)
	pc.OnClosed(func() {
		if sess.GpuPeer() == pc {
			log.Warn().Str("module", "orch").Str("sid", string(id)).Msg("gpu peer closed")
		}
	})
	go func() {
		<-sess.Done()
		link.close()
		o.gpuRemote.CompareAndDelete(id, link.remote)
		pushes.Wait()
	}()
	return link
}

// negotiateGpu runs the hub-to-GPU offer/answer. It never blocks the client
// path; a session closed meanwhile makes the answer a no-op.
func (o *Orchestrator) negotiateGpu(sess *app.Session, gpu core.MediaConnection, link *gpuLink) {
	id := sess.ID()
	offer, err := gpu.CreateAndSetOffer()
	if err != nil {
		o.failBridge(sess, link, err, "create gpu offer")
		return
	}

	answer, err := o.Gpu.Connect(sess.Context(), core.ConnectRequest{
		ClientID: id,
		Offset:   sess.Offset(),
		SDP:      offer.SDP,
		Type:     offer.Type.String(),
	})
	if sess.State() == domain.StateClosed {
		link.close()
		o.Metrics.Bridges.WithLabelValues(metrics.BridgeDroppedAfterClose).Inc()
		log.Debug().Str("module", "orch").Str("sid", string(id)).Msg("gpu answer after close dropped")
		return
	}
	if err != nil {
		link.close()
		o.Metrics.Bridges.WithLabelValues(metrics.BridgeGpuUnreachable).Inc()
		log.Error().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("gpu connect failed, session stays negotiating")
		return
	}

	if err := gpu.ApplyAnswer(*answer); err != nil {
		o.failBridge(sess, link, err, "apply gpu answer")
		return
	}
	link.open()
	o.Relays.MarkSinkOk(id, gpuSink)

	if !sess.MarkBridged() {
		o.Metrics.Bridges.WithLabelValues(metrics.BridgeDroppedAfterClose).Inc()
		return
	}
	o.Metrics.Bridges.WithLabelValues(metrics.BridgeReady).Inc()
	log.Info().Str("module", "orch").Str("sid", string(id)).Msg("session bridged")
	if err := sess.Signal().SendReady(); err != nil {
		o.onBackpressure(id, app.KindControl)
	}
}

// failBridge stops the bridge attempt; the GPU sink stops receiving media.
func (o *Orchestrator) failBridge(sess *app.Session, link *gpuLink, err error, step string) {
	link.close()
	o.Relays.MarkSinkDelete(sess.ID(), gpuSink)
	o.Metrics.Bridges.WithLabelValues(metrics.BridgeFailed).Inc()
	log.Error().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Str("step", step).Msg("gpu bridge failed")
}

// OnGpuCandidate applies a candidate the GPU pushed for a client's session.
// Candidates that beat the GPU answer are held and applied in arrival order.
func (o *Orchestrator) OnGpuCandidate(id domain.ClientID, cand webrtc.ICECandidateInit) {
	v, ok := o.gpuRemote.Load(id)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(id)).Msg("gpu candidate without gpu peer dropped")
		return
	}
	v.(*trickle).Add(cand)
}
