package orch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/app/sfu"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

const (
	DefaultPushWorkers = 4

	metaLabel = "meta"
	gpuSink   = "gpu"
)

// Orchestrator chains the client-facing and GPU-facing peers of every session.
// All session state lives in Store; the orchestrator itself holds only
// collaborators.
type Orchestrator struct {
	Store   *app.SessionStore
	Peers   core.PeerFactory
	Gpu     core.GpuControl
	Relays  *sfu.RelayManager
	Results *app.ResultRouter
	Policy  app.Policy
	Metrics *metrics.Metrics

	PushWorkers int

	// remote GPU candidates per session, held until the GPU answer is applied
	gpuRemote sync.Map
}

func New(store *app.SessionStore, peers core.PeerFactory, gpu core.GpuControl, m *metrics.Metrics) *Orchestrator {
	if m == nil {
		m = metrics.New(nil)
	}
	o := &Orchestrator{
		Store:       store,
		Peers:       peers,
		Gpu:         gpu,
		Relays:      sfu.NewRelayManager(),
		Policy:      app.SimplePolicy{},
		Metrics:     m,
		PushWorkers: DefaultPushWorkers,
	}
	o.Results = &app.ResultRouter{
		Store:   store,
		Policy:  o.Policy,
		Metrics: m,
		OnEvict: func(id domain.ClientID) { o.Close(id) },
	}
	return o
}

// Connect registers a client whose clock offset is already known.
func (o *Orchestrator) Connect(
	ctx context.Context,
	id domain.ClientID,
	offset float64,
	signal core.ClientSignal,
	browser string,
) (*app.Session, error) {
	sess, err := o.Store.Create(ctx, id, offset, signal, browser)
	if err != nil {
		return nil, err
	}
	o.Metrics.SessionsOpened.Inc()
	o.Metrics.SessionsActive.Inc()
	o.Metrics.ClockOffset.Observe(offset)
	log.Info().Str("module", "orch").Str("sid", string(id)).Float64("offset", offset).Msg("session connected")
	return sess, nil
}

// OnResult routes one GPU inference result to its client.
func (o *Orchestrator) OnResult(res domain.Result) {
	o.Results.Route(res)
}

// Disconnect handles the client going away.
func (o *Orchestrator) Disconnect(id domain.ClientID) {
	if o.Close(id) {
		log.Info().Str("module", "orch").Str("sid", string(id)).Msg("client disconnected")
	}
}

// Close tears a session down: it leaves the store, both peers are closed, the
// relay stops and the client channel is closed. Only the first call for an id
// does anything.
func (o *Orchestrator) Close(id domain.ClientID) bool {
	sess := o.Store.Remove(id)
	if sess == nil {
		return false
	}
	closed := sess.Close()
	o.Relays.StopRelay(id)
	sess.Signal().Close()
	if closed {
		o.Metrics.SessionsActive.Dec()
	}
	log.Info().Str("module", "orch").Str("sid", string(id)).Msg("session closed")
	return closed
}

// Shutdown closes every session. Sessions that slip in while it runs are
// swept by the final CloseAll.
func (o *Orchestrator) Shutdown() {
	var wg conc.WaitGroup
	o.Store.Range(func(s *app.Session) bool {
		id := s.ID()
		wg.Go(func() { o.Close(id) })
		return true
	})
	wg.Wait()
	o.Store.CloseAll()
}

func (o *Orchestrator) onBackpressure(id domain.ClientID, kind app.MessageKind) {
	o.Metrics.SignalDropped.WithLabelValues(kind.String()).Inc()
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(id, kind) {
	case app.CloseSession:
		log.Warn().Str("module", "orch").Str("sid", string(id)).Str("kind", kind.String()).Msg("client too slow, closing session")
		o.Close(id)
	case app.DropMessage, app.NoAction:
	}
}
