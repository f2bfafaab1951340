package app

import (
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

// ResultRouter delivers inbound GPU results to the owning client. Results for
// absent or not yet bridged sessions are dropped; nothing is buffered.
type ResultRouter struct {
	Store   *SessionStore
	Policy  Policy
	Metrics *metrics.Metrics
	// OnEvict is called when the policy asks to close a session.
	OnEvict func(domain.ClientID)
}

func (r *ResultRouter) Route(res domain.Result) {
	sess, ok := r.Store.Get(res.ClientID)
	if !ok {
		r.count(metrics.ResultUnknownSession)
		log.Debug().Str("module", "app.results").Str("sid", string(res.ClientID)).Int64("frame", res.FrameID).Msg("result for unknown session dropped")
		return
	}
	if sess.State() != domain.StateBridged {
		r.count(metrics.ResultNotBridged)
		log.Debug().Str("module", "app.results").Str("sid", string(res.ClientID)).Str("state", sess.State().String()).Msg("result before bridge dropped")
		return
	}
	if err := sess.Signal().SendResult(res); err != nil {
		r.count(metrics.ResultBackpressure)
		if r.Policy != nil && r.Policy.OnBackPressure(res.ClientID, KindResult) == CloseSession && r.OnEvict != nil {
			r.OnEvict(res.ClientID)
		}
		return
	}
	r.count(metrics.ResultDelivered)
}

func (r *ResultRouter) count(outcome string) {
	if r.Metrics != nil {
		r.Metrics.Results.WithLabelValues(outcome).Inc()
	}
}
