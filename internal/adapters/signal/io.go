package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/app"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()

	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(c.id)).Msg("readPump closing")
		close(c.inbox)
		c.Close()
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(c.id)
		}
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	if ctl.PingPeriod > 0 {
		pongWait := ctl.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("readPump read error")
			}
			return
		}
		if ctl.Limiter != nil && !ctl.Limiter.Allow(c.id) {
			ctl.Metrics.SignalDropped.WithLabelValues("rate_limited").Inc()
			continue
		}
		select {
		case c.inbox <- data:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("bad json")
		_ = c.SendError(CodeBadPayload)
		return
	}

	switch env.Type {
	case typeClientOffer:
		ctl.handleOffer(c, data)
	case typeICECandidate:
		ctl.handleCandidate(c, data)
	case typePongOffset:
		log.Debug().Str("module", "signal").Str("sid", string(c.id)).Msg("late pong ignored")
	case typePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(c.id)).Str("type", env.Type).Msg("unknown signal")
		_ = c.SendError(CodeUnknownType)
	}
}

func (ctl *SignalWSController) handleOffer(c *WsSignalConn, data []byte) {
	offer, err := decodeOffer(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("bad offer payload")
		_ = c.SendError(CodeBadPayload)
		return
	}

	err = ctl.Hub.OnClientOffer(c.id, offer)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrDuplicateNegotiation):
		_ = c.SendError(CodeDuplicateOffer)
	case errors.Is(err, app.ErrSessionClosed), errors.Is(err, app.ErrUnknownSession), errors.Is(err, ErrBackpressure), errors.Is(err, ErrClosed):
	default:
		_ = c.SendError(CodeOfferFailed)
	}
}

func (ctl *SignalWSController) handleCandidate(c *WsSignalConn, data []byte) {
	cand, err := decodeCandidate(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("bad candidate payload")
		_ = c.SendError(CodeBadPayload)
		return
	}
	ctl.Hub.OnClientCandidate(c.id, cand)
}
