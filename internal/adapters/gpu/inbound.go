package gpu

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

const defaultReadLimit = 64 << 10

var (
	ErrMissingClientID = errors.New("frame without valid clientId")
	ErrMissingGaze     = errors.New("result without gaze")
	ErrMissingCand     = errors.New("ice-candidate without candidate")
)

// Sink receives demultiplexed GPU frames. Both calls must not block.
type Sink interface {
	OnResult(domain.Result)
	OnGpuCandidate(id domain.ClientID, cand webrtc.ICECandidateInit)
}

type frame struct {
	Type      string                   `json:"type"`
	ClientID  domain.ClientID          `json:"clientId"`
	Gaze      *domain.Gaze             `json:"gaze"`
	Blink     bool                     `json:"blink"`
	FrameID   int64                    `json:"frameId"`
	Timestamp int64                    `json:"timestamp"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

// Inbound accepts GPU WebSocket connections and hands every frame to Sink.
type Inbound struct {
	Sink      Sink
	ReadLimit int64

	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func NewInbound(sink Sink, readLimit int64) *Inbound {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &Inbound{
		Sink:      sink,
		ReadLimit: readLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Conns reports how many GPU sockets are open.
func (in *Inbound) Conns() int64 { return in.conns.Load() }

func (in *Inbound) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := in.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gpu").Msg("ws upgrade")
		return
	}
	in.conns.Add(1)
	defer in.conns.Add(-1)
	defer ws.Close()

	log.Info().Str("module", "gpu").Str("remote", r.RemoteAddr).Msg("GPU WS connected")
	ws.SetReadLimit(in.ReadLimit)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "gpu").Msg("GPU WS read error")
			}
			log.Info().Str("module", "gpu").Str("remote", r.RemoteAddr).Msg("GPU WS closed")
			return
		}
		if err := in.Dispatch(data); err != nil {
			log.Debug().Err(err).Str("module", "gpu").Msg("GPU frame dropped")
		}
	}
}

// Dispatch decodes one GPU frame and routes it by type.
func (in *Inbound) Dispatch(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("bad json: %w", err)
	}
	if _, err := domain.ParseClientID(string(f.ClientID)); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingClientID, err)
	}
	switch f.Type {
	case "ice-candidate":
		if f.Candidate == nil || f.Candidate.Candidate == "" {
			return ErrMissingCand
		}
		in.Sink.OnGpuCandidate(f.ClientID, *f.Candidate)
	case "", "gpu-result", "result":
		if f.Gaze == nil {
			return ErrMissingGaze
		}
		in.Sink.OnResult(domain.Result{
			ClientID:  f.ClientID,
			Gaze:      *f.Gaze,
			Blink:     f.Blink,
			FrameID:   f.FrameID,
			Timestamp: f.Timestamp,
		})
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	return nil
}
