package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/app/clock"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
	ErrBacklogFull  = errors.New("too many messages before pong")
)

const (
	DefaultSendBuffer = 32
	DefaultReadLimit  = 32768

	inboxSize    = 64
	backlogLimit = 32
	writeWait    = 5 * time.Second
)

// Hub is what the signaling channel drives.
type Hub interface {
	Connect(ctx context.Context, id domain.ClientID, offset float64, signal core.ClientSignal, browser string) (*app.Session, error)
	OnClientOffer(id domain.ClientID, offer webrtc.SessionDescription) error
	OnClientCandidate(id domain.ClientID, cand webrtc.ICECandidateInit)
	Disconnect(id domain.ClientID)
}

type SignalWSController struct {
	Hub       Hub
	Estimator clock.Estimator
	Limiter   *RateLimiter
	Metrics   *metrics.Metrics

	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(hub Hub, est clock.Estimator, m *metrics.Metrics) *SignalWSController {
	if m == nil {
		m = metrics.New(nil)
	}
	return &SignalWSController{
		Hub:        hub,
		Estimator:  est,
		Limiter:    NewRateLimiter(DefaultRateLimit, DefaultRateInterval),
		Metrics:    m,
		SendBuffer: DefaultSendBuffer,
		ReadLimit:  DefaultReadLimit,
	}
}

// WsSignalConn is one client's WebSocket. Outbound frames go through a
// bounded queue drained by writePump; inbound frames arrive on inbox from
// readPump.
type WsSignalConn struct {
	id    domain.ClientID
	conn  *websocket.Conn
	send  chan core.Frame
	inbox chan []byte
	done  chan struct{}

	// backlog is only touched by the serve goroutine.
	backlog [][]byte

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(id domain.ClientID, ws *websocket.Conn, sendBuffer int) *WsSignalConn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &WsSignalConn{
		id:    id,
		conn:  ws,
		send:  make(chan core.Frame, sendBuffer),
		inbox: make(chan []byte, inboxSize),
		done:  make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *WsSignalConn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) SendAnswer(answer webrtc.SessionDescription) error {
	return c.sendJSON(answerMessage{Type: typeServerAnswer, Answer: answer})
}

func (c *WsSignalConn) SendCandidate(cand webrtc.ICECandidateInit) error {
	return c.sendJSON(candidateMessage{Type: typeICECandidate, Candidate: &cand})
}

func (c *WsSignalConn) SendReady() error {
	return c.sendJSON(envelope{Type: typeReady})
}

func (c *WsSignalConn) SendResult(r domain.Result) error {
	return c.sendJSON(resultMessage{
		Type:      typeGpuResult,
		Gaze:      r.Gaze,
		Blink:     r.Blink,
		FrameID:   r.FrameID,
		Timestamp: r.Timestamp,
	})
}

func (c *WsSignalConn) SendError(code string) error {
	return c.sendJSON(errorMessage{Type: typeError, Error: code})
}

// SendPing starts the clock offset exchange.
func (c *WsSignalConn) SendPing(t0 float64) error {
	return c.sendJSON(offsetMessage{Type: typePingOffset, Timestamp: &t0})
}

// AwaitPong waits for the client's pong-offset. Anything else that arrives
// first is held in the backlog for dispatch once the session exists.
func (c *WsSignalConn) AwaitPong(ctx context.Context) (float64, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case data, ok := <-c.inbox:
			if !ok {
				return 0, ErrClosed
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err == nil && env.Type == typePongOffset {
				return decodePong(data)
			}
			if len(c.backlog) >= backlogLimit {
				return 0, ErrBacklogFull
			}
			c.backlog = append(c.backlog, data)
		}
	}
}

func (c *WsSignalConn) takeBacklog() [][]byte {
	b := c.backlog
	c.backlog = nil
	return b
}

var (
	_ core.SignalConnection = (*WsSignalConn)(nil)
	_ core.ClientSignal     = (*WsSignalConn)(nil)
	_ clock.Exchange        = (*WsSignalConn)(nil)
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side goes away. The client id is assigned here.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.NewClientID()
	browser := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", string(id)).Str("browser", browser).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(id, ws, ctl.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
	go func() {
		defer cancel()
		ctl.serve(ctx, browser, conn)
	}()
}

// serve measures the clock offset, registers the session and then handles
// the client's messages strictly in arrival order.
func (ctl *SignalWSController) serve(ctx context.Context, browser string, c *WsSignalConn) {
	defer c.Close()

	offset, err := ctl.Estimator.Estimate(ctx, c)
	if err != nil {
		ctl.Metrics.EstimationFailures.Inc()
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("clock offset failed, dropping client")
		return
	}

	sess, err := ctl.Hub.Connect(ctx, c.id, offset, c, browser)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("create session")
		return
	}
	defer ctl.Hub.Disconnect(c.id)

	for _, data := range c.takeBacklog() {
		ctl.handleSignal(c, data)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case data, ok := <-c.inbox:
			if !ok {
				return
			}
			ctl.handleSignal(c, data)
		}
	}
}
