package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/core"
)

var ErrNoLocalDescription = errors.New("rtc: no local description")

var _ core.MediaConnection = (*WebRTCConnection)(nil)

type WebRTCConnection struct {
	pc   *webrtc.PeerConnection
	sid  core.SessionID
	role string

	mu        sync.Mutex
	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(ctx context.Context, track core.RemoteTrack)
	onMessage map[string]func([]byte)
	onClosed  func()

	cancel  context.CancelFunc
	stopped bool
	closed  atomic.Bool
}

func newWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, sid core.SessionID, role string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{
		pc:        pc,
		sid:       sid,
		role:      role,
		onMessage: make(map[string]func([]byte)),
	}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopped || c.closed.Load() {
		c.mu.Unlock()
		cancel()
		return webrtc.ErrConnectionClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer", c.role).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer", c.role).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.mu.Lock()
		fn := c.onMessage[dc.Label()]
		c.mu.Unlock()
		if fn == nil {
			log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
	})

	return nil
}

// ApplyOfferAndCreateAnswer answers without waiting for gathering; candidates
// trickle through OnICECandidate.
func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.localDescription()
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.localDescription()
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) localDescription() (*webrtc.SessionDescription, error) {
	ld := c.pc.LocalDescription()
	if ld == nil {
		return nil, ErrNoLocalDescription
	}
	return ld, nil
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := c.pc.Close()
	if err == nil {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer", c.role).Msg("closed")
	}
	c.fireClosed()
	return err
}

// fireClosed runs the callback at most once, off the pion callback goroutine,
// since the callback usually closes this connection again.
func (c *WebRTCConnection) fireClosed() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// OnChannelMessage must be set before the remote opens the channel.
func (c *WebRTCConnection) OnChannelMessage(label string, fn func([]byte)) {
	c.mu.Lock()
	c.onMessage[label] = fn
	c.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// AddTrackFrom attaches a local static RTP track carrying src's codec and
// drains RTCP from its sender.
func (c *WebRTCConnection) AddTrackFrom(src core.RemoteTrack) (core.RTPWriter, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, src.ID(), src.StreamID())
	if err != nil {
		return nil, err
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}
	go c.readRTCP(sender)
	return local, nil
}

func (c *WebRTCConnection) readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Uint32("ssrc", p.MediaSSRC).Msg("GPU requested keyframe")
			case *rtcp.ReceiverReport:
				for _, r := range p.Reports {
					log.Trace().Str("module", "webrtc").Str("sid", string(c.sid)).Uint8("fraction_lost", r.FractionLost).Uint32("jitter", r.Jitter).Msg("GPU receiver report")
				}
			}
		}
	}
}

func (c *WebRTCConnection) OpenChannel(label string) (core.MessageSender, error) {
	ordered := false
	maxRetransmits := uint16(0)
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return nil, err
	}
	return dc, nil
}
