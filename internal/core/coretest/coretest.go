// Package coretest provides in-memory doubles for the core interfaces.
package coretest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/core"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

var (
	ErrFull                = errors.New("coretest: signal full")
	ErrNoRemoteDescription = errors.New("coretest: remote description is not set")
)

// Signal records everything the hub sends to one client.
type Signal struct {
	mu         sync.Mutex
	Answers    []webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Readies    int
	Results    []domain.Result
	Errors     []string
	Closes     int

	// Full makes every Send fail with ErrFull.
	Full bool

	ready chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ready: make(chan struct{}, 16)}
}

func (s *Signal) send(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Full {
		return ErrFull
	}
	fn()
	return nil
}

func (s *Signal) SendAnswer(a webrtc.SessionDescription) error {
	return s.send(func() { s.Answers = append(s.Answers, a) })
}

func (s *Signal) SendCandidate(c webrtc.ICECandidateInit) error {
	return s.send(func() { s.Candidates = append(s.Candidates, c) })
}

func (s *Signal) SendReady() error {
	return s.send(func() {
		s.Readies++
		select {
		case s.ready <- struct{}{}:
		default:
		}
	})
}

func (s *Signal) SendResult(r domain.Result) error {
	return s.send(func() { s.Results = append(s.Results, r) })
}

func (s *Signal) SendError(code string) error {
	return s.send(func() { s.Errors = append(s.Errors, code) })
}

func (s *Signal) Close() {
	s.mu.Lock()
	s.Closes++
	s.mu.Unlock()
}

// Ready is signalled on every SendReady.
func (s *Signal) Ready() <-chan struct{} { return s.ready }

func (s *Signal) Snapshot() (answers, readies, results int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Answers), s.Readies, len(s.Results)
}

// Peer is a scriptable core.MediaConnection.
type Peer struct {
	mu         sync.Mutex
	Name       string
	Offers     []webrtc.SessionDescription
	Answers    []webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Tracks     []core.RemoteTrack
	Channels   []string
	Closes     int
	Started    bool

	OfferErr   error
	AnswerErr  error
	CloseErr   error
	ClosePanic bool

	Writer  *Writer
	Channel *Channel

	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(context.Context, core.RemoteTrack)
	onMessage map[string]func([]byte)
	onClosed  func()
}

func NewPeer(name string) *Peer {
	return &Peer{
		Name:      name,
		Writer:    &Writer{},
		Channel:   &Channel{},
		onMessage: make(map[string]func([]byte)),
	}
}

func (p *Peer) Start(context.Context) error {
	p.mu.Lock()
	p.Started = true
	p.mu.Unlock()
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.Closes++
	err, boom := p.CloseErr, p.ClosePanic
	p.mu.Unlock()
	if boom {
		panic("coretest: close")
	}
	return err
}

// AddICECandidate fails until an offer or answer was applied, as pion does.
func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Offers) == 0 && len(p.Answers) == 0 {
		return ErrNoRemoteDescription
	}
	p.Candidates = append(p.Candidates, c)
	return nil
}

func (p *Peer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OfferErr != nil {
		return nil, p.OfferErr
	}
	p.Offers = append(p.Offers, offer)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + p.Name}, nil
}

func (p *Peer) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-from-" + p.Name}, nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AnswerErr != nil {
		return p.AnswerErr
	}
	p.Answers = append(p.Answers, answer)
	return nil
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnTrack(fn func(context.Context, core.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *Peer) OnChannelMessage(label string, fn func([]byte)) {
	p.mu.Lock()
	p.onMessage[label] = fn
	p.mu.Unlock()
}

func (p *Peer) AddTrackFrom(src core.RemoteTrack) (core.RTPWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Tracks = append(p.Tracks, src)
	return p.Writer, nil
}

func (p *Peer) OpenChannel(label string) (core.MessageSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Channels = append(p.Channels, label)
	return p.Channel, nil
}

func (p *Peer) OnClosed(fn func()) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

// EmitCandidate simulates local ICE gathering.
func (p *Peer) EmitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitTrack simulates an inbound remote track.
func (p *Peer) EmitTrack(ctx context.Context, t core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(ctx, t)
	}
}

// EmitMessage simulates a data channel message from the remote side.
func (p *Peer) EmitMessage(label string, data []byte) {
	p.mu.Lock()
	fn := p.onMessage[label]
	p.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// EmitClosed simulates connection failure.
func (p *Peer) EmitClosed() {
	p.mu.Lock()
	fn := p.onClosed
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Peer) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closes
}

func (p *Peer) CandidateList() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.Candidates...)
}

func (p *Peer) AnswerList() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.Answers...)
}

// Factory hands out Peers and remembers them in creation order.
type Factory struct {
	mu     sync.Mutex
	Client []*Peer
	Gpu    []*Peer

	// Prepare, when set, customises each peer before it is returned.
	Prepare func(*Peer)
}

func (f *Factory) NewClientPeer(sid core.SessionID) (core.MediaConnection, error) {
	p := NewPeer("client-" + string(sid))
	if f.Prepare != nil {
		f.Prepare(p)
	}
	f.mu.Lock()
	f.Client = append(f.Client, p)
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) NewGpuPeer(sid core.SessionID) (core.MediaConnection, error) {
	p := NewPeer("gpu-" + string(sid))
	if f.Prepare != nil {
		f.Prepare(p)
	}
	f.mu.Lock()
	f.Gpu = append(f.Gpu, p)
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) Counts() (client, gpu int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Client), len(f.Gpu)
}

func (f *Factory) LastClient() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Client) == 0 {
		return nil
	}
	return f.Client[len(f.Client)-1]
}

func (f *Factory) LastGpu() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Gpu) == 0 {
		return nil
	}
	return f.Gpu[len(f.Gpu)-1]
}

// Track feeds queued packets to ReadRTP and returns io.EOF once closed.
type Track struct {
	Packets chan *rtp.Packet
	once    sync.Once
}

func NewTrack(buf int) *Track {
	return &Track{Packets: make(chan *rtp.Packet, buf)}
}

func (t *Track) ID() string                { return "video" }
func (t *Track) StreamID() string          { return "stream" }
func (t *Track) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func (t *Track) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}
}

func (t *Track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.Packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func (t *Track) Close() { t.once.Do(func() { close(t.Packets) }) }

// Writer records written packets.
type Writer struct {
	mu      sync.Mutex
	Packets []*rtp.Packet
	Err     error
}

func (w *Writer) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return w.Err
	}
	w.Packets = append(w.Packets, p)
	return nil
}

func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Packets)
}

// Channel records data channel sends.
type Channel struct {
	mu   sync.Mutex
	Sent [][]byte
	Err  error
}

func (c *Channel) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Sent = append(c.Sent, append([]byte(nil), b...))
	return nil
}

func (c *Channel) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.Sent...)
}
