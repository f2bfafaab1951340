package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the subset of *webrtc.TrackRemote the hub relies on.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RTPWriter is a sink for relayed packets (a local static RTP track).
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// MessageSender is the outbound half of a data channel.
type MessageSender interface {
	Send([]byte) error
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources.
	Close() error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer is the answering side of a negotiation.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateAndSetOffer and ApplyAnswer are the offering side.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnChannelMessage subscribes to messages of a remotely opened data channel.
	OnChannelMessage(label string, fn func([]byte))
	// AddTrackFrom attaches a local track mirroring src's codec and returns its writer.
	AddTrackFrom(src RemoteTrack) (RTPWriter, error)
	// OpenChannel creates a locally initiated data channel.
	OpenChannel(label string) (MessageSender, error)
	// OnClosed sets a callback for connection failure or close.
	OnClosed(func())
}

// PeerFactory creates the two kinds of peers a session owns.
type PeerFactory interface {
	NewClientPeer(sid SessionID) (MediaConnection, error)
	NewGpuPeer(sid SessionID) (MediaConnection, error)
}
