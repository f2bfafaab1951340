package core

import (
	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

// Frame is a raw encoded signaling message.
type Frame []byte

type SessionID = domain.ClientID

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ClientSignal is the hub-to-client half of the client signaling channel.
// Every Send is non-blocking and reports back-pressure as an error.
type ClientSignal interface {
	SendAnswer(webrtc.SessionDescription) error
	SendCandidate(webrtc.ICECandidateInit) error
	SendReady() error
	SendResult(domain.Result) error
	SendError(code string) error
	Close()
}
