package app

import "github.com/ucsaes/MSH-mock/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	CloseSession
)

// MessageKind classifies hub-to-client notifications for back-pressure decisions.
type MessageKind int

const (
	KindResult MessageKind = iota
	KindCandidate
	KindControl
)

type Policy interface {
	OnBackPressure(sid domain.ClientID, kind MessageKind) BackpressureAction
}

// SimplePolicy sheds results and candidates but tears down a client that
// cannot even take an answer or ready notification.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.ClientID, kind MessageKind) BackpressureAction {
	switch kind {
	case KindControl:
		return CloseSession
	case KindResult, KindCandidate:
		return DropMessage
	}
	return NoAction
}

func (k MessageKind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindCandidate:
		return "candidate"
	case KindControl:
		return "control"
	}
	return "unknown"
}
