package domain

type SessionState int32

const (
	StateConnected SessionState = iota
	StateNegotiating
	StateBridged
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateNegotiating:
		return "negotiating"
	case StateBridged:
		return "bridged"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
