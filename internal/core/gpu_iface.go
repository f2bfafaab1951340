package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

//go:generate mockgen -source=gpu_iface.go -destination=mocks/gpu_iface_mock.go -package=mocks

// ConnectRequest is the offer the hub submits to the GPU peer for one client.
type ConnectRequest struct {
	ClientID SessionID `json:"clientId"`
	Offset   float64   `json:"offset"`
	SDP      string    `json:"sdp"`
	Type     string    `json:"type"`
}

// GpuControl is the outbound half of the GPU control channel.
type GpuControl interface {
	// Connect submits an offer and blocks until the GPU answers, every attempt
	// fails or ctx ends. Implementations bound each attempt themselves.
	Connect(ctx context.Context, req ConnectRequest) (*webrtc.SessionDescription, error)
	// PushCandidate forwards one locally gathered candidate of the GPU-facing peer.
	PushCandidate(ctx context.Context, sid SessionID, cand webrtc.ICECandidateInit) error
}
