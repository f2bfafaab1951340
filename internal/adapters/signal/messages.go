package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

const (
	typeClientOffer  = "client-offer"
	typeServerAnswer = "server-answer"
	typeICECandidate = "ice-candidate"
	typeReady        = "ready"
	typeGpuResult    = "gpu-result"
	typePingOffset   = "ping-offset"
	typePongOffset   = "pong-offset"
	typeError        = "error"
	typePing         = "ping"
	typePong         = "pong"
)

// Error codes carried by the error message.
const (
	CodeBadPayload     = "bad_payload"
	CodeUnknownType    = "unknown_type"
	CodeDuplicateOffer = "duplicate_offer"
	CodeOfferFailed    = "offer_failed"
)

var (
	ErrMissingOffer     = errors.New("offer missing")
	ErrMissingCandidate = errors.New("candidate missing")
	ErrMissingTimestamp = errors.New("timestamp missing")
)

type envelope struct {
	Type string `json:"type"`
}

type offerMessage struct {
	Type  string                     `json:"type"`
	Offer *webrtc.SessionDescription `json:"offer"`
}

type answerMessage struct {
	Type   string                    `json:"type"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type candidateMessage struct {
	Type      string                   `json:"type"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

type offsetMessage struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp"`
}

type resultMessage struct {
	Type      string      `json:"type"`
	Gaze      domain.Gaze `json:"gaze"`
	Blink     bool        `json:"blink"`
	FrameID   int64       `json:"frameId"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func decodeOffer(data []byte) (webrtc.SessionDescription, error) {
	var m offerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if m.Offer == nil || m.Offer.SDP == "" {
		return webrtc.SessionDescription{}, ErrMissingOffer
	}
	if m.Offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("offer has type %s", m.Offer.Type)
	}
	return *m.Offer, nil
}

func decodeCandidate(data []byte) (webrtc.ICECandidateInit, error) {
	var m candidateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	if m.Candidate == nil {
		return webrtc.ICECandidateInit{}, ErrMissingCandidate
	}
	return *m.Candidate, nil
}

func decodePong(data []byte) (float64, error) {
	var m offsetMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, err
	}
	if m.Timestamp == nil {
		return 0, ErrMissingTimestamp
	}
	return *m.Timestamp, nil
}
