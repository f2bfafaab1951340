package domain

// Gaze is a normalized screen position reported by the GPU peer.
type Gaze struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is one per-frame inference output addressed to a client.
type Result struct {
	ClientID  ClientID `json:"clientId"`
	Gaze      Gaze     `json:"gaze"`
	Blink     bool     `json:"blink"`
	FrameID   int64    `json:"frameId"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// FrameMeta is the per-frame metadata the client sends on its meta channel.
// HubTS is TS translated into hub time using the session clock offset.
type FrameMeta struct {
	FrameID int64    `json:"fid"`
	TS      float64  `json:"ts"`
	HubTS   *float64 `json:"hubTs,omitempty"`
}
