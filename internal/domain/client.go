// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxClientIDLen = 64

var (
	ErrClientIDEmpty   = errors.New("client id empty")
	ErrClientIDTooLong = errors.New("client id too long")
)

// ClientID identifies one connected browser for the lifetime of its session.
type ClientID string

// NewClientID allocates a fresh id at connection time.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// ParseClientID validates an id received from the wire (GPU frames, REST paths).
func ParseClientID(raw string) (ClientID, error) {
	if len(raw) == 0 {
		return "", ErrClientIDEmpty
	}
	if len(raw) > MaxClientIDLen {
		return "", ErrClientIDTooLong
	}
	return ClientID(raw), nil
}
