// Package clock estimates the offset between a client's clock and the hub's
// with a single ping/pong round trip.
package clock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrEstimationFailure = errors.New("clock offset estimation failed")

const DefaultTimeout = 5 * time.Second

// Exchange is the request/response channel to one client.
type Exchange interface {
	// SendPing delivers the hub send time T0 (unix seconds).
	SendPing(t0 float64) error
	// AwaitPong returns the client's local time T1 (unix seconds) from its reply.
	AwaitPong(ctx context.Context) (float64, error)
}

type Estimator struct {
	Now     func() time.Time
	Timeout time.Duration
}

// Offset is the client-minus-hub offset for one sample, assuming symmetric latency.
func Offset(t0, t1, t2 float64) float64 {
	return ((t1 - t0) + (t1 - t2)) / 2
}

// Seconds converts t to fractional unix seconds, the unit used on the wire.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Estimate runs one exchange. Every failure wraps ErrEstimationFailure.
func (e Estimator) Estimate(ctx context.Context, ex Exchange) (float64, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t0 := Seconds(now())
	if err := ex.SendPing(t0); err != nil {
		return 0, fmt.Errorf("%w: send ping: %w", ErrEstimationFailure, err)
	}
	t1, err := ex.AwaitPong(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: await pong: %w", ErrEstimationFailure, err)
	}
	t2 := Seconds(now())
	return Offset(t0, t1, t2), nil
}
