// Package gpu talks to the downstream inference peer: an HTTP control client
// for offers and candidates, and the inbound WebSocket the GPU pushes results on.
package gpu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/core"
)

var ErrGpuUnreachable = errors.New("gpu unreachable")

const (
	DefaultTimeout = 10 * time.Second

	connectPath   = "/connect"
	candidatePath = "/ice-candidate"
)

type statusError struct {
	status string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server err. status: %s. content: %s", e.status, e.body)
}

// Client implements core.GpuControl over the GPU's HTTP API.
type Client struct {
	endpoint *url.URL
	client   *http.Client
	retries  int
	backoff  time.Duration
}

var _ core.GpuControl = (*Client)(nil)

type Option func(*Client)

// WithRetries retries a failed /connect up to n more times, waiting
// backoff, 2*backoff, ... between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		c.backoff = backoff
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient builds a control client for endpoint. timeout bounds every
// single request.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("gpu url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gpu url: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		endpoint: u,
		client:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type answerBody struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

func (c *Client) Connect(ctx context.Context, req core.ConnectRequest) (*webrtc.SessionDescription, error) {
	var answer answerBody
	if err := c.post(ctx, connectPath, req, &answer, c.retries); err != nil {
		return nil, err
	}
	typ := webrtc.NewSDPType(answer.Type)
	if answer.SDP == "" || typ != webrtc.SDPTypeAnswer {
		return nil, fmt.Errorf("%w: bad answer (type %q)", ErrGpuUnreachable, answer.Type)
	}
	return &webrtc.SessionDescription{Type: typ, SDP: answer.SDP}, nil
}

type candidateBody struct {
	ClientID  core.SessionID          `json:"clientId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (c *Client) PushCandidate(ctx context.Context, sid core.SessionID, cand webrtc.ICECandidateInit) error {
	return c.post(ctx, candidatePath, candidateBody{ClientID: sid, Candidate: cand}, nil, 0)
}

func (c *Client) post(ctx context.Context, path string, body, out any, retries int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrGpuUnreachable, path, ctx.Err())
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		lastErr = c.do(ctx, path, payload, out)
		if lastErr == nil {
			return nil
		}
		var se *statusError
		if errors.As(lastErr, &se) && se.code < http.StatusInternalServerError {
			break
		}
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(lastErr).Str("module", "gpu").Str("path", path).Int("attempt", attempt+1).Msg("gpu request failed")
	}
	return fmt.Errorf("%w: %s: %w", ErrGpuUnreachable, path, lastErr)
}

func (c *Client) do(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.JoinPath(path).String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &statusError{status: res.Status, code: res.StatusCode, body: string(text)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
