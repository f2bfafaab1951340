package gpu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/core"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, time.Second, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestConnectPostsOfferAndReturnsAnswer(t *testing.T) {
	var got core.ConnectRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connect" || r.Method != http.MethodPost {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"sdp":"v=0 answer","type":"answer"}`))
	})

	answer, err := c.Connect(context.Background(), core.ConnectRequest{
		ClientID: "c1", Offset: 0.04, SDP: "v=0 offer", Type: "offer",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP != "v=0 answer" {
		t.Fatalf("answer=%+v", answer)
	}
	if got.ClientID != "c1" || got.Offset != 0.04 || got.SDP != "v=0 offer" || got.Type != "offer" {
		t.Fatalf("request body=%+v", got)
	}
}

func TestConnectNoRetryByDefault(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	_, err := c.Connect(context.Background(), core.ConnectRequest{ClientID: "c1"})
	if !errors.Is(err, ErrGpuUnreachable) {
		t.Fatalf("err=%v, want ErrGpuUnreachable", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1", hits.Load())
	}
}

func TestConnectRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"sdp":"ok","type":"answer"}`))
	}, WithRetries(2, time.Millisecond))

	if _, err := c.Connect(context.Background(), core.ConnectRequest{ClientID: "c1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d, want 3", hits.Load())
	}
}

func TestConnectDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad sdp", http.StatusBadRequest)
	}, WithRetries(3, time.Millisecond))

	_, err := c.Connect(context.Background(), core.ConnectRequest{ClientID: "c1"})
	if !errors.Is(err, ErrGpuUnreachable) {
		t.Fatalf("err=%v, want ErrGpuUnreachable", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1", hits.Load())
	}
}

func TestConnectRejectsNonAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sdp":"v=0","type":"offer"}`))
	})
	if _, err := c.Connect(context.Background(), core.ConnectRequest{}); !errors.Is(err, ErrGpuUnreachable) {
		t.Fatalf("err=%v, want ErrGpuUnreachable", err)
	}
}

func TestConnectTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	start := time.Now()
	if _, err := c.Connect(context.Background(), core.ConnectRequest{}); !errors.Is(err, ErrGpuUnreachable) {
		t.Fatalf("err=%v, want ErrGpuUnreachable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Connect took %v", elapsed)
	}
}

func TestPushCandidate(t *testing.T) {
	var body struct {
		ClientID  string                  `json:"clientId"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ice-candidate" {
			t.Errorf("path=%s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte("skipped"))
	})

	mid := "0"
	err := c.PushCandidate(context.Background(), "c1", webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid})
	if err != nil {
		t.Fatalf("PushCandidate: %v", err)
	}
	if body.ClientID != "c1" || body.Candidate.Candidate != "candidate:1" || body.Candidate.SDPMid == nil || *body.Candidate.SDPMid != "0" {
		t.Fatalf("body=%+v", body)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("ftp://gpu", time.Second); err == nil {
		t.Fatal("NewClient accepted ftp scheme")
	}
}
