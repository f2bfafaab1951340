package gpu

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

type recordingSink struct {
	mu         sync.Mutex
	results    []domain.Result
	candidates map[domain.ClientID][]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{candidates: make(map[domain.ClientID][]string)}
}

func (s *recordingSink) OnResult(r domain.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) OnGpuCandidate(id domain.ClientID, c webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[id] = append(s.candidates[id], c.Candidate)
}

func (s *recordingSink) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func TestDispatchDemultiplexes(t *testing.T) {
	sink := newRecordingSink()
	in := NewInbound(sink, 0)

	frames := []string{
		`{"clientId":"a","frameId":1,"timestamp":1700000000000,"gaze":{"x":0.5,"y":0.25},"blink":true}`,
		`{"type":"ice-candidate","clientId":"b","candidate":{"candidate":"candidate:1","sdpMid":"0"}}`,
		`{"clientId":"b","frameId":9,"gaze":{"x":0.1,"y":0.9}}`,
	}
	for _, f := range frames {
		if err := in.Dispatch([]byte(f)); err != nil {
			t.Fatalf("Dispatch(%s): %v", f, err)
		}
	}

	if len(sink.results) != 2 {
		t.Fatalf("results=%d, want 2", len(sink.results))
	}
	a := sink.results[0]
	if a.ClientID != "a" || a.FrameID != 1 || !a.Blink || a.Gaze.X != 0.5 || a.Gaze.Y != 0.25 || a.Timestamp != 1700000000000 {
		t.Fatalf("result a=%+v", a)
	}
	if sink.results[1].ClientID != "b" || sink.results[1].Timestamp != 0 {
		t.Fatalf("result b=%+v", sink.results[1])
	}
	if got := sink.candidates["b"]; len(got) != 1 || got[0] != "candidate:1" {
		t.Fatalf("candidates[b]=%v", got)
	}
}

func TestDispatchRejectsMalformed(t *testing.T) {
	in := NewInbound(newRecordingSink(), 0)
	cases := []struct {
		frame string
		want  error
	}{
		{`{"gaze":{"x":0,"y":0}}`, ErrMissingClientID},
		{`{"clientId":"a"}`, ErrMissingGaze},
		{`{"type":"ice-candidate","clientId":"a"}`, ErrMissingCand},
	}
	for _, tc := range cases {
		if err := in.Dispatch([]byte(tc.frame)); !errors.Is(err, tc.want) {
			t.Fatalf("Dispatch(%s)=%v, want %v", tc.frame, err, tc.want)
		}
	}
	if err := in.Dispatch([]byte(`{"type":"telemetry","clientId":"a"}`)); err == nil {
		t.Fatal("unknown type accepted")
	}
	if err := in.Dispatch([]byte(`nope`)); err == nil {
		t.Fatal("bad json accepted")
	}
}

func TestInboundWebSocket(t *testing.T) {
	sink := newRecordingSink()
	in := NewInbound(sink, 0)
	srv := httptest.NewServer(in)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	for _, f := range []string{`garbage`, `{"clientId":"a","frameId":1,"gaze":{"x":1,"y":1}}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.resultCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("results=%d, want 1", sink.resultCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if in.Conns() != 1 {
		t.Fatalf("conns=%d, want 1", in.Conns())
	}
}
