package ws

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepline/interview-voice/internal/playback"
)

func TestAuthorizedRequest(t *testing.T) {
	mk := func(query, header string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/stream"+query, nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}
	cases := []struct {
		name string
		req  *http.Request
		want bool
	}{
		{"query_match", mk("?password=s3cret", ""), true},
		{"query_mismatch", mk("?password=wrong", ""), false},
		{"bearer_match", mk("", "Bearer s3cret"), true},
		{"bearer_mismatch", mk("", "Bearer nope"), false},
		{"no_credentials", mk("", ""), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := authorizedRequest(tc.req, "s3cret"); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func dial(t *testing.T, srv *httptest.Server, rawQuery string) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.RawQuery = rawQuery
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServeHTTP_RejectsBadFirstFrameAuth(t *testing.T) {
	h := &Handler{AuthPassword: "s3cret", Bind: func(string, playback.Sink, *Conn) (Controls, func(), error) {
		t.Fatalf("bind must not run for unauthorized connections")
		return Controls{}, nil, nil
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	if err := conn.WriteJSON(controlMessage{Type: "auth", Password: "wrong"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var m controlMessage
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Type != "error" || !strings.Contains(m.Error, "unauthorized") {
		t.Fatalf("expected unauthorized error, got %+v", m)
	}
}

func TestServeHTTP_StartBindsAndFeedsAudio(t *testing.T) {
	var started, fed, barged, detached int32
	h := &Handler{AuthPassword: "s3cret", Bind: func(sessionID string, out playback.Sink, events *Conn) (Controls, func(), error) {
		if sessionID != "sess_1" {
			t.Errorf("unexpected session id %q", sessionID)
		}
		return Controls{
			StartListening: func() bool { atomic.AddInt32(&started, 1); return true },
			StopListening:  func() {},
			BargeIn:        func() { atomic.AddInt32(&barged, 1) },
			Feed:           func(pcm []byte) error { atomic.AddInt32(&fed, int32(len(pcm))); return nil },
		}, func() { atomic.AddInt32(&detached, 1) }, nil
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "password=s3cret")
	defer conn.Close()

	if err := conn.WriteJSON(controlMessage{Type: "start", SessionID: "sess_1"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	var ready controlMessage
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&ready); err != nil || ready.Type != "ready" {
		t.Fatalf("expected ready frame, got %+v err=%v", ready, err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.WriteJSON(controlMessage{Type: "barge-in"}); err != nil {
		t.Fatalf("write barge-in: %v", err)
	}
	if err := conn.WriteJSON(controlMessage{Type: "bye"}); err != nil {
		t.Fatalf("write bye: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&detached) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if atomic.LoadInt32(&started) != 1 || atomic.LoadInt32(&fed) != 320 {
		t.Fatalf("expected start + 320 fed bytes, got started=%d fed=%d", started, fed)
	}
	if atomic.LoadInt32(&barged) != 1 {
		t.Fatalf("expected barge-in to reach controls")
	}
	if atomic.LoadInt32(&detached) != 1 {
		t.Fatalf("expected detach to run exactly once")
	}
}
