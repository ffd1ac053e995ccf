// Package ws is the browser audio bridge: one websocket carries control
// frames and inbound microphone PCM, and paced Opus frames back out.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/prepline/interview-voice/internal/playback"
)

// controlMessage is the JSON control frame format. Types: "auth", "start",
// "stop", "barge-in", "bye" inbound; "ready", "listening", "transcript",
// "error" outbound.
type controlMessage struct {
	Type      string `json:"type"`
	Password  string `json:"password,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	Final     bool   `json:"final,omitempty"`
	Error     string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// Conn serializes writes to one websocket connection. Gorilla conns do not
// support concurrent writers, and audio frames race with control events.
type Conn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConn wraps an upgraded websocket connection.
func NewConn(c *websocket.Conn) *Conn { return &Conn{conn: c} }

// WriteAudioFrame sends one encoded audio frame as a binary message.
func (c *Conn) WriteAudioFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Conn) writeControl(m controlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(m)
}

// Transcript pushes an interim or final transcript event to the client.
func (c *Conn) Transcript(text string, final bool) {
	_ = c.writeControl(controlMessage{Type: "transcript", Text: text, Final: final})
}

// Listening reports capture state changes to the client.
func (c *Conn) Listening(on bool) {
	typ := "listening"
	if !on {
		typ = "stopped"
	}
	_ = c.writeControl(controlMessage{Type: typ})
}

// Controls are the per-connection hooks into a bound session.
type Controls struct {
	StartListening func() bool
	StopListening  func()
	BargeIn        func()
	Feed           func(pcm []byte) error
}

// BindFunc attaches an upgraded connection to a live session. out receives
// synthesized speech; events receives transcript/state pushes. The returned
// detach func runs exactly once when the connection ends.
type BindFunc func(sessionID string, out playback.Sink, events *Conn) (Controls, func(), error)

// Handler serves the audio bridge endpoint.
type Handler struct {
	AuthPassword string
	Bind         BindFunc
}

// ServeHTTP upgrades and runs the connection until bye or error. Auth
// accepts a bearer header, a ?password= query, or an auth first frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()
	wc := NewConn(conn)

	if h.AuthPassword != "" && !authorizedRequest(r, h.AuthPassword) {
		// fall back to an auth frame before anything else
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil || mt != websocket.TextMessage {
			_ = wc.writeControl(controlMessage{Type: "error", Error: "auth required"})
			return
		}
		var m controlMessage
		if json.Unmarshal(data, &m) != nil || strings.ToLower(m.Type) != "auth" || m.Password != h.AuthPassword {
			_ = wc.writeControl(controlMessage{Type: "error", Error: "unauthorized"})
			return
		}
	}

	var (
		controls Controls
		detach   func()
		writer   *OpusStreamWriter
	)
	defer func() {
		if detach != nil {
			detach()
		}
		if writer != nil {
			writer.Close()
		}
	}()

	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			if controls.Feed != nil {
				if ferr := controls.Feed(data); ferr != nil {
					log.Printf("ws audio feed: %v", ferr)
				}
			}
			continue
		}
		var m controlMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "start":
			if detach == nil {
				writer, err = NewOpusStreamWriter(wc)
				if err != nil {
					_ = wc.writeControl(controlMessage{Type: "error", Error: "audio encoder unavailable"})
					return
				}
				controls, detach, err = h.Bind(m.SessionID, writer, wc)
				if err != nil {
					_ = wc.writeControl(controlMessage{Type: "error", Error: err.Error()})
					return
				}
				_ = wc.writeControl(controlMessage{Type: "ready", SessionID: m.SessionID})
			}
			if controls.StartListening != nil && !controls.StartListening() {
				_ = wc.writeControl(controlMessage{Type: "error", Error: "could not start listening"})
			}
		case "stop":
			if controls.StopListening != nil {
				controls.StopListening()
			}
		case "barge-in":
			if controls.BargeIn != nil {
				controls.BargeIn()
			}
			if writer != nil {
				writer.Reset()
			}
		case "bye":
			return
		}
	}
}

// authorizedRequest checks the bearer header and password query parameter.
func authorizedRequest(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	return false
}
