package capture

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
)

// silenceThreshold is the base inactivity window required before a segment is
// considered finalized. Conservative, to avoid cutting the speaker mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added to the threshold when the last word suggests
// the speaker is likely to continue (e.g. "and", "if", "because").
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late recognizer updates after the silence
// threshold has been crossed, before committing the segment.
const stabilizationGrace = 250 * time.Millisecond

// Recognizer streams PCM to a realtime recognition provider over a WebSocket
// and turns the provider's running-transcript messages into interim/final
// segment events. It implements Service.
type Recognizer struct {
	apiKey  string
	baseURL string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	userStop  bool
	cb        Callbacks
	audio     chan []byte
	stopCh    chan struct{}
	endOnce   *sync.Once
	// gen increments per Start so a loop unwinding from a previous
	// connection cannot end the session that replaced it.
	gen int

	// segment accumulation
	accMu        sync.Mutex
	latestFull   string
	committed    string
	lastUpdate   time.Time
	silenceTimer *time.Timer
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewRecognizer constructs a streaming recognizer against the given base URL
// (e.g. wss://streaming.assemblyai.com/v3/ws).
func NewRecognizer(apiKey, baseURL string) *Recognizer {
	return &Recognizer{apiKey: apiKey, baseURL: baseURL}
}

// Start opens the provider stream and begins emitting events. It returns
// false when the stream could not be engaged; the reason is delivered via
// OnError before returning.
func (r *Recognizer) Start(cb Callbacks) bool {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return true
	}
	if r.apiKey == "" {
		r.mu.Unlock()
		emitError(cb, Error{Kind: KindPermissionDenied, Msg: "recognition api key missing"})
		return false
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", r.baseURL, params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {r.apiKey}})
	if err != nil {
		kind := KindNetwork
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			kind = KindPermissionDenied
		}
		r.mu.Unlock()
		emitError(cb, Error{Kind: kind, Msg: err.Error()})
		return false
	}

	r.conn = conn
	r.connected = true
	r.userStop = false
	r.cb = cb
	r.audio = make(chan []byte, 1000)
	r.stopCh = make(chan struct{})
	r.endOnce = &sync.Once{}
	r.gen++
	gen := r.gen
	r.accMu.Lock()
	r.latestFull = ""
	r.committed = ""
	r.lastUpdate = time.Now()
	r.accMu.Unlock()
	r.mu.Unlock()

	go r.readLoop(conn, r.stopCh, gen)
	go r.writeLoop(conn, r.audio, r.stopCh)

	if cb.OnStart != nil {
		cb.OnStart()
	}
	return true
}

// Stop terminates the stream. Any uncommitted segment text is flushed as a
// final event before the end event fires.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return
	}
	r.userStop = true
	conn := r.conn
	stopCh := r.stopCh
	gen := r.gen
	r.mu.Unlock()

	r.accMu.Lock()
	if r.silenceTimer != nil {
		r.silenceTimer.Stop()
		r.silenceTimer = nil
	}
	delta := r.commitDeltaLocked()
	r.accMu.Unlock()
	if delta != "" {
		r.emitFinal(delta)
	}

	close(stopCh)
	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = conn.Close()
	}
	r.finish(gen)
}

// Status reports whether the stream is live.
func (r *Recognizer) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{Listening: r.connected}
}

// Feed queues PCM16LE 16 kHz mono audio for the provider. Audio is dropped
// rather than blocking when the buffer is full.
func (r *Recognizer) Feed(pcm []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.connected {
		return fmt.Errorf("recognizer not started")
	}
	select {
	case r.audio <- pcm:
	default:
		log.Println("capture: audio buffer full, dropping packet")
	}
	return nil
}

// finish marks the stream ended and fires OnEnd exactly once per session.
// A caller from an older generation is a dead loop unwinding late; it must
// not touch the session that replaced it.
func (r *Recognizer) finish(gen int) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	once := r.endOnce
	cb := r.cb
	r.connected = false
	r.conn = nil
	r.mu.Unlock()
	if once != nil {
		once.Do(func() {
			if cb.OnEnd != nil {
				cb.OnEnd()
			}
		})
	}
}

func (r *Recognizer) readLoop(conn *websocket.Conn, stopCh chan struct{}, gen int) {
	defer r.finish(gen)
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.RLock()
			stopped := r.userStop
			cb := r.cb
			r.mu.RUnlock()
			if !stopped {
				emitError(cb, Error{Kind: KindNetwork, Msg: err.Error()})
			}
			return
		}
		r.processMessage(message)
	}
}

func (r *Recognizer) writeLoop(conn *websocket.Conn, audio chan []byte, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case pcm := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("capture: send audio error: %v", err)
				return
			}
		}
	}
}

func (r *Recognizer) processMessage(message []byte) {
	msgType := peekType(message)
	switch msgType {
	case "Begin":
		var msg beginMessage
		if decodeInto(message, &msg) {
			log.Printf("capture: recognition session began id=%s", msg.ID)
		}
	case "Turn":
		var msg turnMessage
		if !decodeInto(message, &msg) || msg.Transcript == "" {
			return
		}
		r.onTurn(msg.Transcript)
	case "Termination":
		// Platform closed the stream; flush so the last words are not lost.
		r.accMu.Lock()
		delta := r.commitDeltaLocked()
		r.accMu.Unlock()
		if delta != "" {
			r.emitFinal(delta)
		}
	case "Error":
		var msg errorMessage
		if decodeInto(message, &msg) {
			r.mu.RLock()
			cb := r.cb
			r.mu.RUnlock()
			emitError(cb, Error{Kind: classifyProviderError(msg.Error), Msg: msg.Error})
		}
	default:
		log.Printf("capture: unknown message type %q", msgType)
	}
}

// onTurn records the latest running transcript, emits the interim delta for
// the current segment, and arms the silence timer that finalizes it.
func (r *Recognizer) onTurn(transcript string) {
	r.accMu.Lock()
	r.latestFull = transcript
	r.lastUpdate = time.Now()
	interim := segmentDelta(r.latestFull, r.committed)
	if r.silenceTimer == nil {
		r.silenceTimer = time.AfterFunc(silenceThreshold, r.finalizeDueToSilence)
	} else {
		r.silenceTimer.Stop()
		r.silenceTimer.Reset(silenceThreshold)
	}
	r.accMu.Unlock()

	if interim != "" {
		r.mu.RLock()
		cb := r.cb
		r.mu.RUnlock()
		if cb.OnInterim != nil {
			cb.OnInterim(interim)
		}
	}
}

// finalizeDueToSilence fires after the inactivity threshold. It waits a short
// stabilization grace for late updates, then commits the segment delta.
func (r *Recognizer) finalizeDueToSilence() {
	select {
	case <-r.stopCh:
		return
	default:
	}

	r.accMu.Lock()
	threshold := silenceThreshold
	if continuationLikely(r.latestFull) {
		threshold += continuationExtension
	}
	if since := time.Since(r.lastUpdate); since < threshold {
		r.rescheduleLocked(threshold - since)
		r.accMu.Unlock()
		return
	}
	markedAt := r.lastUpdate
	r.accMu.Unlock()

	time.Sleep(stabilizationGrace)

	r.accMu.Lock()
	if r.lastUpdate.After(markedAt) {
		r.rescheduleLocked(threshold)
		r.accMu.Unlock()
		return
	}
	delta := r.commitDeltaLocked()
	r.accMu.Unlock()

	if delta != "" {
		r.emitFinal(delta)
	}
}

func (r *Recognizer) rescheduleLocked(wait time.Duration) {
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	if r.silenceTimer == nil {
		r.silenceTimer = time.AfterFunc(wait, r.finalizeDueToSilence)
	} else {
		r.silenceTimer.Stop()
		r.silenceTimer.Reset(wait)
	}
}

// commitDeltaLocked returns the uncommitted tail of the running transcript
// and marks it committed. Caller holds accMu.
func (r *Recognizer) commitDeltaLocked() string {
	delta := segmentDelta(r.latestFull, r.committed)
	r.committed = r.latestFull
	return delta
}

func (r *Recognizer) emitFinal(text string) {
	r.mu.RLock()
	cb := r.cb
	r.mu.RUnlock()
	if cb.OnFinal != nil {
		cb.OnFinal(text)
	}
}

// segmentDelta extracts the current-segment text: the part of the running
// transcript past what has already been committed.
func segmentDelta(latest, committed string) string {
	delta := strings.TrimSpace(strings.TrimPrefix(latest, committed))
	if delta == "" && committed != "" {
		if idx := strings.LastIndex(latest, committed); idx >= 0 && idx+len(committed) <= len(latest) {
			delta = strings.TrimSpace(latest[idx+len(committed):])
		}
	}
	return delta
}

func peekType(message []byte) string {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		return ""
	}
	return base.Type
}

func decodeInto(message []byte, v interface{}) bool {
	if err := json.Unmarshal(message, v); err != nil {
		log.Printf("capture: bad provider message: %v", err)
		return false
	}
	return true
}

func emitError(cb Callbacks, err Error) {
	if cb.OnError != nil {
		cb.OnError(err)
	} else {
		log.Printf("capture: %v", err)
	}
}

// classifyProviderError maps a provider error string onto the error taxonomy.
func classifyProviderError(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "unauthorized"), strings.Contains(m, "not authorized"), strings.Contains(m, "invalid api key"):
		return KindPermissionDenied
	case strings.Contains(m, "no audio"), strings.Contains(m, "no speech"), strings.Contains(m, "timed out"):
		return KindNoSpeech
	case strings.Contains(m, "abort"):
		return KindAborted
	case strings.Contains(m, "connection"), strings.Contains(m, "network"):
		return KindNetwork
	}
	return KindOther
}

// continuationLikely reports whether the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func continuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
