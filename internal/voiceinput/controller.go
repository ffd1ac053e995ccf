package voiceinput

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prepline/interview-voice/internal/capture"
)

// Phase is the dictation state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseError     Phase = "error"
)

// graceDelay is how long Stop waits for a finalized segment still in flight
// before emitting the accumulated utterance.
const graceDelay = 250 * time.Millisecond

// State is a read-only snapshot of the controller.
type State struct {
	Phase           Phase
	AccumulatedText string
	InterimText     string
	LastError       *capture.Error
}

// Controller accumulates dictated text across interim/final cycles until the
// user stops, then emits the whole utterance once. The user, not segment
// finalization, decides when an answer is complete, so a long multi-pause
// answer arrives as a single utterance.
type Controller struct {
	svc  capture.Service
	emit func(text string)

	mu          sync.Mutex
	phase       Phase
	accumulated string
	interim     string
	lastErr     *capture.Error
	stopping    bool
	grace       time.Duration
}

// New constructs a Controller. emit receives each completed utterance.
func New(svc capture.Service, emit func(text string)) *Controller {
	return &Controller{svc: svc, emit: emit, phase: PhaseIdle, grace: graceDelay}
}

// Start begins a dictation cycle. Returns false when the capture capability
// could not be engaged. A start during the stop grace window flushes the
// pending utterance immediately and begins a fresh cycle; capture was already
// stopped, so it must be re-engaged.
func (c *Controller) Start() bool {
	c.mu.Lock()
	if c.phase == PhaseListening && !c.stopping {
		c.mu.Unlock()
		return true
	}
	flush := ""
	if c.stopping {
		flush = strings.TrimSpace(c.accumulated)
		c.stopping = false // the scheduled finalize becomes a no-op
	}
	c.phase = PhaseListening
	c.accumulated = ""
	c.interim = ""
	c.lastErr = nil
	c.mu.Unlock()

	if flush != "" && c.emit != nil {
		c.emit(flush)
	}

	ok := c.svc.Start(capture.Callbacks{
		OnInterim: c.onInterim,
		OnFinal:   c.onFinal,
		OnEnd:     c.onEnd,
		OnError:   c.onError,
	})
	if !ok {
		c.mu.Lock()
		c.phase = PhaseError
		c.mu.Unlock()
	}
	return ok
}

// Stop ends the dictation cycle. After a short grace delay to flush a final
// result already in flight, the accumulated text is emitted exactly once; an
// empty accumulation emits nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.phase != PhaseListening {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	grace := c.grace
	c.mu.Unlock()

	c.svc.Stop()
	time.AfterFunc(grace, c.finalize)
}

// Cancel discards any accumulated dictation without emitting.
func (c *Controller) Cancel() {
	c.mu.Lock()
	wasListening := c.phase == PhaseListening
	c.phase = PhaseIdle
	c.accumulated = ""
	c.interim = ""
	c.stopping = false
	c.mu.Unlock()
	if wasListening {
		c.svc.Stop()
	}
}

// Retry re-engages capture after a fatal error.
func (c *Controller) Retry() bool {
	c.mu.Lock()
	if c.phase != PhaseError {
		c.mu.Unlock()
		return false
	}
	c.phase = PhaseIdle
	c.mu.Unlock()
	return c.Start()
}

// Snapshot returns the current capture state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:           c.phase,
		AccumulatedText: c.accumulated,
		InterimText:     c.interim,
		LastError:       c.lastErr,
	}
}

// finalize snapshots and clears the accumulation atomically, so a late final
// arriving afterwards cannot cause a second emission.
func (c *Controller) finalize() {
	c.mu.Lock()
	if !c.stopping {
		c.mu.Unlock()
		return
	}
	text := strings.TrimSpace(c.accumulated)
	c.accumulated = ""
	c.interim = ""
	c.stopping = false
	c.phase = PhaseIdle
	c.mu.Unlock()

	if text != "" && c.emit != nil {
		c.emit(text)
	}
}

func (c *Controller) onInterim(text string) {
	c.mu.Lock()
	if c.phase == PhaseListening {
		c.interim = text
	}
	c.mu.Unlock()
}

func (c *Controller) onFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	// accept segments while listening, and during the stop grace window so a
	// final flushed by Stop still lands in the utterance
	if c.phase == PhaseListening || c.stopping {
		if c.accumulated == "" {
			c.accumulated = text
		} else {
			c.accumulated += " " + text
		}
		c.interim = ""
	}
	c.mu.Unlock()
}

// onEnd fires when the capture stream ends. A platform timeout is not a user
// stop: while still listening, re-engage capture so dictation continues.
func (c *Controller) onEnd() {
	c.mu.Lock()
	restart := c.phase == PhaseListening && !c.stopping
	c.mu.Unlock()
	if !restart {
		return
	}
	log.Println("voiceinput: capture ended unexpectedly, restarting")
	if ok := c.svc.Start(capture.Callbacks{
		OnInterim: c.onInterim,
		OnFinal:   c.onFinal,
		OnEnd:     c.onEnd,
		OnError:   c.onError,
	}); !ok {
		c.mu.Lock()
		c.phase = PhaseError
		c.mu.Unlock()
	}
}

func (c *Controller) onError(err capture.Error) {
	if err.Kind.Benign() {
		// lifecycle noise; capture recovers or onEnd restarts it
		log.Printf("voiceinput: benign capture error: %v", err)
		return
	}
	c.mu.Lock()
	c.lastErr = &err
	wasListening := c.phase == PhaseListening
	c.phase = PhaseError
	c.stopping = false
	c.mu.Unlock()
	if wasListening {
		c.svc.Stop()
	}
}
