package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Priority orders queued playback requests. A high-priority request replaces
// a pending normal one; a normal request never displaces a pending high one.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Options controls how an utterance is scheduled.
type Options struct {
	Interrupt bool
	Priority  Priority
}

// Status is the synchronously queryable playback state.
type Status struct {
	Speaking bool
}

// Listener receives push-based playback lifecycle events. These are the
// primary signal; the internal poll only reconciles a missed end event.
type Listener struct {
	OnStart func(text string)
	OnEnd   func(text string)
	OnError func(text string, err error)
}

// Synthesizer streams 48 kHz PCM mono audio for the given text.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Sink consumes 48 kHz PCM bytes and performs delivery. Reset drops queued
// audio immediately so an interruption is audible at once.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
}

var (
	// ErrInterrupted resolves a Speak whose utterance was cut off by a later
	// interrupting request or an explicit Stop.
	ErrInterrupted = errors.New("playback: interrupted")
	// ErrSuperseded resolves a Speak that was replaced in the pending slot
	// before it started.
	ErrSuperseded = errors.New("playback: superseded while queued")
	// ErrClosed is returned after the player has been shut down.
	ErrClosed = errors.New("playback: player closed")
)

// pollInterval is the safety-net reconciliation cadence for a missed end
// callback. Push events remain the primary signal.
const pollInterval = 500 * time.Millisecond

type utterance struct {
	text string
	opts Options
	done chan error
}

// Player serializes utterances onto a Synthesizer: at most one audible at a
// time, with a single pending slot. Construct with New.
type Player struct {
	synth Synthesizer
	sink  Sink

	mu        sync.Mutex
	speaking  bool
	current   *utterance
	cancel    context.CancelFunc
	pending   *utterance
	listeners []Listener
	closed    bool

	wake   chan struct{}
	stopCh chan struct{}
}

// New constructs a Player and starts its scheduling loop.
func New(synth Synthesizer, sink Sink) *Player {
	p := &Player{
		synth:  synth,
		sink:   sink,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go p.run()
	go p.poll()
	return p
}

// Subscribe registers a lifecycle listener.
func (p *Player) Subscribe(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Status reports whether an utterance is currently audible.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Speaking: p.speaking}
}

// Speak schedules text for playback and blocks until the utterance finishes,
// is interrupted, or is superseded. With Interrupt set, any current utterance
// is cancelled immediately and this one plays next.
func (p *Player) Speak(ctx context.Context, text string, opts Options) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if opts.Priority == "" {
		opts.Priority = PriorityNormal
	}
	utt := &utterance{text: text, opts: opts, done: make(chan error, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if opts.Interrupt {
		if p.cancel != nil {
			p.cancel()
		}
		p.sink.Reset()
		if p.pending != nil {
			p.pending.done <- ErrSuperseded
		}
		p.pending = utt
	} else if p.pending == nil {
		p.pending = utt
	} else if p.pending.opts.Priority == PriorityHigh && opts.Priority != PriorityHigh {
		// keep the queued high-priority utterance
		p.mu.Unlock()
		return ErrSuperseded
	} else {
		p.pending.done <- ErrSuperseded
		p.pending = utt
	}
	p.wakeLocked()
	p.mu.Unlock()

	select {
	case err := <-utt.done:
		return err
	case <-ctx.Done():
		p.mu.Lock()
		if p.pending == utt {
			p.pending = nil
		} else if p.current == utt && p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Stop synchronously halts playback: the current utterance is cancelled, the
// pending slot is cleared, and queued audio is dropped.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.pending != nil {
		p.pending.done <- ErrInterrupted
		p.pending = nil
	}
	p.mu.Unlock()
	p.sink.Reset()
	p.setSpeaking(false, "", nil)
}

// Close shuts the player down. Outstanding requests resolve with ErrClosed.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	if p.pending != nil {
		p.pending.done <- ErrClosed
		p.pending = nil
	}
	close(p.stopCh)
	p.mu.Unlock()
}

func (p *Player) wakeLocked() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Player) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.wake:
		}
		for p.playNext() {
		}
	}
}

// playNext pops the pending slot and streams it. Returns false when there is
// nothing to play.
func (p *Player) playNext() bool {
	p.mu.Lock()
	if p.closed || p.pending == nil || p.current != nil {
		p.mu.Unlock()
		return false
	}
	utt := p.pending
	p.pending = nil
	ctx, cancel := context.WithCancel(context.Background())
	p.current = utt
	p.cancel = cancel
	p.mu.Unlock()

	p.setSpeaking(true, utt.text, nil)
	err := p.stream(ctx, utt.text)
	cancel()

	p.mu.Lock()
	p.current = nil
	p.cancel = nil
	p.mu.Unlock()
	p.setSpeaking(false, utt.text, err)

	utt.done <- err
	return true
}

// stream pushes synthesized PCM into the sink until the engine finishes or
// the context is cancelled.
func (p *Player) stream(ctx context.Context, text string) error {
	pcmCh, errCh := p.synth.StreamPCM48k(ctx, text)
	var streamErr error
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) > 0 && ctx.Err() == nil {
				p.sink.WritePCM(b)
			}
		case e, ok := <-errCh:
			if !ok {
				openErr = false
				continue
			}
			if e != nil {
				streamErr = e
			}
		case <-ctx.Done():
			return ErrInterrupted
		}
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	if streamErr != nil {
		return streamErr
	}
	p.sink.FlushTail()
	return nil
}

// setSpeaking is the single mutation point for the speaking flag; both the
// streaming path and the reconciliation poll go through it.
func (p *Player) setSpeaking(on bool, text string, err error) {
	p.mu.Lock()
	changed := p.speaking != on
	p.speaking = on
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()
	if !changed {
		return
	}
	for _, l := range listeners {
		if on {
			if l.OnStart != nil {
				l.OnStart(text)
			}
			continue
		}
		if err != nil && !errors.Is(err, ErrInterrupted) && l.OnError != nil {
			l.OnError(text, err)
		}
		if l.OnEnd != nil {
			l.OnEnd(text)
		}
	}
}

// poll reconciles a speaking flag left on by a missed end callback.
func (p *Player) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			stale := p.speaking && p.current == nil
			p.mu.Unlock()
			if stale {
				p.setSpeaking(false, "", nil)
			}
		}
	}
}
