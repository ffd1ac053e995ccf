package autospeak

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prepline/interview-voice/internal/playback"
	"github.com/prepline/interview-voice/internal/prefs"
)

type recordingSpeaker struct {
	mu    sync.Mutex
	calls []playback.Options
	texts []string
	err   error
}

func (r *recordingSpeaker) Speak(ctx context.Context, text string, opts playback.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, opts)
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recordingSpeaker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitCalls(t *testing.T, r *recordingSpeaker, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.count() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d speak calls, got %d", want, r.count())
}

func TestAssistantMessage_SpeaksWhenEnabled(t *testing.T) {
	sp := &recordingSpeaker{}
	store := prefs.NewMemoryStore(prefs.Preferences{AutoPlayAI: true})
	c := New(sp, store, func() bool { return true })

	c.AssistantMessage("tell me about yourself", false)
	waitCalls(t, sp, 1)

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.calls[0].Interrupt {
		t.Fatalf("in-flow reply must not interrupt")
	}
	if sp.calls[0].Priority != playback.PriorityNormal {
		t.Fatalf("expected normal priority, got %s", sp.calls[0].Priority)
	}
}

func TestAssistantMessage_TransitionalInterrupts(t *testing.T) {
	sp := &recordingSpeaker{}
	store := prefs.NewMemoryStore(prefs.Preferences{AutoPlayAI: true})
	c := New(sp, store, func() bool { return true })

	c.AssistantMessage("welcome to your new interview", true)
	waitCalls(t, sp, 1)

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.calls[0].Interrupt || sp.calls[0].Priority != playback.PriorityHigh {
		t.Fatalf("transitional reply should interrupt at high priority, got %+v", sp.calls[0])
	}
}

func TestAssistantMessage_NeverWhenVoiceModeOff(t *testing.T) {
	sp := &recordingSpeaker{}
	store := prefs.NewMemoryStore(prefs.Preferences{AutoPlayAI: true})
	c := New(sp, store, func() bool { return false })

	c.AssistantMessage("should stay silent", false)
	c.AssistantMessage("also silent", true)
	time.Sleep(30 * time.Millisecond)
	if sp.count() != 0 {
		t.Fatalf("expected no playback with voice mode off, got %d", sp.count())
	}
}

func TestAssistantMessage_RespectsAutoPlayPreference(t *testing.T) {
	sp := &recordingSpeaker{}
	store := prefs.NewMemoryStore(prefs.Preferences{AutoPlayAI: false})
	c := New(sp, store, func() bool { return true })

	c.AssistantMessage("muted by preference", false)
	time.Sleep(30 * time.Millisecond)
	if sp.count() != 0 {
		t.Fatalf("expected no playback with autoPlayAI off")
	}
}

func TestAssistantMessage_SwallowsPlaybackErrors(t *testing.T) {
	sp := &recordingSpeaker{err: errors.New("engine down")}
	store := prefs.NewMemoryStore(prefs.Preferences{AutoPlayAI: true})
	c := New(sp, store, func() bool { return true })

	// must not panic or propagate
	c.AssistantMessage("doomed playback", false)
	waitCalls(t, sp, 1)
}
