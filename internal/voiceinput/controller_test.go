package voiceinput

import (
	"sync"
	"testing"
	"time"

	"github.com/prepline/interview-voice/internal/capture"
)

// fakeCapture drives callbacks directly from the test.
type fakeCapture struct {
	mu        sync.Mutex
	cb        capture.Callbacks
	listening bool
	startOK   bool
	startErr  *capture.Error
	starts    int
	stops     int
}

func newFakeCapture() *fakeCapture { return &fakeCapture{startOK: true} }

func (f *fakeCapture) Start(cb capture.Callbacks) bool {
	f.mu.Lock()
	f.cb = cb
	f.starts++
	ok := f.startOK
	errInfo := f.startErr
	f.listening = ok
	f.mu.Unlock()
	if !ok && errInfo != nil && cb.OnError != nil {
		cb.OnError(*errInfo)
	}
	return ok
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	f.listening = false
	f.stops++
	f.mu.Unlock()
}

func (f *fakeCapture) Status() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return capture.Status{Listening: f.listening}
}

func (f *fakeCapture) Feed(pcm []byte) error { return nil }

func (f *fakeCapture) callbacks() capture.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func newController(t *testing.T, svc capture.Service) (*Controller, *[]string) {
	t.Helper()
	var emitted []string
	var mu sync.Mutex
	c := New(svc, func(text string) {
		mu.Lock()
		emitted = append(emitted, text)
		mu.Unlock()
	})
	c.grace = 10 * time.Millisecond
	return c, &emitted
}

func TestDictation_AccumulatesFinalsNotInterims(t *testing.T) {
	svc := newFakeCapture()
	c, emitted := newController(t, svc)

	if !c.Start() {
		t.Fatalf("start failed")
	}
	cb := svc.callbacks()
	cb.OnInterim("i stu")
	cb.OnInterim("i study")
	cb.OnFinal("i study")
	cb.OnInterim("computer sci")
	cb.OnFinal("computer science")

	c.Stop()
	time.Sleep(50 * time.Millisecond)

	if len(*emitted) != 1 {
		t.Fatalf("expected one emission, got %d", len(*emitted))
	}
	if (*emitted)[0] != "i study computer science" {
		t.Fatalf("unexpected utterance: %q", (*emitted)[0])
	}
	if st := c.Snapshot(); st.Phase != PhaseIdle || st.AccumulatedText != "" || st.InterimText != "" {
		t.Fatalf("expected cleared idle state, got %+v", st)
	}
}

func TestDictation_StopWithoutSpeechEmitsNothing(t *testing.T) {
	svc := newFakeCapture()
	c, emitted := newController(t, svc)

	c.Start()
	cb := svc.callbacks()
	cb.OnInterim("never finalized")
	c.Stop()
	time.Sleep(50 * time.Millisecond)

	if len(*emitted) != 0 {
		t.Fatalf("expected no emission, got %v", *emitted)
	}
	if st := c.Snapshot(); st.Phase != PhaseIdle {
		t.Fatalf("expected idle, got %s", st.Phase)
	}
}

func TestDictation_FinalDuringGraceIsIncluded(t *testing.T) {
	svc := newFakeCapture()
	c, emitted := newController(t, svc)
	c.grace = 40 * time.Millisecond

	c.Start()
	cb := svc.callbacks()
	cb.OnFinal("first part")
	c.Stop()
	// the recognizer flushes a trailing segment just after stop
	time.Sleep(10 * time.Millisecond)
	cb.OnFinal("second part")
	time.Sleep(80 * time.Millisecond)

	if len(*emitted) != 1 || (*emitted)[0] != "first part second part" {
		t.Fatalf("expected merged utterance, got %v", *emitted)
	}
}

func TestDictation_LateFinalAfterGraceDoesNotDoubleEmit(t *testing.T) {
	svc := newFakeCapture()
	c, emitted := newController(t, svc)

	c.Start()
	cb := svc.callbacks()
	cb.OnFinal("answer")
	c.Stop()
	time.Sleep(50 * time.Millisecond)

	// far too late; must neither emit nor pollute the next cycle
	cb.OnFinal("stray")
	time.Sleep(20 * time.Millisecond)

	if len(*emitted) != 1 || (*emitted)[0] != "answer" {
		t.Fatalf("expected single clean emission, got %v", *emitted)
	}
	if st := c.Snapshot(); st.AccumulatedText != "" {
		t.Fatalf("expected no stray accumulation, got %q", st.AccumulatedText)
	}
}

func TestDictation_RestartDuringGraceBeginsFreshCycle(t *testing.T) {
	svc := newFakeCapture()
	c, emitted := newController(t, svc)
	c.grace = 40 * time.Millisecond

	c.Start()
	cb := svc.callbacks()
	cb.OnFinal("first answer")
	c.Stop()

	// user starts dictating again before the grace delay expires
	if !c.Start() {
		t.Fatalf("restart during grace failed")
	}
	svc.mu.Lock()
	starts := svc.starts
	svc.mu.Unlock()
	if starts != 2 {
		t.Fatalf("restart must re-engage capture, got %d starts", starts)
	}
	if len(*emitted) != 1 || (*emitted)[0] != "first answer" {
		t.Fatalf("expected the stopped utterance flushed once, got %v", *emitted)
	}

	cb = svc.callbacks()
	cb.OnFinal("second answer")
	// the finalize scheduled by the earlier Stop must not end the new cycle
	time.Sleep(80 * time.Millisecond)
	if st := c.Snapshot(); st.Phase != PhaseListening {
		t.Fatalf("expected still listening after stale finalize, got %s", st.Phase)
	}

	c.Stop()
	time.Sleep(80 * time.Millisecond)
	if len(*emitted) != 2 || (*emitted)[1] != "second answer" {
		t.Fatalf("expected clean second utterance, got %v", *emitted)
	}
}

func TestDictation_BenignErrorKeepsListening(t *testing.T) {
	svc := newFakeCapture()
	c, _ := newController(t, svc)

	c.Start()
	cb := svc.callbacks()
	cb.OnError(capture.Error{Kind: capture.KindNoSpeech, Msg: "quiet"})
	cb.OnError(capture.Error{Kind: capture.KindNetwork, Msg: "blip"})

	if st := c.Snapshot(); st.Phase != PhaseListening {
		t.Fatalf("expected still listening, got %s", st.Phase)
	}
}

func TestDictation_FatalErrorThenRetry(t *testing.T) {
	svc := newFakeCapture()
	c, _ := newController(t, svc)

	c.Start()
	cb := svc.callbacks()
	cb.OnError(capture.Error{Kind: capture.KindPermissionDenied, Msg: "mic blocked"})

	st := c.Snapshot()
	if st.Phase != PhaseError {
		t.Fatalf("expected error phase, got %s", st.Phase)
	}
	if st.LastError == nil || st.LastError.Kind != capture.KindPermissionDenied {
		t.Fatalf("expected recorded error, got %+v", st.LastError)
	}

	if !c.Retry() {
		t.Fatalf("retry failed")
	}
	if st := c.Snapshot(); st.Phase != PhaseListening {
		t.Fatalf("expected listening after retry, got %s", st.Phase)
	}
}

func TestDictation_UnexpectedEndRestartsCapture(t *testing.T) {
	svc := newFakeCapture()
	c, _ := newController(t, svc)

	c.Start()
	cb := svc.callbacks()
	cb.OnEnd()

	svc.mu.Lock()
	starts := svc.starts
	svc.mu.Unlock()
	if starts != 2 {
		t.Fatalf("expected restart after platform end, got %d starts", starts)
	}
	if st := c.Snapshot(); st.Phase != PhaseListening {
		t.Fatalf("expected listening after restart, got %s", st.Phase)
	}
}

func TestDictation_CancelDiscards(t *testing.T) {
	svc := newFakeCapture()
	c, emitted := newController(t, svc)

	c.Start()
	cb := svc.callbacks()
	cb.OnFinal("to be discarded")
	c.Cancel()
	time.Sleep(30 * time.Millisecond)

	if len(*emitted) != 0 {
		t.Fatalf("expected no emission after cancel, got %v", *emitted)
	}
	if st := c.Snapshot(); st.Phase != PhaseIdle || st.AccumulatedText != "" {
		t.Fatalf("expected cleared state, got %+v", st)
	}
}

func TestDictation_StartFailureEntersErrorPhase(t *testing.T) {
	svc := newFakeCapture()
	svc.startOK = false
	svc.startErr = &capture.Error{Kind: capture.KindPermissionDenied, Msg: "no key"}
	c, _ := newController(t, svc)

	if c.Start() {
		t.Fatalf("expected start failure")
	}
	if st := c.Snapshot(); st.Phase != PhaseError {
		t.Fatalf("expected error phase, got %s", st.Phase)
	}
}
