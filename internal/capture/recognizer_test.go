package capture

import (
	"sync"
	"testing"
)

func TestKind_Benign(t *testing.T) {
	benign := []Kind{KindAborted, KindNoSpeech, KindNetwork}
	for _, k := range benign {
		if !k.Benign() {
			t.Fatalf("expected %s benign", k)
		}
	}
	if KindPermissionDenied.Benign() || KindOther.Benign() {
		t.Fatalf("did not expect permission-denied/other to be benign")
	}
}

func TestStart_NoKeyFailsWithPermissionDenied(t *testing.T) {
	r := NewRecognizer("", "wss://example.invalid/ws")
	var got *Error
	ok := r.Start(Callbacks{OnError: func(e Error) { got = &e }})
	if ok {
		t.Fatalf("expected start to fail without key")
	}
	if got == nil || got.Kind != KindPermissionDenied {
		t.Fatalf("expected permission-denied error, got %v", got)
	}
	if r.Status().Listening {
		t.Fatalf("expected not listening after failed start")
	}
}

func TestFeed_NotStarted(t *testing.T) {
	r := NewRecognizer("key", "wss://example.invalid/ws")
	if err := r.Feed([]byte{0, 0}); err == nil {
		t.Fatalf("expected error feeding a stopped recognizer")
	}
}

func TestFinish_StaleGenerationCannotEndLiveSession(t *testing.T) {
	r := NewRecognizer("key", "wss://example.invalid/ws")
	var ends int
	r.mu.Lock()
	r.connected = true
	r.gen = 2
	r.endOnce = &sync.Once{}
	r.cb = Callbacks{OnEnd: func() { ends++ }}
	r.mu.Unlock()

	// a read loop from the previous connection unwinding after the restart
	r.finish(1)
	if !r.Status().Listening {
		t.Fatalf("stale finish must not mark the live session ended")
	}
	if ends != 0 {
		t.Fatalf("stale finish must not fire OnEnd, got %d", ends)
	}

	r.finish(2)
	if r.Status().Listening {
		t.Fatalf("expected session ended by its own generation")
	}
	r.finish(2)
	if ends != 1 {
		t.Fatalf("expected OnEnd exactly once, got %d", ends)
	}
}

func TestSegmentDelta(t *testing.T) {
	cases := []struct {
		latest, committed, want string
	}{
		{"i study computer science", "i study", "computer science"},
		{"hello", "", "hello"},
		{"same text", "same text", ""},
		{"prefix lost i study more", "i study", "more"},
	}
	for _, tc := range cases {
		if got := segmentDelta(tc.latest, tc.committed); got != tc.want {
			t.Fatalf("segmentDelta(%q, %q) = %q, want %q", tc.latest, tc.committed, got, tc.want)
		}
	}
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"Not authorized", KindPermissionDenied},
		{"invalid api key provided", KindPermissionDenied},
		{"session timed out waiting for audio", KindNoSpeech},
		{"connection reset by peer", KindNetwork},
		{"stream aborted", KindAborted},
		{"something odd", KindOther},
	}
	for _, tc := range cases {
		if got := classifyProviderError(tc.msg); got != tc.want {
			t.Fatalf("classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestHelpers_LastWordAndContinuation(t *testing.T) {
	if lastWord("") != "" {
		t.Fatalf("lastWord empty mismatch")
	}
	if lastWord("hi there!") != "there" {
		t.Fatalf("lastWord basic mismatch")
	}
	if !continuationLikely("we should and") {
		t.Fatalf("expected continuation likely when last word is 'and'")
	}
	if continuationLikely("complete sentence.") {
		t.Fatalf("did not expect continuation likely")
	}
}
