package capture

import "fmt"

// Kind classifies capture errors at the wrapper boundary. Controllers only
// ever see a Kind, never a raw platform error.
type Kind string

const (
	KindAborted          Kind = "aborted"
	KindNoSpeech         Kind = "no-speech"
	KindNetwork          Kind = "network"
	KindPermissionDenied Kind = "permission-denied"
	KindOther            Kind = "other"
)

// Benign reports whether the kind is normal lifecycle noise that must not be
// surfaced to the user as a failure.
func (k Kind) Benign() bool {
	switch k {
	case KindAborted, KindNoSpeech, KindNetwork:
		return true
	}
	return false
}

// Error is a classified capture error.
type Error struct {
	Kind Kind
	Msg  string
}

func (e Error) Error() string { return fmt.Sprintf("capture %s: %s", e.Kind, e.Msg) }

// Callbacks receives recognition events. OnInterim carries the provisional,
// still-revisable text of the current segment only; OnFinal fires once per
// finalized segment, in chronological order. OnEnd may fire without a caller
// Stop() when the platform times the stream out; it is not a user stop.
type Callbacks struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnStart   func()
	OnEnd     func()
	OnError   func(err Error)
}

// Status is the synchronously queryable capture state.
type Status struct {
	Listening bool
}

// Service is the continuous speech-recognition capability. Start returns
// false when the capability could not be engaged (an Error is delivered
// through OnError first). Feed accepts PCM16LE mono at 16 kHz.
type Service interface {
	Start(cb Callbacks) bool
	Stop()
	Status() Status
	Feed(pcm []byte) error
}
