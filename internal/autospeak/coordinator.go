package autospeak

import (
	"context"
	"log"

	"github.com/prepline/interview-voice/internal/playback"
	"github.com/prepline/interview-voice/internal/prefs"
)

// Speaker is the slice of the playback service the coordinator uses.
type Speaker interface {
	Speak(ctx context.Context, text string, opts playback.Options) error
}

// Coordinator decides, per assistant message, whether to play it aloud.
// Playback is a non-critical enhancement: failures are logged and swallowed,
// never surfaced, and never block the chat flow.
type Coordinator struct {
	speaker   Speaker
	store     prefs.Store
	voiceMode func() bool
}

// New constructs a Coordinator. voiceMode reports whether the user currently
// has voice mode active.
func New(speaker Speaker, store prefs.Store, voiceMode func() bool) *Coordinator {
	return &Coordinator{speaker: speaker, store: store, voiceMode: voiceMode}
}

// AssistantMessage considers one new assistant message. transitional marks
// messages responding to a user-initiated transition (new interview, end
// interview, first message after a mode toggle); those interrupt any residual
// playback from the prior turn, while in-flow replies queue behind it.
func (c *Coordinator) AssistantMessage(text string, transitional bool) {
	if c.speaker == nil || text == "" {
		return
	}
	if c.voiceMode == nil || !c.voiceMode() {
		return
	}
	p, err := c.store.Get()
	if err != nil {
		log.Printf("autospeak: reading preferences: %v", err)
		return
	}
	if !p.AutoPlayAI {
		return
	}

	opts := playback.Options{Interrupt: transitional, Priority: playback.PriorityNormal}
	if transitional {
		opts.Priority = playback.PriorityHigh
	}
	go func() {
		if err := c.speaker.Speak(context.Background(), text, opts); err != nil {
			log.Printf("autospeak: playback failed: %v", err)
		}
	}()
}
