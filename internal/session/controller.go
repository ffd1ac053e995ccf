package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepline/interview-voice/internal/chat"
	"github.com/prepline/interview-voice/internal/review"
)

// Phase is the interview lifecycle state.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseActive           Phase = "active"
	PhaseEndingConfirm    Phase = "ending-confirm"
	PhaseEndingProcessing Phase = "ending-processing"
)

// RatingState tracks where rating generation stands.
type RatingState string

const (
	RatingIdle    RatingState = "idle"
	RatingLoading RatingState = "loading"
	RatingReady   RatingState = "ready"
	RatingFailed  RatingState = "failed"
)

// Sender identifies a message author.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Message is one conversation entry. History is append-only while a session
// is live and owned exclusively by the Controller.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EndProgress names the phases of the ending flow, reported in order.
type EndProgress string

const (
	ProgressSubmitting EndProgress = "submitting"
	ProgressGenerating EndProgress = "generating"
	ProgressComplete   EndProgress = "complete"
)

// ProgressReporter receives ending-flow progress. Presentation only; the
// controller never blocks on it.
type ProgressReporter interface {
	Report(p EndProgress)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(p EndProgress)

func (f ProgressFunc) Report(p EndProgress) { f(p) }

// ChatClient is the round trip a send needs.
type ChatClient interface {
	Complete(ctx context.Context, req chat.Request, token string) (chat.Response, error)
}

// ReviewClient covers transcript submission and rating generation.
type ReviewClient interface {
	SubmitTranscript(ctx context.Context, entries []review.Entry, ictx review.Context, token string) (string, error)
	GenerateRating(ctx context.Context, transcriptID, token string) (review.Rating, error)
}

// AutoSpeaker receives assistant text for optional voice playback.
type AutoSpeaker interface {
	AssistantMessage(text string, transitional bool)
}

// PlaybackHalter stops in-progress speech synchronously.
type PlaybackHalter interface {
	Stop()
}

// Archiver stores completed transcripts. Best effort; failures never reach
// the ending flow.
type Archiver interface {
	Store(ctx context.Context, transcriptID string, entries []review.Entry) error
}

// Rejection reasons for SendMessage and phase transitions.
var (
	ErrNotActive    = errors.New("session is not active")
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("a message is already in flight")
	ErrWrongPhase   = errors.New("operation not valid in current phase")
)

// assistantErrorText is appended (and spoken) when the chat round trip
// fails, so a voice-mode user hears the failure instead of silence.
const assistantErrorText = "I'm sorry, I'm having trouble responding right now. Give me a moment and try again."

// contextWindow is how many trailing messages ride along on each send.
const contextWindow = 10

// Config wires a Controller.
type Config struct {
	Chat     ChatClient
	Review   ReviewClient
	Speaker  AutoSpeaker
	Playback PlaybackHalter
	Progress ProgressReporter
	Archive  Archiver
	// Token supplies the caller's auth token per operation; empty means
	// anonymous.
	Token func() string

	InterviewType string
	Difficulty    string
	UserName      string
	TargetRole    string

	SubmitPolicy Policy
	RatingPolicy Policy
}

// EndOutcome is the result of a completed (or aborted) ending flow.
type EndOutcome struct {
	Rated        bool
	Rating       review.Rating
	TranscriptID string
	// Reason is the user-legible explanation when Rated is false.
	Reason string
}

// State is a read-only snapshot for presentation.
type State struct {
	ID           string
	Phase        Phase
	RatingState  RatingState
	TranscriptID string
	StartedAt    time.Time
	Messages     []Message
	LastProgress EndProgress
}

// Controller owns one interview session: its history, its lifecycle phase,
// and the send/end flows. All mutation goes through its methods.
type Controller struct {
	cfg Config
	id  string

	mu           sync.Mutex
	phase        Phase
	ratingState  RatingState
	rating       review.Rating
	transcriptID string
	startedAt    time.Time
	messages     []Message
	inFlight     bool
	sendSeq      uint64
	voiceMode    bool
	lastProgress EndProgress
}

// New constructs an idle Controller. Zero-valued retry policies get the
// standard budgets.
func New(cfg Config) *Controller {
	if cfg.SubmitPolicy.MaxAttempts == 0 {
		cfg.SubmitPolicy = Policy{MaxAttempts: 2, BaseDelay: time.Second}
	}
	if cfg.RatingPolicy.MaxAttempts == 0 {
		cfg.RatingPolicy = Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	return &Controller{
		cfg:         cfg,
		id:          "sess_" + uuid.NewString(),
		phase:       PhaseIdle,
		ratingState: RatingIdle,
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Begin starts the interview: history is reset, the greeting is appended as
// the first assistant message and spoken as a transitional announcement.
func (c *Controller) Begin(greeting string) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	c.phase = PhaseActive
	c.ratingState = RatingIdle
	c.rating = review.Rating{}
	c.transcriptID = ""
	c.startedAt = time.Now()
	c.messages = nil
	c.lastProgress = ""
	c.sendSeq++ // invalidate any straggling response from a prior life
	greeting = strings.TrimSpace(greeting)
	if greeting != "" {
		c.messages = append(c.messages, Message{Sender: SenderAssistant, Text: greeting, Timestamp: time.Now()})
	}
	c.mu.Unlock()

	if greeting != "" && c.cfg.Speaker != nil {
		c.cfg.Speaker.AssistantMessage(greeting, true)
	}
	return nil
}

// SetVoiceMode toggles voice output. Enabling it mid-session re-announces
// the latest assistant message so the user hears where the conversation is.
func (c *Controller) SetVoiceMode(on bool) {
	c.mu.Lock()
	c.voiceMode = on
	var announce string
	if on && c.phase == PhaseActive {
		for i := len(c.messages) - 1; i >= 0; i-- {
			if c.messages[i].Sender == SenderAssistant {
				announce = c.messages[i].Text
				break
			}
		}
	}
	c.mu.Unlock()

	if announce != "" && c.cfg.Speaker != nil {
		c.cfg.Speaker.AssistantMessage(announce, true)
	}
}

// SendMessage performs one user → assistant round trip. Rejected without
// mutating history unless the session is active, text is non-empty, and no
// other send is in flight. On chat failure a synthetic assistant error
// message is appended and spoken; the conversation is never left silently
// broken.
func (c *Controller) SendMessage(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return Message{}, ErrNotActive
	}
	if text == "" {
		c.mu.Unlock()
		return Message{}, ErrEmptyMessage
	}
	if c.inFlight {
		c.mu.Unlock()
		return Message{}, ErrSendInFlight
	}
	c.inFlight = true
	c.sendSeq++
	seq := c.sendSeq
	c.messages = append(c.messages, Message{Sender: SenderUser, Text: text, Timestamp: time.Now()})
	window := c.chatWindowLocked()
	voice := c.voiceMode
	c.mu.Unlock()

	resp, err := c.cfg.Chat.Complete(ctx, chat.Request{
		Messages:      window,
		InterviewType: c.cfg.InterviewType,
		VoiceMode:     voice,
	}, c.cfg.Token())

	replyText := strings.TrimSpace(resp.Message)
	if err != nil {
		log.Printf("session %s: chat round trip failed: %v", c.id, err)
		replyText = assistantErrorText
	}

	c.mu.Lock()
	c.inFlight = false
	if c.sendSeq != seq || (c.phase != PhaseActive && c.phase != PhaseEndingConfirm) {
		// Session moved on while we were waiting; this response is stale.
		c.mu.Unlock()
		return Message{}, nil
	}
	reply := Message{Sender: SenderAssistant, Text: replyText, Timestamp: time.Now()}
	c.messages = append(c.messages, reply)
	c.mu.Unlock()

	if c.cfg.Speaker != nil {
		c.cfg.Speaker.AssistantMessage(replyText, false)
	}
	return reply, nil
}

// chatWindowLocked converts the trailing history into wire messages.
// Caller holds c.mu.
func (c *Controller) chatWindowLocked() []chat.Message {
	start := 0
	if len(c.messages) > contextWindow {
		start = len(c.messages) - contextWindow
	}
	out := make([]chat.Message, 0, len(c.messages)-start)
	for _, m := range c.messages[start:] {
		var role chat.Role
		switch m.Sender {
		case SenderUser:
			role = chat.RoleUser
		case SenderAssistant:
			role = chat.RoleAssistant
		default:
			continue
		}
		out = append(out, chat.Message{Role: role, Content: m.Text})
	}
	return out
}

// RequestEnd shows the confirmation step.
func (c *Controller) RequestEnd() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return ErrWrongPhase
	}
	c.phase = PhaseEndingConfirm
	return nil
}

// CancelEnd returns to active with no side effects.
func (c *Controller) CancelEnd() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEndingConfirm {
		return ErrWrongPhase
	}
	c.phase = PhaseActive
	return nil
}

// EndWithoutRating completes the session immediately. No network calls.
func (c *Controller) EndWithoutRating() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive && c.phase != PhaseEndingConfirm {
		return ErrWrongPhase
	}
	c.phase = PhaseIdle
	c.ratingState = RatingIdle
	c.sendSeq++ // drop any in-flight response
	return nil
}

// ConfirmEnd runs the full ending flow: halt playback, validate the
// transcript, submit it, generate a rating. The session always lands back
// in idle; the outcome carries either the rating or the specific reason it
// could not be produced.
func (c *Controller) ConfirmEnd(ctx context.Context) (EndOutcome, error) {
	c.mu.Lock()
	if c.phase != PhaseEndingConfirm {
		c.mu.Unlock()
		return EndOutcome{}, ErrWrongPhase
	}
	c.mu.Unlock()

	// Anything still being spoken is describing a now-stale state.
	if c.cfg.Playback != nil {
		c.cfg.Playback.Stop()
	}

	c.mu.Lock()
	// a CancelEnd may have slipped in while playback was halting
	if c.phase != PhaseEndingConfirm {
		c.mu.Unlock()
		return EndOutcome{}, ErrWrongPhase
	}
	c.phase = PhaseEndingProcessing
	c.ratingState = RatingLoading
	c.sendSeq++
	entries := c.transcriptLocked()
	duration := int(time.Since(c.startedAt).Seconds())
	c.mu.Unlock()

	if reason := validateTranscript(entries); reason != "" {
		c.finish(RatingIdle, review.Rating{}, "")
		return EndOutcome{Reason: reason}, nil
	}

	token := c.cfg.Token()
	if token == "" {
		c.finish(RatingFailed, review.Rating{}, "")
		return EndOutcome{Reason: "log in to receive a rating for your interview"}, nil
	}

	ictx := review.Context{
		Difficulty:    c.cfg.Difficulty,
		InterviewType: c.cfg.InterviewType,
		UserName:      c.cfg.UserName,
		TargetRole:    c.cfg.TargetRole,
		DurationSec:   duration,
	}

	c.report(ProgressSubmitting)
	var transcriptID string
	err := c.cfg.SubmitPolicy.Do(ctx, func() error {
		var serr error
		transcriptID, serr = c.cfg.Review.SubmitTranscript(ctx, entries, ictx, token)
		return serr
	}, review.Retryable)
	if err != nil {
		log.Printf("session %s: transcript submission failed: %v", c.id, err)
		c.finish(RatingFailed, review.Rating{}, "")
		return EndOutcome{Reason: reviewFailureReason(err)}, nil
	}

	c.mu.Lock()
	c.transcriptID = transcriptID
	c.mu.Unlock()

	if c.cfg.Archive != nil {
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if aerr := c.cfg.Archive.Store(actx, transcriptID, entries); aerr != nil {
				log.Printf("session %s: transcript archive failed: %v", c.id, aerr)
			}
		}()
	}

	c.report(ProgressGenerating)
	var rating review.Rating
	err = c.cfg.RatingPolicy.Do(ctx, func() error {
		var rerr error
		rating, rerr = c.cfg.Review.GenerateRating(ctx, transcriptID, token)
		return rerr
	}, review.Retryable)
	if err != nil {
		log.Printf("session %s: rating generation failed: %v", c.id, err)
		c.finish(RatingFailed, review.Rating{}, transcriptID)
		return EndOutcome{TranscriptID: transcriptID, Reason: reviewFailureReason(err)}, nil
	}

	c.report(ProgressComplete)
	c.finish(RatingReady, rating, transcriptID)
	return EndOutcome{Rated: true, Rating: rating, TranscriptID: transcriptID}, nil
}

// finish lands the session back in idle with the given rating state.
func (c *Controller) finish(state RatingState, rating review.Rating, transcriptID string) {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.ratingState = state
	c.rating = rating
	if transcriptID != "" {
		c.transcriptID = transcriptID
	}
	c.mu.Unlock()
}

func (c *Controller) report(p EndProgress) {
	c.mu.Lock()
	c.lastProgress = p
	c.mu.Unlock()
	if c.cfg.Progress != nil {
		c.cfg.Progress.Report(p)
	}
}

// transcriptLocked converts history into review entries. Caller holds c.mu.
func (c *Controller) transcriptLocked() []review.Entry {
	out := make([]review.Entry, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Sender == SenderSystem {
			continue
		}
		sender := "user"
		if m.Sender == SenderAssistant {
			sender = "ai"
		}
		out = append(out, review.Entry{Sender: sender, Text: m.Text, Timestamp: m.Timestamp})
	}
	return out
}

// validateTranscript returns a user-legible reason the transcript cannot be
// rated, or "" when it can.
func validateTranscript(entries []review.Entry) string {
	if len(entries) < 2 {
		return "the interview is too short to rate; exchange at least one question and answer first"
	}
	var hasUser, hasAssistant bool
	for _, e := range entries {
		switch e.Sender {
		case "user":
			hasUser = true
		case "ai":
			hasAssistant = true
		}
	}
	if !hasUser {
		return "you haven't answered anything yet; give at least one answer before ending"
	}
	if !hasAssistant {
		return "the interviewer hasn't asked anything yet; wait for a question before ending"
	}
	return ""
}

// reviewFailureReason maps a classified review error to the instruction
// shown to the user. Every failure leaves a forward path.
func reviewFailureReason(err error) string {
	var re *review.Error
	if errors.As(err, &re) {
		switch re.Class {
		case review.ClassAuth:
			return "log in to receive a rating for your interview"
		case review.ClassTooShort:
			return "the interview is too short to rate; answer a few more questions next time"
		case review.ClassRateLimited:
			return "we're handling a lot of requests right now; try again in a minute"
		}
	}
	return "we couldn't generate your rating; try again later"
}

// Snapshot returns a copy of the presentation state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return State{
		ID:           c.id,
		Phase:        c.phase,
		RatingState:  c.ratingState,
		TranscriptID: c.transcriptID,
		StartedAt:    c.startedAt,
		Messages:     msgs,
		LastProgress: c.lastProgress,
	}
}

// Rating returns the generated rating; valid when RatingState is ready.
func (c *Controller) Rating() review.Rating {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rating
}
