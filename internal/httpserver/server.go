package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/prepline/interview-voice/internal/autospeak"
	"github.com/prepline/interview-voice/internal/capture"
	"github.com/prepline/interview-voice/internal/chat"
	"github.com/prepline/interview-voice/internal/config"
	"github.com/prepline/interview-voice/internal/playback"
	"github.com/prepline/interview-voice/internal/prefs"
	"github.com/prepline/interview-voice/internal/review"
	"github.com/prepline/interview-voice/internal/session"
	"github.com/prepline/interview-voice/internal/voiceinput"
	"github.com/prepline/interview-voice/internal/ws"
)

const defaultGreeting = "Welcome to your mock interview. When you're ready, tell me a little about yourself."

// Deps are the service dependencies behind the HTTP surface. Zero-valued
// fields are built from config; tests inject fakes.
type Deps struct {
	Chat    session.ChatClient
	Review  session.ReviewClient
	Archive session.Archiver
	Prefs   prefs.Store
	// Synth overrides the playback engine for bound audio connections.
	Synth playback.Synthesizer
	// NewCapture overrides the speech recognition service per connection.
	NewCapture func() capture.Service
}

// Server is the HTTP surface: session lifecycle endpoints plus the audio
// bridge upgrade.
type Server struct {
	Router http.Handler

	cfg      config.Config
	deps     Deps
	registry *Registry
}

// New constructs the server with routes.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Chat == nil {
		deps.Chat = chat.NewClient(cfg.ChatBaseURL, chat.DefaultPrompts{Voice: true})
	}
	if deps.Review == nil {
		deps.Review = review.NewClient(cfg.ReviewBaseURL)
	}
	if deps.Prefs == nil {
		deps.Prefs = prefs.NewMemoryStore(prefs.DefaultPreferences())
	}
	if deps.Synth == nil {
		deps.Synth = playback.NewDeepgramEngine(cfg.DeepgramKey, cfg.DeepgramModel)
	}
	if deps.NewCapture == nil {
		deps.NewCapture = func() capture.Service {
			return capture.NewRecognizer(cfg.SpeechKey, cfg.SpeechURL)
		}
	}

	s := &Server{cfg: cfg, deps: deps, registry: NewRegistry()}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/v1/voice/availability", s.handleAvailability)
	e.POST("/v1/sessions", s.handleCreateSession)
	e.POST("/v1/sessions/:id/messages", s.handleSendMessage)
	e.POST("/v1/sessions/:id/request-end", s.handleRequestEnd)
	e.POST("/v1/sessions/:id/cancel-end", s.handleCancelEnd)
	e.POST("/v1/sessions/:id/end", s.handleEnd)
	e.GET("/v1/sessions/:id", s.handleGetSession)

	bridge := &ws.Handler{AuthPassword: cfg.AuthPassword, Bind: s.bindAudio}
	e.GET("/v1/stream", echo.WrapHandler(bridge))

	s.Router = e
	return s
}

type availabilityResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleAvailability(c echo.Context) error {
	switch {
	case s.cfg.SpeechKey == "":
		return c.JSON(http.StatusOK, availabilityResponse{Reason: "speech recognition is not configured"})
	case s.cfg.DeepgramKey == "":
		return c.JSON(http.StatusOK, availabilityResponse{Reason: "speech synthesis is not configured"})
	}
	return c.JSON(http.StatusOK, availabilityResponse{Available: true})
}

type createSessionRequest struct {
	InterviewType string `json:"interviewType"`
	Difficulty    string `json:"difficulty"`
	UserName      string `json:"userName"`
	TargetRole    string `json:"targetRole"`
	Greeting      string `json:"greeting"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	StreamURL string `json:"streamUrl"`
	Phase     string `json:"phase"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ls := &liveSession{}
	ls.setToken(bearerToken(c.Request()))

	coordinator := autospeak.New(ls, s.deps.Prefs, ls.voiceActive)
	ls.ctl = session.New(session.Config{
		Chat:          s.deps.Chat,
		Review:        s.deps.Review,
		Speaker:       coordinator,
		Playback:      ls,
		Progress:      session.ProgressFunc(func(p session.EndProgress) { log.Printf("ending progress: %s", p) }),
		Archive:       s.deps.Archive,
		Token:         ls.getToken,
		InterviewType: req.InterviewType,
		Difficulty:    req.Difficulty,
		UserName:      req.UserName,
		TargetRole:    req.TargetRole,
	})

	greeting := req.Greeting
	if strings.TrimSpace(greeting) == "" {
		greeting = defaultGreeting
	}
	if err := ls.ctl.Begin(greeting); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start session")
	}
	s.registry.Add(ls)

	return c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: ls.ctl.ID(),
		StreamURL: "/v1/stream?session=" + ls.ctl.ID(),
		Phase:     string(session.PhaseActive),
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(c echo.Context) error {
	ls := s.lookup(c)
	if ls == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	reply, err := ls.ctl.SendMessage(c.Request().Context(), req.Text)
	if err != nil {
		return echo.NewHTTPError(sessionErrorStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) handleRequestEnd(c echo.Context) error {
	ls := s.lookup(c)
	if ls == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if err := ls.ctl.RequestEnd(); err != nil {
		return echo.NewHTTPError(sessionErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCancelEnd(c echo.Context) error {
	ls := s.lookup(c)
	if ls == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if err := ls.ctl.CancelEnd(); err != nil {
		return echo.NewHTTPError(sessionErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type endResponse struct {
	Rated        bool           `json:"rated"`
	Rating       *review.Rating `json:"rating,omitempty"`
	TranscriptID string         `json:"transcriptId,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

func (s *Server) handleEnd(c echo.Context) error {
	ls := s.lookup(c)
	if ls == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if c.QueryParam("rating") == "false" {
		if err := ls.ctl.EndWithoutRating(); err != nil {
			return echo.NewHTTPError(sessionErrorStatus(err), err.Error())
		}
		return c.JSON(http.StatusOK, endResponse{})
	}

	// Allow a direct end from active: the confirmation step happened
	// client-side.
	if snap := ls.ctl.Snapshot(); snap.Phase == session.PhaseActive {
		if err := ls.ctl.RequestEnd(); err != nil {
			return echo.NewHTTPError(sessionErrorStatus(err), err.Error())
		}
	}
	out, err := ls.ctl.ConfirmEnd(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(sessionErrorStatus(err), err.Error())
	}
	resp := endResponse{Rated: out.Rated, TranscriptID: out.TranscriptID, Reason: out.Reason}
	if out.Rated {
		r := out.Rating
		resp.Rating = &r
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSession(c echo.Context) error {
	ls := s.lookup(c)
	if ls == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	st := ls.ctl.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessionId":    st.ID,
		"phase":        st.Phase,
		"ratingState":  st.RatingState,
		"transcriptId": st.TranscriptID,
		"startedAt":    st.StartedAt,
		"progress":     st.LastProgress,
		"messages":     st.Messages,
	})
}

// lookup resolves the :id session and refreshes its token from the request.
func (s *Server) lookup(c echo.Context) *liveSession {
	ls := s.registry.Get(c.Param("id"))
	if ls == nil {
		return nil
	}
	if tok := bearerToken(c.Request()); tok != "" {
		ls.setToken(tok)
	}
	return ls
}

// bindAudio attaches a websocket connection to a session's voice runtime.
func (s *Server) bindAudio(sessionID string, out playback.Sink, events *ws.Conn) (ws.Controls, func(), error) {
	ls := s.registry.Get(sessionID)
	if ls == nil {
		return ws.Controls{}, nil, errors.New("unknown session")
	}

	rec := s.deps.NewCapture()
	player := playback.New(s.deps.Synth, out)
	voice := voiceinput.New(rec, func(text string) {
		events.Transcript(text, true)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if _, err := ls.ctl.SendMessage(ctx, text); err != nil {
				log.Printf("voice send rejected: %v", err)
			}
		}()
	})
	ls.attach(player, voice, rec)
	ls.ctl.SetVoiceMode(true)

	controls := ws.Controls{
		StartListening: func() bool {
			ok := voice.Start()
			events.Listening(ok)
			return ok
		},
		StopListening: func() {
			// halt residual speech before the utterance is finalized; it
			// describes a now-stale state and the reply must not queue
			// behind it
			player.Stop()
			voice.Stop()
			events.Listening(false)
		},
		BargeIn: player.Stop,
		Feed:    rec.Feed,
	}
	detach := func() {
		p, v, r := ls.detachAudio()
		ls.ctl.SetVoiceMode(false)
		if v != nil {
			v.Cancel()
		}
		if r != nil {
			r.Stop()
		}
		if p != nil {
			p.Close()
		}
	}
	return controls, detach, nil
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSendInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrWrongPhase):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func bearerToken(r *http.Request) string {
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("Bearer "):])
	}
	return ""
}
