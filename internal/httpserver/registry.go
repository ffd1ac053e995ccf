package httpserver

import (
	"context"
	"sync"

	"github.com/prepline/interview-voice/internal/capture"
	"github.com/prepline/interview-voice/internal/playback"
	"github.com/prepline/interview-voice/internal/session"
	"github.com/prepline/interview-voice/internal/voiceinput"
)

// liveSession bundles one interview with its (optional) attached voice
// runtime. The playback/capture half exists only while an audio connection
// is bound.
type liveSession struct {
	ctl *session.Controller

	mu     sync.Mutex
	token  string
	player *playback.Player
	voice  *voiceinput.Controller
	rec    capture.Service
}

// Speak forwards to the attached player; without an audio connection there
// is nothing to play and the request is silently complete.
func (ls *liveSession) Speak(ctx context.Context, text string, opts playback.Options) error {
	ls.mu.Lock()
	p := ls.player
	ls.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Speak(ctx, text, opts)
}

// Stop halts attached playback synchronously. Safe without audio.
func (ls *liveSession) Stop() {
	ls.mu.Lock()
	p := ls.player
	ls.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// voiceActive reports whether an audio connection is bound.
func (ls *liveSession) voiceActive() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.player != nil
}

func (ls *liveSession) attach(p *playback.Player, v *voiceinput.Controller, rec capture.Service) {
	ls.mu.Lock()
	ls.player = p
	ls.voice = v
	ls.rec = rec
	ls.mu.Unlock()
}

func (ls *liveSession) detachAudio() (*playback.Player, *voiceinput.Controller, capture.Service) {
	ls.mu.Lock()
	p, v, rec := ls.player, ls.voice, ls.rec
	ls.player, ls.voice, ls.rec = nil, nil, nil
	ls.mu.Unlock()
	return p, v, rec
}

func (ls *liveSession) setToken(token string) {
	ls.mu.Lock()
	ls.token = token
	ls.mu.Unlock()
}

func (ls *liveSession) getToken() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.token
}

// Registry holds live sessions by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*liveSession)}
}

func (r *Registry) Add(ls *liveSession) {
	r.mu.Lock()
	r.sessions[ls.ctl.ID()] = ls
	r.mu.Unlock()
}

func (r *Registry) Get(id string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}
