package prefs

import (
	"path/filepath"
	"testing"
)

func TestFileStore_DefaultsWhenMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
	p, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.AutoPlayAI {
		t.Fatalf("expected autoPlayAI default true")
	}
	if p.VoiceOnboarded {
		t.Fatalf("expected onboarding flag default false")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")
	s := NewFileStore(path)
	want := Preferences{AutoPlayAI: false, PreferredGender: "male", VoiceOnboarded: true, CalibrationDone: true}
	if err := s.Set(want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(DefaultPreferences())
	p, _ := s.Get()
	p.AutoPlayAI = false
	if err := s.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ := s.Get()
	if got.AutoPlayAI {
		t.Fatalf("expected autoPlayAI false after set")
	}
}
