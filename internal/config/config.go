package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	AuthPassword string
	LogFile      string

	// Speech capture (streaming recognition provider).
	SpeechKey string
	SpeechURL string

	// Speech playback.
	DeepgramKey   string
	DeepgramModel string

	// Chat completion endpoint.
	ChatBaseURL string

	// Transcript submission + rating generation endpoints.
	ReviewBaseURL string

	// Transcript archive.
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	// Persisted user preferences.
	PrefsPath string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	speechKey := os.Getenv("SPEECH_API_KEY")
	if speechKey == "" {
		log.Println("Warning: SPEECH_API_KEY not set - voice capture will be unavailable")
	}
	speechURL := os.Getenv("SPEECH_STREAM_URL")
	if speechURL == "" {
		speechURL = "wss://streaming.assemblyai.com/v3/ws"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - voice playback will be unavailable")
	}
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	chatBase := os.Getenv("CHAT_API_BASE_URL")
	if chatBase == "" {
		chatBase = "http://localhost:3000"
	}
	reviewBase := os.Getenv("REVIEW_API_BASE_URL")
	if reviewBase == "" {
		reviewBase = chatBase
	}

	bucket := os.Getenv("SUPABASE_BUCKET")
	if bucket == "" {
		bucket = "interview-transcripts"
	}

	prefsPath := os.Getenv("PREFS_PATH")
	if prefsPath == "" {
		prefsPath = "prefs.json"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:    addr,
		AuthPassword:   os.Getenv("AUTH_PASSWORD"),
		LogFile:        os.Getenv("LOG_FILE"),
		SpeechKey:      speechKey,
		SpeechURL:      speechURL,
		DeepgramKey:    deepgramKey,
		DeepgramModel:  deepgramModel,
		ChatBaseURL:    chatBase,
		ReviewBaseURL:  reviewBase,
		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket: bucket,
		PrefsPath:      prefsPath,
	}
}
