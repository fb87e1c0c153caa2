package app

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingAPIKey is returned when the language model credential is absent.
// The server cannot hold a conversation without it and must not start.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required")

type Config struct {
	HTTPAddr    string
	DatabaseURL string // Optional; session events are not recorded without it

	// Language model
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string // Full chat completions URL, for proxies and tests

	// Server-side speech providers (optional)
	DeepgramAPIKey   string
	ElevenLabsAPIKey string

	// STT settings
	STTLanguage       string
	STTEncoding       string
	STTSampleRate     int
	STTEndpointingMs  int // Deepgram endpointing in ms (silence threshold)
	STTUtteranceEndMs int // Hard timeout after last speech, regardless of noise

	// Voice settings
	TTSVoiceID    string  // ElevenLabs voice ID
	TTSStability  float64 // ElevenLabs voice stability (0.0-1.0)
	TTSSimilarity float64 // ElevenLabs voice similarity boost (0.0-1.0)

	// Scenario catalog override (YAML); empty uses the built-in catalog
	ScenariosPath string

	// JWT Authentication (empty disables auth)
	JWTSecret string

	// Sessions without client activity for this long are closed
	SessionIdleTimeout time.Duration

	SentryDSN   string
	Environment string
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Language model
		OpenAIAPIKey:  getenv("OPENAI_API_KEY", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", ""),

		// Server-side speech providers
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),

		// STT settings
		STTLanguage:       getenv("STT_LANGUAGE", "en-US"),
		STTEncoding:       getenv("STT_ENCODING", "linear16"),
		STTSampleRate:     getenvIntClamped("STT_SAMPLE_RATE", 16000, 8000, 48000),
		STTEndpointingMs:  getenvIntClamped("STT_ENDPOINTING_MS", 800, 10, 5000),
		STTUtteranceEndMs: getenvIntClamped("STT_UTTERANCE_END_MS", 1000, 1000, 5000),

		// Voice settings
		TTSVoiceID:    getenv("TTS_VOICE_ID", ""),
		TTSStability:  getenvFloatClamped("TTS_STABILITY", 0.5, 0.0, 1.0),
		TTSSimilarity: getenvFloatClamped("TTS_SIMILARITY", 0.75, 0.0, 1.0),

		ScenariosPath: getenv("SCENARIOS_PATH", ""),

		JWTSecret: os.Getenv("JWT_SECRET"),

		SessionIdleTimeout: getenvDuration("SESSION_IDLE_TIMEOUT", 15*time.Minute),

		SentryDSN:   getenv("SENTRY_DSN", ""),
		Environment: getenv("ENVIRONMENT", "development"),
	}
}

// Validate reports configuration the server cannot run without.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped parses an integer env var, clamping it to [min, max].
// Unset or invalid values yield def.
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// getenvFloatClamped parses a float env var, clamping it to [min, max].
// Unset or invalid values yield def.
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func getenvDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(k, ""))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
