// Package costs provides cost estimation for API usage.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per unit for precision).
// They can be overridden via environment variables.
var (
	// DeepgramCentsPerMinute is the cost per minute for Deepgram Nova-3 streaming STT.
	// Default: $0.0077/min = 0.77 cents/min
	DeepgramCentsPerMinute = getEnvFloat("COST_DEEPGRAM_CENTS_PER_MIN", 0.77)

	// OpenAICentsPerThousandInputTokens is the cost per 1K input tokens for gpt-3.5-turbo.
	// Default: $0.50/1M = 0.05 cents/1K tokens
	OpenAICentsPerThousandInputTokens = getEnvFloat("COST_OPENAI_INPUT_CENTS_PER_1K", 0.05)

	// OpenAICentsPerThousandOutputTokens is the cost per 1K output tokens for gpt-3.5-turbo.
	// Default: $1.50/1M = 0.15 cents/1K tokens
	OpenAICentsPerThousandOutputTokens = getEnvFloat("COST_OPENAI_OUTPUT_CENTS_PER_1K", 0.15)

	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)
)

// SessionMetrics contains the raw usage of a session used for cost calculation.
// Only server-side STT and TTS are billed; client-side speech is free.
type SessionMetrics struct {
	STTSeconds      int // Audio streamed to Deepgram
	LLMInputTokens  int // Tokens sent to the LLM (completions and translations)
	LLMOutputTokens int // Tokens received from the LLM
	TTSCharacters   int // Characters sent to ElevenLabs
}

// Add accumulates other into m.
func (m *SessionMetrics) Add(other SessionMetrics) {
	m.STTSeconds += other.STTSeconds
	m.LLMInputTokens += other.LLMInputTokens
	m.LLMOutputTokens += other.LLMOutputTokens
	m.TTSCharacters += other.TTSCharacters
}

// SessionCosts contains the calculated costs for a session in cents.
type SessionCosts struct {
	STTCostCents   int
	LLMCostCents   int
	TTSCostCents   int
	TotalCostCents int
}

// CalculateSessionCosts computes the costs for a session based on usage metrics.
func CalculateSessionCosts(m SessionMetrics) SessionCosts {
	sttMinutes := float64(m.STTSeconds) / 60.0
	sttCents := sttMinutes * DeepgramCentsPerMinute

	// LLM costs: per 1K tokens
	llmInputCents := (float64(m.LLMInputTokens) / 1000.0) * OpenAICentsPerThousandInputTokens
	llmOutputCents := (float64(m.LLMOutputTokens) / 1000.0) * OpenAICentsPerThousandOutputTokens
	llmCents := llmInputCents + llmOutputCents

	// TTS costs: per 1K characters
	ttsCents := (float64(m.TTSCharacters) / 1000.0) * ElevenLabsCentsPerThousandChars

	// Round to nearest cent
	costs := SessionCosts{
		STTCostCents: roundToInt(sttCents),
		LLMCostCents: roundToInt(llmCents),
		TTSCostCents: roundToInt(ttsCents),
	}
	costs.TotalCostCents = costs.STTCostCents + costs.LLMCostCents + costs.TTSCostCents

	return costs
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
