package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

// elevenLabsOutputFormat is playable by browsers without transcoding.
const elevenLabsOutputFormat = "mp3_44100_128"

// ElevenLabsClient synthesizes speech with ElevenLabs' API.
type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey     string
	VoiceID    string  // ElevenLabs voice ID
	ModelID    string  // e.g., "eleven_flash_v2_5"
	BaseURL    string  // Optional override of the text-to-speech endpoint
	Stability  float64 // 0.0-1.0, negative means default (0.5)
	Similarity float64 // 0.0-1.0, negative means default (0.75)
	HTTPClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_flash_v2_5" // Low latency, multilingual (English + Hindi)
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel - default voice
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		voiceID:    voiceID,
		modelID:    modelID,
		baseURL:    baseURL,
		stability:  stability,
		similarity: similarity,
		httpClient: httpClient,
	}
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Synthesize converts an utterance to speech and returns MP3 audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, u Utterance) ([]byte, error) {
	url := fmt.Sprintf("%s/%s?output_format=%s", c.baseURL, c.voiceID, elevenLabsOutputFormat)

	req := ttsRequest{
		Text:         u.Text,
		ModelID:      c.modelID,
		LanguageCode: languageCode(u.Lang),
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
		},
	}
	if u.Rate > 0 && u.Rate != 1 {
		req.VoiceSettings.Speed = u.Rate
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	return io.ReadAll(resp.Body)
}

// languageCode reduces a locale such as "hi-IN" to its ISO 639-1 code.
func languageCode(locale string) string {
	if locale == "" {
		return ""
	}
	code, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(code)
}

// ElevenLabsSpeaker is a Speaker that synthesizes on the server and ships
// the audio to an AudioSink.
type ElevenLabsSpeaker struct {
	client *ElevenLabsClient
	sink   AudioSink
}

// NewElevenLabsSpeaker creates a speaker writing synthesized audio to sink.
func NewElevenLabsSpeaker(client *ElevenLabsClient, sink AudioSink) *ElevenLabsSpeaker {
	return &ElevenLabsSpeaker{client: client, sink: sink}
}

// Speak synthesizes u and writes the audio to the sink.
func (s *ElevenLabsSpeaker) Speak(ctx context.Context, u Utterance) error {
	audio, err := s.client.Synthesize(ctx, u)
	if err != nil {
		return err
	}
	return s.sink.WriteAudio(ctx, u, "audio/mpeg", audio)
}
