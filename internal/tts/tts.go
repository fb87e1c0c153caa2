package tts

import "context"

// Utterance is one piece of text to be spoken.
type Utterance struct {
	Text  string  `json:"text"`
	Lang  string  `json:"lang,omitempty"` // BCP 47 locale, e.g. "hi-IN"; empty means the default voice language
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

// NewUtterance returns an utterance with default voice parameters (pitch=1, rate=1).
func NewUtterance(text, lang string) Utterance {
	return Utterance{Text: text, Lang: lang, Pitch: 1, Rate: 1}
}

// Speaker renders text as audible speech.
type Speaker interface {
	// Speak returns once the utterance has been handed to the playback device.
	Speak(ctx context.Context, u Utterance) error
}

// AudioSink receives synthesized audio for playback on the client.
type AudioSink interface {
	WriteAudio(ctx context.Context, u Utterance, format string, audio []byte) error
}
