// Package tts synthesizes reply text into PCM for the playback sink.
package tts

import (
	"context"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// SynthesizeRequest represents a request to synthesize speech
type SynthesizeRequest struct {
	Text  string  // Text to synthesize
	Voice string  // Voice ID or name, empty for the provider default
	Speed float64 // Speaking speed multiplier, 0 for the provider default
}

// SynthesizeResponse represents the response from speech synthesis
type SynthesizeResponse struct {
	AudioData []byte       // Raw 16-bit PCM
	Format    audio.Format // Format of AudioData
}

// Duration returns the playback length of the audio.
func (r *SynthesizeResponse) Duration() float64 {
	return r.Format.Duration(len(r.AudioData)).Seconds()
}

// Provider defines the interface a TTS service must implement
type Provider interface {
	// Name returns the name of the TTS provider (e.g., "openai")
	Name() string

	// Synthesize converts text to speech
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// DefaultVoice returns the voice used when the request names none
	DefaultVoice() string

	// ValidateConfig returns an error if credentials or required settings are missing
	ValidateConfig() error
}
