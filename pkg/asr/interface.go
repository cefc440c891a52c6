// Package asr turns a finalized speech segment into text.
// Backends share the Transcriber interface and report failures as *Error.
package asr

import (
	"context"
	"errors"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// NotRecognizedText is the sentinel transcript shown when speech was
// captured but no words could be recognized.
const NotRecognizedText = "音声を認識できませんでした"

// ErrNotRecognized is returned when the backend heard no words.
var ErrNotRecognized = errors.New(NotRecognizedText)

// Transcriber converts a segment into text. Implementations must honor ctx
// cancellation and deadlines.
type Transcriber interface {
	Transcribe(ctx context.Context, seg *audio.Segment) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, seg *audio.Segment) (string, error)

// Transcribe implements Transcriber.
func (f TranscriberFunc) Transcribe(ctx context.Context, seg *audio.Segment) (string, error) {
	return f(ctx, seg)
}

// RecognitionConfig contains settings for speech recognition.
type RecognitionConfig struct {
	// Language code (e.g., "ja", "en"), empty for auto-detection
	Language string

	// Model to use (provider-specific, e.g., "whisper-1" for OpenAI)
	Model string

	// Prompt or context to guide the recognition (if supported)
	Prompt string

	// Temperature for sampling (OpenAI Whisper specific, 0.0-1.0)
	Temperature float32
}

// DefaultRecognitionConfig recognizes Japanese with whisper-1.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{Language: "ja", Model: "whisper-1"}
}

// Error types for ASR operations
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInvalidConfig
	ErrCodeInvalidAudio
	ErrCodeAuthenticationFailed
	ErrCodeNetworkError
	ErrCodeProviderError
)

func checkSegment(seg *audio.Segment) error {
	if seg == nil || len(seg.Data) == 0 {
		return &Error{
			Code:    ErrCodeInvalidAudio,
			Message: "audio data is empty",
		}
	}
	return nil
}
