package asr

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/realtime-ai/voiceloop/pkg/audio"
	"github.com/sashabaranov/go-openai"
)

// WhisperProvider transcribes segments with OpenAI's Whisper API or a
// compatible server.
type WhisperProvider struct {
	client *openai.Client
	config RecognitionConfig
}

// NewWhisperProvider creates a new OpenAI Whisper ASR provider. A non-empty
// baseURL points the client at a compatible server.
func NewWhisperProvider(apiKey, baseURL string, config RecognitionConfig) (*WhisperProvider, error) {
	if apiKey == "" {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: "OpenAI API key is required",
		}
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
		log.Printf("[Whisper STT] Using BaseURL: %s", clientConfig.BaseURL)
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	return &WhisperProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name.
func (w *WhisperProvider) Name() string {
	return "openai-whisper"
}

// Transcribe uploads the segment as WAV and returns the recognized text.
func (w *WhisperProvider) Transcribe(ctx context.Context, seg *audio.Segment) (string, error) {
	if err := checkSegment(seg); err != nil {
		return "", err
	}

	req := openai.AudioRequest{
		Model:       w.config.Model,
		FilePath:    "audio.wav", // Filename hint for API
		Reader:      bytes.NewReader(seg.WAV()),
		Prompt:      w.config.Prompt,
		Language:    w.config.Language,
		Temperature: w.config.Temperature,
	}

	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		code := ErrCodeProviderError
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			code = ErrCodeAuthenticationFailed
		}
		return "", &Error{
			Code:    code,
			Message: "Whisper API request failed",
			Err:     err,
		}
	}

	return strings.TrimSpace(resp.Text), nil
}

var _ Transcriber = (*WhisperProvider)(nil)
