package tts

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/realtime-ai/voiceloop/pkg/audio"
	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIDefaultModel      = openai.TTSModel1
	openAIDefaultVoice      = openai.VoiceAlloy
	openAIDefaultSampleRate = 24000
)

// OpenAI supported voices
var openAIVoices = []string{
	string(openai.VoiceAlloy),   // Neutral and balanced
	string(openai.VoiceEcho),    // More expressive
	string(openai.VoiceFable),   // British accent
	string(openai.VoiceOnyx),    // Deep and authoritative
	string(openai.VoiceNova),    // Energetic and lively
	string(openai.VoiceShimmer), // Soft and gentle
}

// OpenAIProvider implements Provider with the OpenAI speech endpoint,
// requesting raw 24 kHz PCM.
type OpenAIProvider struct {
	apiKey string
	model  openai.SpeechModel
	client *openai.Client
}

// NewOpenAIProvider creates a provider. An empty apiKey falls back to
// OPENAI_API_KEY; a non-empty baseURL targets a compatible server.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIProvider{
		apiKey: apiKey,
		model:  openAIDefaultModel,
		client: openai.NewClientWithConfig(config),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// SetModel sets the TTS model ("tts-1" or "tts-1-hd")
func (p *OpenAIProvider) SetModel(model string) {
	p.model = openai.SpeechModel(model)
}

// Synthesize converts text to speech
func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = p.DefaultVoice()
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &SynthesizeResponse{
		AudioData: audioData,
		Format: audio.Format{
			SampleRate:    openAIDefaultSampleRate,
			Channels:      1,
			BitsPerSample: 16,
		},
	}, nil
}

// SupportedVoices returns the list of supported OpenAI voices
func (p *OpenAIProvider) SupportedVoices() []string {
	return openAIVoices
}

// DefaultVoice returns the default voice
func (p *OpenAIProvider) DefaultVoice() string {
	return string(openAIDefaultVoice)
}

// ValidateConfig validates the provider configuration
func (p *OpenAIProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("OpenAI API key is not set. Please set OPENAI_API_KEY environment variable")
	}
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
