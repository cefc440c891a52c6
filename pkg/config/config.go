// Package config loads the voiceloop configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/asr"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/realtime-ai/voiceloop/pkg/playback"
	"github.com/realtime-ai/voiceloop/pkg/trace"
	"github.com/realtime-ai/voiceloop/pkg/vad"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Inference     InferenceConfig     `yaml:"inference"`
	Speech        SpeechConfig        `yaml:"speech"`
	Server        ServerConfig        `yaml:"server"`
	Recording     RecordingConfig     `yaml:"recording"`
	Trace         *trace.Config       `yaml:"trace"`
	Sentry        SentryConfig        `yaml:"sentry"`
}

// AudioConfig selects the capture device.
type AudioConfig struct {
	// PeriodMillis is the device callback period.
	PeriodMillis int `yaml:"period_millis"`
	// QueueChunks bounds the number of buffered periods.
	QueueChunks int `yaml:"queue_chunks"`
}

// VADConfig holds the detector thresholds and the loudness meter choice.
type VADConfig struct {
	vad.Config `yaml:",inline"`

	// Meter is "rms" or "silero".
	Meter string `yaml:"meter"`
	// ModelPath is the Silero ONNX model used when Meter is "silero".
	ModelPath string `yaml:"model_path"`
}

// TranscriptionConfig selects the speech-to-text backend.
type TranscriptionConfig struct {
	// Backend is "whisper", "upload" or "command".
	Backend  string        `yaml:"backend"`
	Language string        `yaml:"language"`
	Model    string        `yaml:"model"`
	Prompt   string        `yaml:"prompt"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	URL      string        `yaml:"url"`
	Command  string        `yaml:"command"`
	Args     []string      `yaml:"args"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InferenceConfig selects the language model backend.
type InferenceConfig struct {
	// Backend is "ollama" or "openai".
	Backend        string        `yaml:"backend"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	PromptTemplate string        `yaml:"prompt_template"`
	Timeout        time.Duration `yaml:"timeout"`
	// Models overrides the model name sent to an OpenAI-compatible backend.
	Models map[string]string `yaml:"models"`
}

// SpeechConfig selects the player.
type SpeechConfig struct {
	// Backend is "command" (macOS say or compatible) or "openai".
	Backend string `yaml:"backend"`
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
	Rate    int    `yaml:"rate"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ServerConfig configures the control/event HTTP server.
type ServerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// RecordingConfig controls segment persistence.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := asr.DefaultRecognitionConfig()
	return &Config{
		Audio: AudioConfig{PeriodMillis: 10, QueueChunks: 200},
		VAD:   VADConfig{Config: vad.DefaultConfig(), Meter: "rms"},
		Transcription: TranscriptionConfig{
			Backend:  "upload",
			Language: rc.Language,
			Model:    rc.Model,
			URL:      asr.DefaultUploadURL,
			Timeout:  60 * time.Second,
		},
		Inference: InferenceConfig{
			Backend:        "ollama",
			URL:            llm.DefaultOllamaURL,
			Model:          llm.ModelStandard.String(),
			PromptTemplate: llm.DefaultPromptTemplate,
			Timeout:        120 * time.Second,
		},
		Speech: SpeechConfig{
			Backend: "command",
			Command: "say",
			Rate:    playback.DefaultRate,
		},
		Server:    ServerConfig{Enabled: true, Addr: "127.0.0.1:8080"},
		Recording: RecordingConfig{Dir: "recordings"},
		Trace:     trace.DefaultConfig(),
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	c.Transcription.Backend = getEnv("TRANSCRIPTION_BACKEND", c.Transcription.Backend)
	c.Transcription.URL = getEnv("TRANSCRIPTION_URL", c.Transcription.URL)
	c.Transcription.APIKey = getEnv("OPENAI_API_KEY", c.Transcription.APIKey)
	c.Transcription.BaseURL = getEnv("OPENAI_BASE_URL", c.Transcription.BaseURL)

	c.Inference.Backend = getEnv("INFERENCE_BACKEND", c.Inference.Backend)
	c.Inference.URL = getEnv("OLLAMA_URL", c.Inference.URL)
	c.Inference.Model = getEnv("VOICELOOP_MODEL", c.Inference.Model)
	c.Inference.APIKey = getEnv("OPENAI_API_KEY", c.Inference.APIKey)

	c.Speech.Backend = getEnv("SPEECH_BACKEND", c.Speech.Backend)
	c.Speech.Voice = getEnv("SPEECH_VOICE", c.Speech.Voice)
	c.Speech.APIKey = getEnv("OPENAI_API_KEY", c.Speech.APIKey)
	if v := getEnv("SPEECH_RATE", ""); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			c.Speech.Rate = rate
		}
	}

	c.Server.Addr = getEnv("VOICELOOP_ADDR", c.Server.Addr)
	c.Server.AuthToken = getEnv("VOICELOOP_AUTH_TOKEN", c.Server.AuthToken)
	c.Recording.Dir = getEnv("RECORDINGS_DIR", c.Recording.Dir)

	c.Sentry.DSN = getEnv("SENTRY_DSN", c.Sentry.DSN)
	c.Sentry.Environment = getEnv("SENTRY_ENVIRONMENT", c.Sentry.Environment)

	if c.Trace == nil {
		c.Trace = trace.DefaultConfig()
	}
	c.Trace.ExporterType = getEnv("TRACE_EXPORTER", c.Trace.ExporterType)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if err := c.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.VAD.Meter {
	case "", "rms":
	case "silero":
		if c.VAD.ModelPath == "" {
			errs = append(errs, errors.New("vad.model_path is required for the silero meter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vad.meter %q", c.VAD.Meter))
	}

	switch c.Transcription.Backend {
	case "whisper", "upload":
	case "command":
		if c.Transcription.Command == "" {
			errs = append(errs, errors.New("transcription.command is required for the command backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transcription.backend %q", c.Transcription.Backend))
	}

	switch c.Inference.Backend {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown inference.backend %q", c.Inference.Backend))
	}
	if _, err := llm.ParseModel(c.Inference.Model); err != nil {
		errs = append(errs, fmt.Errorf("inference.model: %w", err))
	}

	switch strings.ToLower(c.Speech.Backend) {
	case "command", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown speech.backend %q", c.Speech.Backend))
	}
	if c.Speech.Rate != 0 && (c.Speech.Rate < playback.MinRate || c.Speech.Rate > playback.MaxRate) {
		errs = append(errs, fmt.Errorf("speech.rate must be within %d-%d", playback.MinRate, playback.MaxRate))
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	return errors.Join(errs...)
}

// InferenceModel returns the configured model.
func (c *Config) InferenceModel() llm.Model {
	m, err := llm.ParseModel(c.Inference.Model)
	if err != nil {
		return llm.ModelStandard
	}
	return m
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
