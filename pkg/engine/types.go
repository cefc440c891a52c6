package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/realtime-ai/voiceloop/pkg/audio"
	"github.com/realtime-ai/voiceloop/pkg/llm"
)

// Status is the engine state shown to the presentation layer.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusListening    Status = "listening"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
	StatusGenerating   Status = "generating"
	StatusSpeaking     Status = "speaking"
	StatusError        Status = "error"
)

// Stage names the turn step an error came from.
type Stage string

const (
	StageNone          Stage = ""
	StageCapture       Stage = "capture"
	StageTranscription Stage = "transcription"
	StageInference     Stage = "inference"
	StagePlayback      Stage = "playback"
)

const (
	// NoResponseText replaces the reply when there was nothing to send to
	// the model.
	NoResponseText = "(AI応答なし)"

	transcriptionErrorPrefix = "音声認識エラー: "
	inferenceErrorPrefix     = "推論エラー: "
)

// TurnConfig is the user-selected configuration applied to every new turn.
type TurnConfig struct {
	Model          llm.Model `json:"model"`
	PromptTemplate string    `json:"prompt_template"`
	SpeechRate     int       `json:"speech_rate"`
	Image          []byte    `json:"-"`
	ImageName      string    `json:"image_name,omitempty"`
}

// DefaultTurnConfig uses the standard model, the default template and the
// default speaking rate.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		Model:          llm.ModelStandard,
		PromptTemplate: llm.DefaultPromptTemplate,
		SpeechRate:     200,
	}
}

// TurnRequest is one completed segment together with a snapshot of the
// turn configuration taken when the segment closed.
type TurnRequest struct {
	ID             uuid.UUID
	Segment        *audio.Segment
	SavedAs        string
	Model          llm.Model
	PromptTemplate string
	Image          []byte
	SpeechRate     int
}

// TurnResult is the outcome of one turn. Err holds the first stage error;
// the turn ran to completion regardless.
type TurnResult struct {
	ID         uuid.UUID     `json:"id"`
	Transcript string        `json:"transcript"`
	Response   string        `json:"response"`
	Model      string        `json:"model"`
	SavedAs    string        `json:"saved_as,omitempty"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Stage      Stage         `json:"stage,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// fail records err for stage unless an earlier stage already failed.
func (r *TurnResult) fail(stage Stage, err error) {
	if err == nil || r.Err != nil {
		return
	}
	r.Err = err
	r.Error = err.Error()
	r.Stage = stage
}

// Metrics receives turn measurements. metrics.Recorder implements it.
type Metrics interface {
	SegmentDetected()
	SegmentDropped()
	StageDone(stage string, d time.Duration, err error)
	TurnDone(d time.Duration, err error)
	PlaybackActive(active bool)
	CaptureError()
}

type noopMetrics struct{}

func (noopMetrics) SegmentDetected() {}
func (noopMetrics) SegmentDropped() {}
func (noopMetrics) StageDone(string, time.Duration, error) {}
func (noopMetrics) TurnDone(time.Duration, error) {}
func (noopMetrics) PlaybackActive(bool) {}
func (noopMetrics) CaptureError() {}
