package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the application
const (
	// Turn attributes
	AttrTurnID     = "turn.id"
	AttrTurnStage  = "turn.stage"
	AttrTurnStatus = "turn.status"

	// Audio attributes
	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioDataSize   = "audio.data_size"
	AttrAudioDuration   = "audio.duration_ms"

	// AI/LLM attributes
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"
	AttrLLMImage    = "llm.image"

	// STT/TTS attributes
	AttrSTTProvider = "stt.provider"
	AttrTTSPlayer   = "tts.player"
	AttrTTSRate     = "tts.rate"

	AttrTextLength = "text.length"

	// Error attributes
	AttrErrorType = "error.type"
)

// TurnAttrs creates attributes identifying a turn
func TurnAttrs(turnID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTurnID, turnID),
	}
}

// AudioAttrs creates attributes for a captured segment
func AudioAttrs(sampleRate, dataSize int, durationMillis int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioDataSize, dataSize),
		attribute.Int64(AttrAudioDuration, durationMillis),
	}
}

// LLMAttrs creates attributes for LLM operations
func LLMAttrs(provider, model string, image bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
		attribute.Bool(AttrLLMImage, image),
	}
}

// ErrorAttrs creates attributes for a failed stage
func ErrorAttrs(stage, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTurnStage, stage),
		attribute.String(AttrErrorType, errorType),
	}
}
