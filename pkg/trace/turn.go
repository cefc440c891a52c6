package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentTurn creates the root span of one segment-to-speech turn
func InstrumentTurn(ctx context.Context, turnID string, sampleRate, audioSize int, durationMillis int64) (context.Context, trace.Span) {
	attrs := append(TurnAttrs(turnID), AudioAttrs(sampleRate, audioSize, durationMillis)...)
	return StartSpan(ctx, "turn", trace.WithAttributes(attrs...))
}

// InstrumentSTTRequest creates a span for STT (Speech-to-Text) requests
func InstrumentSTTRequest(ctx context.Context, provider string, audioSize int) (context.Context, trace.Span) {
	return StartSpan(ctx, "stt.request",
		trace.WithAttributes(
			attribute.String(AttrSTTProvider, provider),
			attribute.Int(AttrAudioDataSize, audioSize),
		),
	)
}

// InstrumentLLMRequest creates a span for LLM requests
func InstrumentLLMRequest(ctx context.Context, provider, model string, image bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "llm.request",
		trace.WithAttributes(
			LLMAttrs(provider, model, image)...,
		),
	)
}

// InstrumentTTSRequest creates a span for speech playback
func InstrumentTTSRequest(ctx context.Context, player string, textLen, rate int) (context.Context, trace.Span) {
	return StartSpan(ctx, "tts.request",
		trace.WithAttributes(
			attribute.String(AttrTTSPlayer, player),
			attribute.Int(AttrTextLength, textLen),
			attribute.Int(AttrTTSRate, rate),
		),
	)
}
