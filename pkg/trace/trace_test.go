package trace

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// useRecorder installs a provider that keeps ended spans in memory.
func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	mu.Lock()
	tracerProvider = tp
	tracer = tp.Tracer(TracerName)
	mu.Unlock()

	t.Cleanup(func() { Shutdown(context.Background()) })
	return rec
}

func TestInitializeNoneIsNoop(t *testing.T) {
	t.Setenv("TRACE_EXPORTER", "")
	cfg := DefaultConfig()
	cfg.ExporterType = "none"

	require.NoError(t, Initialize(context.Background(), cfg))
	require.NoError(t, Initialize(context.Background(), nil), "nothing installed")
	defer Shutdown(context.Background())

	ctx, span := InstrumentTurn(context.Background(), "turn-1", 16000, 3200, 100)
	defer span.End()
	assert.False(t, oteltrace.SpanContextFromContext(ctx).IsValid())
	assert.Equal(t, "turn turn-1 done", Logf(ctx, "turn %s done", "turn-1"))
}

func TestInitializeUnsupportedExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExporterType = "zipkin"
	assert.Error(t, Initialize(context.Background(), cfg))
}

func TestTurnSpans(t *testing.T) {
	rec := useRecorder(t)

	cfg := DefaultConfig()
	cfg.ExporterType = "stdout"
	assert.Error(t, Initialize(context.Background(), cfg), "second initialize")

	ctx, span := InstrumentTurn(context.Background(), "turn-1", 16000, 3200, 100)
	sc := oteltrace.SpanContextFromContext(ctx)
	require.True(t, sc.IsValid())
	line := Logf(ctx, "turn %s done", "turn-1")
	assert.True(t, strings.HasPrefix(line, "[trace_id="+sc.TraceID().String()), line)
	assert.True(t, strings.HasSuffix(line, "] turn turn-1 done"), line)

	_, child := InstrumentSTTRequest(ctx, "whisper", 3200)
	child.End()
	_, child = InstrumentLLMRequest(ctx, "ollama", "gemma3", true)
	child.End()
	_, child = InstrumentTTSRequest(ctx, "say", 10, 200)
	child.End()

	TurnFailed(span, "playback", errors.New("speaker unplugged"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 4)
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"stt.request", "llm.request", "tts.request", "turn"}, names)

	turn := ended[3]
	assert.Equal(t, codes.Error, turn.Status().Code)
	for _, s := range ended[:3] {
		assert.Equal(t, turn.SpanContext().SpanID(), s.Parent().SpanID())
	}

	var failed bool
	for _, e := range turn.Events() {
		if e.Name == "turn.failed" {
			failed = true
			assert.Contains(t, e.Attributes, attribute.String(AttrTurnStage, "playback"))
			assert.Contains(t, e.Attributes, attribute.String(AttrErrorType, "*errors.errorString"))
		}
	}
	assert.True(t, failed)
}

func TestStageFailed(t *testing.T) {
	rec := useRecorder(t)

	_, passed := InstrumentSTTRequest(context.Background(), "whisper", 3200)
	StageFailed(passed, nil)
	passed.End()

	_, failed := InstrumentLLMRequest(context.Background(), "ollama", "gemma2", false)
	StageFailed(failed, errors.New("connection refused"))
	failed.End()

	_, quiet := InstrumentTTSRequest(context.Background(), "say", 2, 200)
	TurnFailed(quiet, "playback", nil)
	quiet.End()

	ended := rec.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "connection refused", ended[1].Status().Description)
	assert.Equal(t, codes.Unset, ended[2].Status().Code)
	assert.Empty(t, ended[2].Events())
}
