package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StageFailed marks a stage span as failed. A nil err is ignored.
func StageFailed(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TurnFailed marks the turn span as failed and adds a turn.failed event
// naming the stage and the error type.
func TurnFailed(span trace.Span, stage string, err error) {
	if err == nil {
		return
	}
	StageFailed(span, err)
	span.AddEvent("turn.failed", trace.WithAttributes(ErrorAttrs(stage, fmt.Sprintf("%T", err))...))
}

// Logf formats a log line, prefixed with the trace and span ids when ctx
// carries a sampled span.
func Logf(ctx context.Context, format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return msg
	}
	return fmt.Sprintf("[trace_id=%s span_id=%s] %s", sc.TraceID(), sc.SpanID(), msg)
}
