package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/asr"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/realtime-ai/voiceloop/pkg/pipeline"
	"github.com/realtime-ai/voiceloop/pkg/trace"
)

// runTurn executes transcribe, infer and speak for one segment. Stage
// failures are folded into the result; capture resumes afterwards unless
// listening was turned off in the meantime.
func (e *Engine) runTurn(ctx context.Context, req *TurnRequest) *TurnResult {
	begin := time.Now()
	seg := req.Segment

	ctx, span := trace.InstrumentTurn(ctx, req.ID.String(), seg.Format.SampleRate, len(seg.Data), seg.Duration().Milliseconds())
	defer span.End()

	e.opts.Capture.Stop()
	log.Printf("[TurnCoordinator] turn %s: %s segment", req.ID, seg.Duration())

	if e.opts.Store != nil {
		if path, err := e.opts.Store.Save(seg); err != nil {
			log.Printf("[TurnCoordinator] failed to save segment: %v", err)
		} else {
			req.SavedAs = path
		}
	}

	result := &TurnResult{ID: req.ID, Model: req.Model.String(), SavedAs: req.SavedAs}

	e.setStatus(StatusTranscribing, "")
	text, err := e.transcribe(ctx, req)
	switch {
	case errors.Is(err, asr.ErrNotRecognized):
		result.Transcript = asr.NotRecognizedText
		text = ""
	case err != nil:
		result.Transcript = transcriptionErrorPrefix + err.Error()
		result.fail(StageTranscription, err)
		text = ""
	default:
		result.Transcript = text
	}

	result.Response = NoResponseText
	if text != "" {
		e.setStatus(StatusGenerating, "")
		result.Response = e.generate(ctx, req, text, result)
	}

	e.setStatus(StatusSpeaking, "")
	result.fail(StagePlayback, e.speak(ctx, result.Response, req.SpeechRate))

	if err := e.resume(ctx); err != nil {
		result.fail(StageCapture, err)
	}

	result.Duration = time.Since(begin)
	e.metrics.TurnDone(result.Duration, result.Err)
	if result.Err != nil {
		trace.TurnFailed(span, string(result.Stage), result.Err)
		log.Printf("[TurnCoordinator] %s", trace.Logf(ctx, "turn %s finished with %s error in %s: %v", req.ID, result.Stage, result.Duration, result.Err))
	} else {
		log.Printf("[TurnCoordinator] %s", trace.Logf(ctx, "turn %s finished in %s", req.ID, result.Duration))
	}
	return result
}

func (e *Engine) transcribe(ctx context.Context, req *TurnRequest) (string, error) {
	ctx, span := trace.InstrumentSTTRequest(ctx, nameOf(e.opts.Transcriber), len(req.Segment.Data))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.TranscriptionTimeout)
	defer cancel()

	start := time.Now()
	text, err := e.opts.Transcriber.Transcribe(ctx, req.Segment)
	if errors.Is(err, asr.ErrNotRecognized) {
		e.metrics.StageDone(string(StageTranscription), time.Since(start), nil)
		return "", err
	}
	e.metrics.StageDone(string(StageTranscription), time.Since(start), err)
	if err != nil {
		trace.StageFailed(span, err)
		log.Printf("[TurnCoordinator] transcription failed: %v", err)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// generate returns the text to speak. A light-model image warning is spoken
// as the reply; other failures become an error line.
func (e *Engine) generate(ctx context.Context, req *TurnRequest, text string, result *TurnResult) string {
	ctx, span := trace.InstrumentLLMRequest(ctx, nameOf(e.opts.Inference), req.Model.ServiceID(), len(req.Image) > 0)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.InferenceTimeout)
	defer cancel()

	start := time.Now()
	reply, err := e.opts.Inference.Generate(ctx, &llm.Request{
		Model:          req.Model,
		Prompt:         text,
		PromptTemplate: req.PromptTemplate,
		Image:          req.Image,
	})
	switch {
	case errors.Is(err, llm.ErrImagesUnsupported):
		e.metrics.StageDone(string(StageInference), time.Since(start), nil)
		e.publish(pipeline.EventWarning, llm.LightImageWarning)
		return llm.LightImageWarning
	case err != nil:
		e.metrics.StageDone(string(StageInference), time.Since(start), err)
		trace.StageFailed(span, err)
		log.Printf("[TurnCoordinator] inference failed: %v", err)
		result.fail(StageInference, err)
		return inferenceErrorPrefix + err.Error()
	}
	e.metrics.StageDone(string(StageInference), time.Since(start), nil)

	// backends clean their own output; other generators may not
	if reply = llm.CleanResponse(reply); reply == "" {
		return NoResponseText
	}
	return reply
}

// speak plays text under the gate. Cancellation, including a force stop, is
// not an error.
func (e *Engine) speak(ctx context.Context, text string, rate int) error {
	ctx, span := trace.InstrumentTTSRequest(ctx, nameOf(e.opts.Player), len([]rune(text)), rate)
	defer span.End()

	playCtx, end := e.gate.Begin(ctx)
	start := time.Now()
	err := e.opts.Player.Speak(playCtx, text, rate)
	end()

	if errors.Is(err, context.Canceled) {
		log.Printf("[TurnCoordinator] playback interrupted")
		err = nil
	}
	e.metrics.StageDone(string(StagePlayback), time.Since(start), err)
	if err != nil {
		trace.StageFailed(span, err)
		log.Printf("[TurnCoordinator] playback failed: %v", err)
		e.publish(pipeline.EventError, err.Error())
	}
	return err
}

// resume restarts capture when listening is still wanted.
func (e *Engine) resume(ctx context.Context) error {
	if ctx.Err() != nil || !e.Listening() {
		e.setStatus(StatusIdle, "")
		return nil
	}
	if err := e.startCapture(); err != nil {
		return fmt.Errorf("resume capture: %w", err)
	}
	return nil
}

func nameOf(v interface{}) string {
	if n, ok := v.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", v)
}
