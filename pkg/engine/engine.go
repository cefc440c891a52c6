// Package engine coordinates capture, transcription, inference and playback
// into listen/answer turns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/realtime-ai/voiceloop/pkg/asr"
	"github.com/realtime-ai/voiceloop/pkg/audio"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/realtime-ai/voiceloop/pkg/pipeline"
	"github.com/realtime-ai/voiceloop/pkg/playback"
)

// Capture is the part of capture.Loop the engine drives.
type Capture interface {
	Start(onStart func(at time.Time), onEnd func(seg *audio.Segment), onError func(err error)) error
	Stop()
	Running() bool
}

// Options wires an Engine. Capture, Transcriber, Inference and Player are
// required. The detector behind Capture should share Gate so that onset is
// suppressed while the engine speaks.
type Options struct {
	Capture     Capture
	Transcriber asr.Transcriber
	Inference   llm.Generator
	Player      playback.Player
	Gate        *playback.Gate

	// Store, when set, keeps every segment as a WAV file.
	Store *audio.SegmentStore
	// Bus receives engine events. A synchronous bus is created when nil.
	Bus     pipeline.Bus
	Metrics Metrics

	// Turn is the initial turn configuration; DefaultTurnConfig when nil.
	Turn *TurnConfig

	TranscriptionTimeout time.Duration
	InferenceTimeout     time.Duration

	// OnTurnError is called with every failed turn, e.g. for error reporting.
	OnTurnError func(result *TurnResult)
	// OnCaptureError is called with every capture device error.
	OnCaptureError func(err error)
}

// Engine runs one turn at a time. Segments that complete while a turn is in
// flight are dropped.
type Engine struct {
	opts    Options
	bus     pipeline.Bus
	metrics Metrics
	gate    *playback.Gate

	turns    chan *TurnRequest
	inFlight atomic.Bool

	mu        sync.Mutex
	status    Status
	turnCfg   TurnConfig
	listening bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New validates opts and returns a stopped engine.
func New(opts Options) (*Engine, error) {
	var errs []error
	if opts.Capture == nil {
		errs = append(errs, errors.New("capture is required"))
	}
	if opts.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if opts.Inference == nil {
		errs = append(errs, errors.New("inference is required"))
	}
	if opts.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if opts.Gate == nil {
		opts.Gate = playback.NewGate()
	}
	if opts.Bus == nil {
		opts.Bus = pipeline.NewEventBus()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	turnCfg := DefaultTurnConfig()
	if opts.Turn != nil {
		turnCfg = normalizeTurnConfig(*opts.Turn)
	}
	if opts.TranscriptionTimeout <= 0 {
		opts.TranscriptionTimeout = 60 * time.Second
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 120 * time.Second
	}

	e := &Engine{
		opts:    opts,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		gate:    opts.Gate,
		turns:   make(chan *TurnRequest, 1),
		status:  StatusIdle,
		turnCfg: turnCfg,
	}
	e.gate.OnChange(e.onPlaybackChange)
	return e, nil
}

// Start runs the turn consumer until ctx is done or Stop is called. It does
// not open the capture device; call StartListening for that.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.consume(ctx)

	log.Printf("[TurnCoordinator] started")
	return nil
}

// Stop ends listening, interrupts any playback and waits for the current
// turn to unwind.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.listening = false
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.gate.ForceStop()
	e.wg.Wait()
	e.opts.Capture.Stop()

	select {
	case <-e.turns:
	default:
	}
	e.inFlight.Store(false)
	e.setStatus(StatusIdle, "")
	log.Printf("[TurnCoordinator] stopped")
}

// StartListening opens the capture device. While a turn is in flight it only
// records the intent; the turn resumes capture when it finishes.
func (e *Engine) StartListening() error {
	e.mu.Lock()
	e.listening = true
	e.mu.Unlock()

	if e.inFlight.Load() {
		return nil
	}
	return e.startCapture()
}

// StopListening closes the capture device. A turn in flight still finishes
// but does not resume capture.
func (e *Engine) StopListening() {
	e.mu.Lock()
	e.listening = false
	e.mu.Unlock()

	e.opts.Capture.Stop()
	if !e.inFlight.Load() {
		e.setStatus(StatusIdle, "")
	}
}

// Busy reports whether a turn is in flight.
func (e *Engine) Busy() bool {
	return e.inFlight.Load()
}

// Listening reports whether capture is wanted.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// ForceStop interrupts speech in progress. It reports whether anything was
// playing.
func (e *Engine) ForceStop() bool {
	stopped := e.gate.ForceStop()
	if stopped {
		log.Printf("[TurnCoordinator] playback force-stopped")
	}
	return stopped
}

// SetTurnConfig replaces the configuration used by turns that start later.
func (e *Engine) SetTurnConfig(cfg TurnConfig) {
	cfg = normalizeTurnConfig(cfg)

	e.mu.Lock()
	e.turnCfg = cfg
	e.mu.Unlock()

	if len(cfg.Image) > 0 && !cfg.Model.SupportsImages() {
		e.publish(pipeline.EventWarning, fmt.Sprintf("%s does not accept images; the image will not be sent", cfg.Model.DisplayName()))
	}
}

func normalizeTurnConfig(cfg TurnConfig) TurnConfig {
	cfg.SpeechRate = playback.ClampRate(cfg.SpeechRate)
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = llm.DefaultPromptTemplate
	}
	return cfg
}

// TurnConfig returns the current configuration.
func (e *Engine) TurnConfig() TurnConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turnCfg
}

// Status returns the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Inference returns the configured backend, e.g. for model pings.
func (e *Engine) Inference() llm.Generator {
	return e.opts.Inference
}

// Subscribe registers ch for events of type t.
func (e *Engine) Subscribe(t pipeline.EventType, ch chan<- pipeline.Event) {
	e.bus.Subscribe(t, ch)
}

// Unsubscribe removes ch.
func (e *Engine) Unsubscribe(t pipeline.EventType, ch chan<- pipeline.Event) {
	e.bus.Unsubscribe(t, ch)
}

func (e *Engine) startCapture() error {
	if err := e.opts.Capture.Start(e.onSegmentStart, e.onSegmentEnd, e.onCaptureError); err != nil {
		return err
	}
	e.setStatus(StatusListening, "")
	return nil
}

// onSegmentStart runs on the capture goroutine.
func (e *Engine) onSegmentStart(at time.Time) {
	e.setStatus(StatusRecording, "")
	e.publish(pipeline.EventSegmentStart, pipeline.SegmentInfo{StartedAt: at, InProgress: true})
}

// onSegmentEnd runs on the capture goroutine and must not block.
func (e *Engine) onSegmentEnd(seg *audio.Segment) {
	e.metrics.SegmentDetected()
	info := pipeline.SegmentInfo{
		StartedAt: seg.StartedAt,
		EndedAt:   seg.EndedAt,
		Duration:  seg.Duration(),
		Bytes:     len(seg.Data),
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		log.Printf("[TurnCoordinator] turn in flight, dropping %s segment", seg.Duration())
		e.metrics.SegmentDropped()
		e.publish(pipeline.EventSegmentDropped, info)
		return
	}

	e.publish(pipeline.EventSegmentEnd, info)

	select {
	case e.turns <- e.newRequest(seg):
	default:
		// unreachable while inFlight guards the slot
		e.inFlight.Store(false)
		e.metrics.SegmentDropped()
		e.publish(pipeline.EventSegmentDropped, info)
	}
}

func (e *Engine) newRequest(seg *audio.Segment) *TurnRequest {
	cfg := e.TurnConfig()
	return &TurnRequest{
		ID:             uuid.New(),
		Segment:        seg,
		Model:          cfg.Model,
		PromptTemplate: cfg.PromptTemplate,
		Image:          cfg.Image,
		SpeechRate:     cfg.SpeechRate,
	}
}

// onCaptureError runs after the capture loop has stopped, possibly while
// capture.Start still holds its lock.
func (e *Engine) onCaptureError(err error) {
	e.mu.Lock()
	e.listening = false
	e.mu.Unlock()

	e.metrics.CaptureError()
	e.setStatus(StatusError, err.Error())
	e.publish(pipeline.EventCaptureError, err.Error())
	if e.opts.OnCaptureError != nil {
		e.opts.OnCaptureError(err)
	}
}

func (e *Engine) onPlaybackChange(active bool) {
	e.metrics.PlaybackActive(active)
	e.publish(pipeline.EventPlayback, active)
}

func (e *Engine) consume(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.turns:
			result := e.runTurn(ctx, req)
			e.publish(pipeline.EventTurnResult, result)
			if result.Err != nil && e.opts.OnTurnError != nil {
				e.opts.OnTurnError(result)
			}
			e.inFlight.Store(false)

			// StartListening may have been called after the turn decided
			// not to resume.
			if ctx.Err() == nil && e.Listening() && !e.opts.Capture.Running() {
				if err := e.startCapture(); err != nil {
					log.Printf("[TurnCoordinator] failed to resume capture: %v", err)
				}
			}
		}
	}
}

// StatusPayload is the payload of EventStatus.
type StatusPayload struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

func (e *Engine) setStatus(s Status, message string) {
	e.mu.Lock()
	changed := e.status != s
	e.status = s
	e.mu.Unlock()

	if changed || message != "" {
		e.publish(pipeline.EventStatus, StatusPayload{Status: s, Message: message})
	}
}

func (e *Engine) publish(t pipeline.EventType, payload interface{}) {
	e.bus.Publish(pipeline.Event{Type: t, Timestamp: time.Now(), Payload: payload})
}
