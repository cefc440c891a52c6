package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/realtime-ai/voiceloop/pkg/asr"
	"github.com/realtime-ai/voiceloop/pkg/audio"
	"github.com/realtime-ai/voiceloop/pkg/capture"
	"github.com/realtime-ai/voiceloop/pkg/config"
	"github.com/realtime-ai/voiceloop/pkg/engine"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/realtime-ai/voiceloop/pkg/metrics"
	"github.com/realtime-ai/voiceloop/pkg/pipeline"
	"github.com/realtime-ai/voiceloop/pkg/playback"
	"github.com/realtime-ai/voiceloop/pkg/trace"
	"github.com/realtime-ai/voiceloop/pkg/tts"
	"github.com/realtime-ai/voiceloop/pkg/vad"
)

// app is one wired engine with its collaborators.
type app struct {
	cfg      *config.Config
	engine   *engine.Engine
	loop     *capture.Loop
	bus      pipeline.Bus
	registry *prometheus.Registry
	meter    vad.Meter
	sentry   bool
}

// newApp wires the engine from cfg. A nil source selects the default
// microphone.
func newApp(cfg *config.Config, source capture.Source) (*app, error) {
	a := &app{cfg: cfg, bus: pipeline.NewEventBus()}

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "voiceloop@" + GetVersion(),
		})
		if err != nil {
			log.Printf("[voiceloop] sentry init failed: %v", err)
		} else {
			log.Printf("[voiceloop] sentry initialized")
			a.sentry = true
		}
	}

	gate := playback.NewGate()

	meter, err := newMeter(cfg.VAD)
	if err != nil {
		return nil, err
	}
	a.meter = meter

	detector, err := vad.NewSegmentDetector(cfg.VAD.Config, meter, gate)
	if err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	if source == nil {
		mic := capture.NewMalgoSource()
		mic.PeriodMillis = uint32(cfg.Audio.PeriodMillis)
		mic.QueueChunks = cfg.Audio.QueueChunks
		source = mic
	}
	a.loop = capture.NewLoop(source, detector)

	transcriber, err := newTranscriber(cfg.Transcription)
	if err != nil {
		return nil, err
	}
	player, err := newPlayer(cfg.Speech)
	if err != nil {
		return nil, err
	}

	registry, err := metrics.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.registry = registry

	var store *audio.SegmentStore
	if cfg.Recording.Enabled {
		store = audio.NewSegmentStore(cfg.Recording.Dir)
	}

	turn := engine.TurnConfig{
		Model:          cfg.InferenceModel(),
		PromptTemplate: cfg.Inference.PromptTemplate,
		SpeechRate:     cfg.Speech.Rate,
	}

	a.engine, err = engine.New(engine.Options{
		Capture:              a.loop,
		Transcriber:          transcriber,
		Inference:            newGenerator(cfg.Inference),
		Player:               player,
		Gate:                 gate,
		Store:                store,
		Bus:                  a.bus,
		Metrics:              metrics.Recorder{},
		Turn:                 &turn,
		TranscriptionTimeout: cfg.Transcription.Timeout,
		InferenceTimeout:     cfg.Inference.Timeout,
		OnTurnError:          a.reportTurn,
		OnCaptureError:       a.reportCapture,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newMeter(cfg config.VADConfig) (vad.Meter, error) {
	switch cfg.Meter {
	case "", "rms":
		return vad.RMSMeter{}, nil
	case "silero":
		model, err := vad.NewSileroModel(cfg.ModelPath, cfg.Format.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to load silero model: %w", err)
		}
		return vad.NewProbabilityMeter(model, 0), nil
	default:
		return nil, fmt.Errorf("unknown meter %q", cfg.Meter)
	}
}

func newTranscriber(cfg config.TranscriptionConfig) (asr.Transcriber, error) {
	switch cfg.Backend {
	case "whisper":
		return asr.NewWhisperProvider(cfg.APIKey, cfg.BaseURL, asr.RecognitionConfig{
			Language: cfg.Language,
			Model:    cfg.Model,
			Prompt:   cfg.Prompt,
		})
	case "upload":
		return asr.NewUploadProvider(cfg.URL), nil
	case "command":
		return asr.NewCommandProvider(cfg.Command, cfg.Args...), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}

func newGenerator(cfg config.InferenceConfig) llm.Generator {
	if cfg.Backend == "openai" {
		client := llm.NewOpenAIClient(cfg.APIKey, cfg.URL)
		for name, model := range cfg.Models {
			if m, err := llm.ParseModel(name); err == nil {
				client.Models[m] = model
			}
		}
		return client
	}
	return llm.NewOllamaClient(cfg.URL)
}

func newPlayer(cfg config.SpeechConfig) (playback.Player, error) {
	switch cfg.Backend {
	case "openai":
		provider := tts.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
		if cfg.Model != "" {
			provider.SetModel(cfg.Model)
		}
		if err := provider.ValidateConfig(); err != nil {
			return nil, err
		}
		player := playback.NewTTSPlayer(provider)
		player.Voice = cfg.Voice
		return player, nil
	default:
		player := playback.NewCommandPlayer(cfg.Command)
		player.Voice = cfg.Voice
		return player, nil
	}
}

// start runs the bus dispatcher, the tracer and the turn consumer.
func (a *app) start(ctx context.Context) error {
	if err := trace.Initialize(ctx, a.cfg.Trace); err != nil {
		log.Printf("[voiceloop] tracing disabled: %v", err)
	}
	if err := a.bus.Start(ctx); err != nil {
		return err
	}
	return a.engine.Start(ctx)
}

// close stops everything started by start and releases the meter.
func (a *app) close() {
	a.engine.Stop()
	a.bus.Stop()

	if c, ok := a.meter.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Printf("[voiceloop] failed to close meter: %v", err)
		}
	}
	if err := vad.DestroyRuntime(); err != nil {
		log.Printf("[voiceloop] failed to destroy ONNX runtime: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := trace.Shutdown(shutdownCtx); err != nil {
		log.Printf("[voiceloop] trace shutdown: %v", err)
	}
	if a.sentry {
		sentry.Flush(2 * time.Second)
	}
}

func (a *app) reportTurn(res *engine.TurnResult) {
	if !a.sentry {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("stage", string(res.Stage))
		scope.SetTag("model", res.Model)
		scope.SetExtra("turn_id", res.ID.String())
		scope.SetExtra("transcript", res.Transcript)
		sentry.CaptureException(res.Err)
	})
}

func (a *app) reportCapture(err error) {
	if !a.sentry {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("stage", string(engine.StageCapture))
		sentry.CaptureException(err)
	})
}

// printResults writes every turn to stdout until ctx is done.
func (a *app) printResults(ctx context.Context) {
	results := make(chan pipeline.Event, 16)
	a.engine.Subscribe(pipeline.EventTurnResult, results)
	a.engine.Subscribe(pipeline.EventWarning, results)
	a.engine.Subscribe(pipeline.EventCaptureError, results)
	defer func() {
		a.engine.Unsubscribe(pipeline.EventTurnResult, results)
		a.engine.Unsubscribe(pipeline.EventWarning, results)
		a.engine.Unsubscribe(pipeline.EventCaptureError, results)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-results:
			switch p := evt.Payload.(type) {
			case *engine.TurnResult:
				fmt.Printf("認識結果: %s\nAI応答:   %s\n", p.Transcript, p.Response)
				if p.Err != nil {
					fmt.Printf("エラー (%s): %v\n", p.Stage, p.Err)
				}
				fmt.Println()
			case string:
				fmt.Printf("%s: %s\n", evt.Type, p)
			}
		}
	}
}
