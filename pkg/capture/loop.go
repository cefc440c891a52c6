package capture

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/audio"
	"github.com/realtime-ai/voiceloop/pkg/vad"
)

// Loop owns a Source and a SegmentDetector and runs the read/feed cycle on
// its own goroutine while started.
type Loop struct {
	source   Source
	detector *vad.SegmentDetector
	format   audio.Format
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop creates a stopped loop. Format and polling interval come from
// the detector configuration.
func NewLoop(source Source, detector *vad.SegmentDetector) *Loop {
	cfg := detector.Config()
	interval := cfg.ChunkInterval
	if interval <= 0 {
		interval = vad.DefaultConfig().ChunkInterval
	}
	return &Loop{
		source:   source,
		detector: detector,
		format:   cfg.Format,
		interval: interval,
		now:      time.Now,
	}
}

// SetClock replaces the timestamp source passed to the detector.
func (l *Loop) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Running reports whether the capture goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start opens the source and begins feeding the detector. It is a no-op
// while already running. onStart and onEnd run on the capture goroutine;
// onError runs on it too, after the loop has already stopped.
// An open failure is returned as a *DeviceError and also passed to onError.
func (l *Loop) Start(onStart func(at time.Time), onEnd func(seg *audio.Segment), onError func(err error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	if err := l.source.Open(l.format); err != nil {
		derr := &DeviceError{Op: "open", Err: err}
		log.Printf("[CaptureLoop] %v", derr)
		if onError != nil {
			onError(derr)
		}
		return derr
	}

	l.detector.Reset()
	l.detector.SetListener(vad.ListenerFuncs{OnStart: onStart, OnEnd: onEnd})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.running = true
	now := l.now

	go func() {
		err := l.run(ctx, now)
		cancel()

		if cerr := l.source.Close(); cerr != nil {
			log.Printf("[CaptureLoop] failed to close source: %v", cerr)
		}

		l.mu.Lock()
		if l.done == done {
			l.running = false
			l.cancel = nil
		}
		l.mu.Unlock()
		close(done)

		if err != nil {
			log.Printf("[CaptureLoop] stopped: %v", err)
			if onError != nil {
				onError(err)
			}
		}
	}()

	log.Printf("[CaptureLoop] started (%s, interval %s)", l.format, l.interval)
	return nil
}

func (l *Loop) run(ctx context.Context, now func() time.Time) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk, err := l.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				log.Printf("[CaptureLoop] end of stream")
				return nil
			}
			return &DeviceError{Op: "read", Err: err}
		}

		if len(chunk) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.interval):
			}
			continue
		}

		l.detector.Feed(chunk, now())
	}
}

// Stop cancels the read loop, waits for the goroutine and releases the
// source. Safe to call when not running. Must not be called from onStart or
// onEnd.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	log.Printf("[CaptureLoop] stopped")
}

// Wait blocks until the current run ends or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
