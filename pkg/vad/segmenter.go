package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// Mode is the detector state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecording
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeRecording:
		return "Recording"
	default:
		return "Unknown"
	}
}

// Gate reports whether synthesized speech is currently playing.
type Gate interface {
	Active() bool
}

// Config holds the detector thresholds.
type Config struct {
	// SilenceThreshold is the magnitude a chunk must exceed to count as speech.
	SilenceThreshold float64 `yaml:"silence_threshold"`
	// SilenceDuration is how long the signal must stay at or below the
	// threshold before a recording may close.
	SilenceDuration time.Duration `yaml:"silence_duration"`
	// MinRecordingDuration is the shortest recording that may close.
	MinRecordingDuration time.Duration `yaml:"min_recording_duration"`
	// ChunkInterval is the capture polling interval.
	ChunkInterval time.Duration `yaml:"chunk_interval"`
	// SuppressWhilePlaybackActive blocks speech onset while the gate is active.
	SuppressWhilePlaybackActive bool `yaml:"suppress_while_playback_active"`
	// PreRoll keeps this much idle audio and prepends it at onset. Zero disables it.
	PreRoll time.Duration `yaml:"pre_roll"`
	// Format of the chunks fed to the detector.
	Format audio.Format `yaml:"-"`
}

// DefaultConfig returns the default thresholds for 16 kHz mono capture.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:            1000.0,
		SilenceDuration:             1500 * time.Millisecond,
		MinRecordingDuration:        1500 * time.Millisecond,
		ChunkInterval:               10 * time.Millisecond,
		SuppressWhilePlaybackActive: true,
		Format:                      audio.DefaultFormat(),
	}
}

// Validate checks the configuration for values the detector cannot use.
func (c Config) Validate() error {
	var errs []error
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("silence threshold must be >= 0, got %v", c.SilenceThreshold))
	}
	if c.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("silence duration must be >= 0, got %s", c.SilenceDuration))
	}
	if c.MinRecordingDuration < 0 {
		errs = append(errs, fmt.Errorf("min recording duration must be >= 0, got %s", c.MinRecordingDuration))
	}
	if c.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("chunk interval must be >= 0, got %s", c.ChunkInterval))
	}
	if c.PreRoll < 0 {
		errs = append(errs, fmt.Errorf("pre-roll must be >= 0, got %s", c.PreRoll))
	}
	if err := c.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Listener receives segment boundary events. Calls happen on the goroutine
// that feeds the detector.
type Listener interface {
	OnSegmentStart(at time.Time)
	OnSegmentData(chunk []byte)
	OnSegmentEnd(seg *audio.Segment)
}

// ListenerFuncs adapts optional callbacks to Listener.
type ListenerFuncs struct {
	OnStart func(at time.Time)
	OnData  func(chunk []byte)
	OnEnd   func(seg *audio.Segment)
}

func (l ListenerFuncs) OnSegmentStart(at time.Time) {
	if l.OnStart != nil {
		l.OnStart(at)
	}
}

func (l ListenerFuncs) OnSegmentData(chunk []byte) {
	if l.OnData != nil {
		l.OnData(chunk)
	}
}

func (l ListenerFuncs) OnSegmentEnd(seg *audio.Segment) {
	if l.OnEnd != nil {
		l.OnEnd(seg)
	}
}

// SegmentDetector is the streaming Idle/Recording classifier. It performs
// no I/O and is not safe for concurrent use: one capture goroutine owns it.
type SegmentDetector struct {
	cfg      Config
	meter    Meter
	gate     Gate
	listener Listener

	mode           Mode
	recordingStart time.Time
	lastAbove      time.Time
	buf            []byte
	preRoll        *audio.RingBuffer
}

// NewSegmentDetector creates a detector. A nil meter selects RMSMeter; a nil
// gate is treated as never active.
func NewSegmentDetector(cfg Config, meter Meter, gate Gate) (*SegmentDetector, error) {
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	if meter == nil {
		meter = RMSMeter{}
	}

	d := &SegmentDetector{
		cfg:      cfg,
		meter:    meter,
		gate:     gate,
		listener: ListenerFuncs{},
	}
	if cfg.PreRoll > 0 {
		d.preRoll = audio.NewRingBuffer(cfg.Format, cfg.PreRoll)
	}
	return d, nil
}

// SetListener replaces the event listener. Call it before feeding audio.
func (d *SegmentDetector) SetListener(l Listener) {
	if l == nil {
		l = ListenerFuncs{}
	}
	d.listener = l
}

// Config returns the detector configuration.
func (d *SegmentDetector) Config() Config { return d.cfg }

// Mode returns the current state. Only meaningful on the feeding goroutine.
func (d *SegmentDetector) Mode() Mode { return d.mode }

// Feed measures chunk and advances the state machine at time now.
func (d *SegmentDetector) Feed(chunk []byte, now time.Time) {
	d.Observe(chunk, d.meter.Magnitude(chunk), now)
}

// Observe advances the state machine with a precomputed magnitude.
func (d *SegmentDetector) Observe(chunk []byte, magnitude float64, now time.Time) {
	above := magnitude > d.cfg.SilenceThreshold

	if d.mode == ModeIdle {
		if d.suppressed() {
			return
		}
		if !above {
			if d.preRoll != nil {
				d.preRoll.Write(chunk)
			}
			return
		}
		d.begin(now)
	}

	d.buf = append(d.buf, chunk...)
	if above {
		d.lastAbove = now
	}
	d.listener.OnSegmentData(chunk)

	if now.Sub(d.lastAbove) > d.cfg.SilenceDuration && now.Sub(d.recordingStart) > d.cfg.MinRecordingDuration {
		d.finish(now)
	}
}

// Reset abandons any open recording and returns to Idle.
func (d *SegmentDetector) Reset() {
	d.mode = ModeIdle
	d.buf = nil
	d.recordingStart = time.Time{}
	d.lastAbove = time.Time{}
	if d.preRoll != nil {
		d.preRoll.Reset()
	}
}

func (d *SegmentDetector) suppressed() bool {
	return d.cfg.SuppressWhilePlaybackActive && d.gate != nil && d.gate.Active()
}

func (d *SegmentDetector) begin(now time.Time) {
	// the finished segment owns the previous buffer
	d.buf = make([]byte, 0, d.cfg.Format.BytesPerSecond())
	if d.preRoll != nil {
		d.buf = append(d.buf, d.preRoll.Bytes()...)
		d.preRoll.Reset()
	}
	d.mode = ModeRecording
	d.recordingStart = now
	d.lastAbove = now
	d.listener.OnSegmentStart(now)
}

func (d *SegmentDetector) finish(now time.Time) {
	seg := &audio.Segment{
		Data:      d.buf,
		Format:    d.cfg.Format,
		StartedAt: d.recordingStart,
		EndedAt:   now,
	}
	d.buf = nil
	d.mode = ModeIdle
	d.listener.OnSegmentEnd(seg)
}
