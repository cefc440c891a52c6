package vad

import (
	"testing"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chunkDuration = 10 * time.Millisecond

// recorder collects listener events.
type recorder struct {
	starts   []time.Time
	segments []*audio.Segment
	endTimes []time.Time
	data     int
}

func (r *recorder) listener() ListenerFuncs {
	return ListenerFuncs{
		OnStart: func(at time.Time) { r.starts = append(r.starts, at) },
		OnData:  func(chunk []byte) { r.data += len(chunk) },
		OnEnd: func(seg *audio.Segment) {
			r.segments = append(r.segments, seg)
			r.endTimes = append(r.endTimes, seg.EndedAt)
		},
	}
}

// stream feeds constant-amplitude 10ms chunks into a detector on a synthetic clock.
type stream struct {
	t   *testing.T
	det *SegmentDetector
	now time.Time
}

func newStream(t *testing.T, cfg Config, gate Gate) (*stream, *recorder) {
	t.Helper()
	det, err := NewSegmentDetector(cfg, RMSMeter{}, gate)
	require.NoError(t, err)
	rec := &recorder{}
	det.SetListener(rec.listener())
	return &stream{t: t, det: det, now: time.Unix(1700000000, 0)}, rec
}

func (s *stream) feed(amplitude int16, d time.Duration) {
	samples := int(chunkDuration * audio.DefaultSampleRate / time.Second)
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = amplitude
	}
	chunk := audio.PCM(pcm)
	for elapsed := time.Duration(0); elapsed < d; elapsed += chunkDuration {
		s.det.Feed(chunk, s.now)
		s.now = s.now.Add(chunkDuration)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1000.0, cfg.SilenceThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.SilenceDuration)
	assert.Equal(t, 1500*time.Millisecond, cfg.MinRecordingDuration)
	assert.Equal(t, 10*time.Millisecond, cfg.ChunkInterval)
	assert.True(t, cfg.SuppressWhilePlaybackActive)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceThreshold = -1
	cfg.SilenceDuration = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "silence threshold")
	assert.Contains(t, err.Error(), "silence duration")

	_, err = NewSegmentDetector(cfg, nil, nil)
	assert.Error(t, err)
}

func TestSegmentDetector_SilentStream(t *testing.T) {
	s, rec := newStream(t, DefaultConfig(), nil)

	s.feed(0, 5*time.Second)
	s.feed(500, 5*time.Second)

	assert.Empty(t, rec.starts)
	assert.Empty(t, rec.segments)
	assert.Zero(t, rec.data)
	assert.Equal(t, ModeIdle, s.det.Mode())
}

func TestSegmentDetector_ToneThenSilence(t *testing.T) {
	cfg := DefaultConfig()
	s, rec := newStream(t, cfg, nil)

	s.feed(0, 500*time.Millisecond)
	toneStart := s.now
	s.feed(5000, 2*time.Second)
	s.feed(0, 1600*time.Millisecond)

	require.Len(t, rec.starts, 1)
	require.Len(t, rec.segments, 1)
	assert.Equal(t, toneStart, rec.starts[0])

	seg := rec.segments[0]
	dur := seg.Duration()
	assert.GreaterOrEqual(t, dur, cfg.MinRecordingDuration)
	assert.GreaterOrEqual(t, dur, 2*time.Second+cfg.SilenceDuration)
	assert.LessOrEqual(t, dur, 2*time.Second+1600*time.Millisecond)
	assert.Equal(t, toneStart, seg.StartedAt)
	assert.Equal(t, ModeIdle, s.det.Mode())

	// closing chunk included
	assert.Equal(t, seg.EndedAt.Sub(seg.StartedAt)+chunkDuration, dur)
	assert.Equal(t, len(seg.Data), rec.data)
}

func TestSegmentDetector_MinimumDurationHoldsShortUtterance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceDuration = 300 * time.Millisecond
	s, rec := newStream(t, cfg, nil)

	toneStart := s.now
	s.feed(5000, 200*time.Millisecond)
	s.feed(0, 1200*time.Millisecond)
	assert.Empty(t, rec.segments, "closed before minimum duration")
	assert.Equal(t, ModeRecording, s.det.Mode())

	s.feed(0, 500*time.Millisecond)
	require.Len(t, rec.segments, 1)
	assert.Equal(t, toneStart.Add(1510*time.Millisecond), rec.endTimes[0])
}

func TestSegmentDetector_StrictThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceDuration = 100 * time.Millisecond
	cfg.MinRecordingDuration = 0
	s, rec := newStream(t, cfg, nil)

	toneStart := s.now
	s.feed(5000, chunkDuration)
	// silence exactly equal to the threshold does not close
	s.feed(0, 100*time.Millisecond)
	assert.Empty(t, rec.segments)

	s.feed(0, chunkDuration)
	require.Len(t, rec.segments, 1)
	assert.Equal(t, toneStart.Add(110*time.Millisecond), rec.endTimes[0])
}

func TestSegmentDetector_AmplitudeAtThresholdIsSilence(t *testing.T) {
	s, rec := newStream(t, DefaultConfig(), nil)

	s.feed(1000, time.Second)
	assert.Empty(t, rec.starts)

	s.feed(1001, chunkDuration)
	assert.Len(t, rec.starts, 1)
}

func TestSegmentDetector_GateBlocksOnset(t *testing.T) {
	gate := &StaticGate{}
	gate.Set(true)
	s, rec := newStream(t, DefaultConfig(), gate)

	s.feed(5000, 2*time.Second)
	assert.Empty(t, rec.starts)
	assert.Equal(t, ModeIdle, s.det.Mode())

	gate.Set(false)
	s.feed(5000, chunkDuration)
	assert.Len(t, rec.starts, 1)
}

func TestSegmentDetector_GateDoesNotCutOpenRecording(t *testing.T) {
	gate := &StaticGate{}
	s, rec := newStream(t, DefaultConfig(), gate)

	s.feed(5000, 500*time.Millisecond)
	gate.Set(true)
	s.feed(5000, time.Second)
	s.feed(0, 1600*time.Millisecond)

	require.Len(t, rec.segments, 1)
}

func TestSegmentDetector_SuppressionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuppressWhilePlaybackActive = false
	gate := &StaticGate{}
	gate.Set(true)
	s, rec := newStream(t, cfg, gate)

	s.feed(5000, chunkDuration)
	assert.Len(t, rec.starts, 1)
}

func TestSegmentDetector_PreRoll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreRoll = 100 * time.Millisecond
	s, rec := newStream(t, cfg, nil)

	s.feed(200, 500*time.Millisecond)
	s.feed(5000, 2*time.Second)
	s.feed(0, 1600*time.Millisecond)

	require.Len(t, rec.segments, 1)
	seg := rec.segments[0]
	preRollBytes := cfg.Format.Bytes(cfg.PreRoll)
	assert.Equal(t, len(seg.Data)-preRollBytes, rec.data)

	head := audio.Samples(seg.Data[:preRollBytes])
	for _, v := range head {
		require.Equal(t, int16(200), v)
	}
	assert.Equal(t, int16(5000), audio.Samples(seg.Data[preRollBytes:preRollBytes+2])[0])
}

func TestSegmentDetector_ConsecutiveSegmentsAreIndependent(t *testing.T) {
	s, rec := newStream(t, DefaultConfig(), nil)

	s.feed(5000, 2*time.Second)
	s.feed(0, 1600*time.Millisecond)
	s.feed(8000, 2*time.Second)
	s.feed(0, 1600*time.Millisecond)

	require.Len(t, rec.segments, 2)
	first := audio.Samples(rec.segments[0].Data[:2])[0]
	second := audio.Samples(rec.segments[1].Data[:2])[0]
	assert.Equal(t, int16(5000), first)
	assert.Equal(t, int16(8000), second)
	assert.True(t, rec.segments[1].StartedAt.After(rec.segments[0].EndedAt))
}

func TestSegmentDetector_Reset(t *testing.T) {
	s, rec := newStream(t, DefaultConfig(), nil)

	s.feed(5000, 500*time.Millisecond)
	require.Equal(t, ModeRecording, s.det.Mode())

	s.det.Reset()
	assert.Equal(t, ModeIdle, s.det.Mode())

	s.feed(0, 3*time.Second)
	assert.Empty(t, rec.segments)
}

func TestSegmentDetector_ObserveWithProbabilityMeter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceThreshold = 0.5
	cfg.SilenceDuration = 50 * time.Millisecond
	cfg.MinRecordingDuration = 0

	mock := NewMockModelWithSequence(0.9, 0.9, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1)
	det, err := NewSegmentDetector(cfg, NewProbabilityMeter(mock, 160), nil)
	require.NoError(t, err)
	rec := &recorder{}
	det.SetListener(rec.listener())

	chunk := audio.PCM(make([]int16, 160))
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		det.Feed(chunk, now)
		now = now.Add(chunkDuration)
	}

	assert.Len(t, rec.starts, 1)
	assert.Len(t, rec.segments, 1)
}
