package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := Recorder{}

	segments := testutil.ToFloat64(segmentsTotal)
	dropped := testutil.ToFloat64(segmentsDroppedTotal)
	captureErrs := testutil.ToFloat64(captureErrorsTotal)
	sttErrs := testutil.ToFloat64(stageErrorsTotal.WithLabelValues("transcription"))

	r.SegmentDetected()
	r.SegmentDetected()
	r.SegmentDropped()
	r.CaptureError()
	r.StageDone("transcription", 200*time.Millisecond, errors.New("boom"))
	r.StageDone("inference", time.Second, nil)
	r.TurnDone(2*time.Second, nil)

	assert.Equal(t, segments+2, testutil.ToFloat64(segmentsTotal))
	assert.Equal(t, dropped+1, testutil.ToFloat64(segmentsDroppedTotal))
	assert.Equal(t, captureErrs+1, testutil.ToFloat64(captureErrorsTotal))
	assert.Equal(t, sttErrs+1, testutil.ToFloat64(stageErrorsTotal.WithLabelValues("transcription")))
	assert.Equal(t, 0.0, testutil.ToFloat64(stageErrorsTotal.WithLabelValues("inference")))
	assert.Positive(t, testutil.CollectAndCount(stageDuration))
	assert.Positive(t, testutil.CollectAndCount(turnDuration))

	r.PlaybackActive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(playbackActive))
	r.PlaybackActive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(playbackActive))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Error(t, Register(reg), "duplicate registration")

	_, err := NewRegistry()
	require.NoError(t, err)
}
