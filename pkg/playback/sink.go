package playback

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// Sink plays a PCM buffer to completion or until ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, pcm []byte, f audio.Format) error
}

// MalgoSink plays through the default output device. Each Play opens the
// device for the duration of the buffer.
type MalgoSink struct {
	PeriodMillis uint32
}

// Play implements Sink.
func (s *MalgoSink) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := f.Validate(); err != nil {
		return err
	}

	period := s.PeriodMillis
	if period == 0 {
		period = 20
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.PeriodSizeInMilliseconds = period
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	var (
		feeder   = &pcmFeeder{pcm: pcm}
		once     sync.Once
		finished = make(chan struct{})
	)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, framecount uint32) {
			if feeder.fill(outputSamples) {
				once.Do(func() { close(finished) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	select {
	case <-finished:
	case <-ctx.Done():
		log.Printf("[MalgoSink] playback cancelled")
	}

	if err := device.Stop(); err != nil {
		log.Printf("[MalgoSink] failed to stop playback device: %v", err)
	}
	return ctx.Err()
}

var _ Sink = (*MalgoSink)(nil)

// pcmFeeder hands pcm to the device one period at a time. fill reports
// drained on the first callback after the last bytes went out, once the
// device has consumed the period that carried them.
type pcmFeeder struct {
	mu  sync.Mutex
	pcm []byte
	pos int
}

func (f *pcmFeeder) fill(out []byte) (drained bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	drained = f.pos >= len(f.pcm)
	n := copy(out, f.pcm[f.pos:])
	f.pos += n
	// pad the last period with silence
	clear(out[n:])
	return drained
}
