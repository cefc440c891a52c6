package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/realtime-ai/voiceloop/pkg/audio"
)

const (
	defaultPeriodMillis = 10
	defaultQueueChunks  = 200
)

// MalgoSource captures from the default input device through miniaudio.
// The device callback copies each period into a queue that Read drains.
type MalgoSource struct {
	// PeriodMillis is the device period. Zero selects 10ms.
	PeriodMillis uint32
	// QueueChunks bounds the number of undrained periods kept.
	QueueChunks int

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	chunks  chan []byte
	stopped chan struct{}

	closing atomic.Bool
	dropped atomic.Int64
}

// NewMalgoSource returns a source for the default capture device.
func NewMalgoSource() *MalgoSource {
	return &MalgoSource{}
}

// Open implements Source.
func (s *MalgoSource) Open(f audio.Format) error {
	if f.BitsPerSample != 16 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return nil
	}

	period := s.PeriodMillis
	if period == 0 {
		period = defaultPeriodMillis
	}
	queue := s.QueueChunks
	if queue <= 0 {
		queue = defaultQueueChunks
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = period
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	chunks := make(chan []byte, queue)
	stopped := make(chan struct{})
	var stopOnce sync.Once
	s.closing.Store(false)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, framecount uint32) {
			tempSamples := make([]byte, len(inputSamples))
			copy(tempSamples, inputSamples)

			select {
			case chunks <- tempSamples:
			default:
				s.dropped.Add(1)
			}
		},
		Stop: func() {
			if s.closing.Load() {
				return
			}
			stopOnce.Do(func() { close(stopped) })
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	s.mctx = mctx
	s.device = device
	s.chunks = chunks
	s.stopped = stopped
	log.Printf("[MalgoSource] capture device started: %s, period %dms", f, period)
	return nil
}

// Read implements Source. It never blocks.
func (s *MalgoSource) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	chunks, stopped := s.chunks, s.stopped
	s.mu.Unlock()

	if chunks == nil {
		return nil, ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-chunks:
		return chunk, nil
	case <-stopped:
		return nil, ErrDeviceStopped
	default:
		return nil, nil
	}
}

// Dropped returns the number of periods discarded because Read fell behind.
func (s *MalgoSource) Dropped() int64 { return s.dropped.Load() }

// Close implements Source.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	s.closing.Store(true)
	var firstErr error
	if err := s.device.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop capture device: %w", err)
	}
	s.device.Uninit()
	if err := s.mctx.Uninit(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to uninit context: %w", err)
	}
	s.mctx.Free()

	if n := s.dropped.Swap(0); n > 0 {
		log.Printf("[MalgoSource] dropped %d periods while reader was behind", n)
	}

	s.device = nil
	s.mctx = nil
	s.chunks = nil
	s.stopped = nil
	log.Printf("[MalgoSource] capture device released")
	return firstErr
}

var _ Source = (*MalgoSource)(nil)
