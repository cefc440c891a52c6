// Package audio holds the PCM primitives shared by capture, detection and
// transcription: the capture format, finalized segments, the RMS volume meter,
// WAV encoding and on-disk segment storage.
package audio

import (
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is the capture rate used throughout the engine.
	DefaultSampleRate = 16000
	// DefaultChannels is mono capture.
	DefaultChannels = 1
	// DefaultBitsPerSample is signed 16-bit little-endian PCM.
	DefaultBitsPerSample = 16
)

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat returns 16 kHz, mono, 16-bit PCM.
func DefaultFormat() Format {
	return Format{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
	}
}

// Validate reports whether the format can be handled by the engine.
// Only 16-bit PCM is supported.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bits per sample: %d", f.BitsPerSample)
	}
	return nil
}

// FrameSize is the number of bytes per sample frame.
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Duration converts a byte count into playback time.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Bytes converts a duration into a frame-aligned byte count.
func (f Format) Bytes(d time.Duration) int {
	frames := int(d * time.Duration(f.SampleRate) / time.Second)
	return frames * f.FrameSize()
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}
