// Package capture pulls PCM chunks from an audio source and feeds them to a
// segment detector on a dedicated goroutine.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// DefaultChunkSize is the number of bytes requested per read.
const DefaultChunkSize = 1024

// Source is a PCM producer. Read returns the next chunk, or an empty chunk
// and a nil error when no audio is available yet.
type Source interface {
	Open(f audio.Format) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// ReaderSource replays PCM from an io.Reader in fixed-size chunks. Read
// returns io.EOF once the reader and the trailing silence are exhausted.
type ReaderSource struct {
	// Realtime paces reads at the audio rate.
	Realtime bool
	// TrailingSilence is appended after the data so a final utterance can close.
	TrailingSilence time.Duration

	r         io.Reader
	format    audio.Format
	chunkSize int
	trailing  int
	opened    bool
	delivered atomic.Int64
}

// NewReaderSource reads raw PCM in format f from r.
func NewReaderSource(r io.Reader, f audio.Format, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderSource{r: r, format: f, chunkSize: chunkSize}
}

// OpenWAV loads a WAV file into a ReaderSource.
func OpenWAV(path string, chunkSize int) (*ReaderSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pcm, f, err := audio.DecodeWAV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return NewReaderSource(bytes.NewReader(pcm), f, chunkSize), nil
}

// Format returns the format of the underlying data.
func (s *ReaderSource) Format() audio.Format { return s.format }

// Open implements Source.
func (s *ReaderSource) Open(f audio.Format) error {
	if f != s.format {
		return fmt.Errorf("%w: source is %s, want %s", ErrUnsupportedFormat, s.format, f)
	}
	s.trailing = f.Bytes(s.TrailingSilence)
	s.opened = true
	return nil
}

// Read implements Source.
func (s *ReaderSource) Read(ctx context.Context) ([]byte, error) {
	if !s.opened {
		return nil, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunk, err := s.next()
	if err != nil {
		return nil, err
	}

	s.delivered.Add(int64(len(chunk)))
	if s.Realtime {
		timer := time.NewTimer(s.format.Duration(len(chunk)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return chunk, nil
}

func (s *ReaderSource) next() ([]byte, error) {
	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	if s.trailing > 0 {
		n = min(s.chunkSize, s.trailing)
		s.trailing -= n
		return make([]byte, n), nil
	}
	return nil, io.EOF
}

// Position is the audio time delivered so far. It keeps counting across
// Close and Open.
func (s *ReaderSource) Position() time.Duration {
	return s.format.Duration(int(s.delivered.Load()))
}

// Clock returns a clock that reads start plus Position. A loop driven by it
// sees audio time instead of wall time, so replay faster than realtime still
// segments.
func (s *ReaderSource) Clock(start time.Time) func() time.Time {
	return func() time.Time { return start.Add(s.Position()) }
}

// Close implements Source.
func (s *ReaderSource) Close() error {
	s.opened = false
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
