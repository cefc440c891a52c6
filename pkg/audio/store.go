package audio

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SegmentStore persists segments as WAV files named
// recorded_audio_<unix-millis>.wav inside Dir. The directory is created on
// first use.
type SegmentStore struct {
	Dir string

	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewSegmentStore creates a store rooted at dir.
func NewSegmentStore(dir string) *SegmentStore {
	return &SegmentStore{Dir: dir, now: time.Now}
}

// Save writes seg and returns the absolute path of the new file.
func (s *SegmentStore) Save(seg *Segment) (string, error) {
	if seg == nil {
		return "", fmt.Errorf("nil segment")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create recordings dir: %w", err)
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("recorded_audio_%d.wav", s.nextStamp()))
	if err := os.WriteFile(path, seg.WAV(), 0o644); err != nil {
		return "", fmt.Errorf("write segment: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	log.Printf("[SegmentStore] saved %s (%s)", abs, seg.Duration())
	return abs, nil
}

// nextStamp returns a millisecond timestamp that never repeats within the
// store, so two segments finalized in the same millisecond do not collide.
func (s *SegmentStore) nextStamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now
	if now == nil {
		now = time.Now
	}
	ms := now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}
