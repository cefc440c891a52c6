package audio

import "time"

// Segment is one finalized utterance: the concatenated chunks recorded
// between speech onset and the qualifying silence gap.
// It is written once by the detector and read-only afterwards.
type Segment struct {
	Data      []byte
	Format    Format
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the audio length of the segment derived from its byte count.
func (s *Segment) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.Format.Duration(len(s.Data))
}

// WAV returns the segment as a RIFF/WAVE byte stream.
func (s *Segment) WAV() []byte {
	return EncodeWAV(s.Data, s.Format)
}
