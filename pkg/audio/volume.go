package audio

import (
	"encoding/binary"
	"math"
)

// Magnitude returns the root-mean-square amplitude of a chunk of signed
// 16-bit little-endian samples. A trailing odd byte is ignored and an empty
// chunk yields 0.
func Magnitude(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Samples decodes a chunk into int16 samples, dropping a trailing odd byte.
func Samples(chunk []byte) []int16 {
	out := make([]int16, len(chunk)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
