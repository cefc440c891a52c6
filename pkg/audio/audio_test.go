package audio

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantChunk(amplitude int16, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = amplitude
	}
	return PCM(s)
}

func TestMagnitude_ConstantAmplitude(t *testing.T) {
	for _, a := range []int16{0, 1, 300, 1000, -1000, 32767, -32768} {
		got := Magnitude(constantChunk(a, 160))
		assert.InDelta(t, math.Abs(float64(a)), got, 1e-9, "amplitude %d", a)
	}
}

func TestMagnitude_Sine(t *testing.T) {
	const n = 1600
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	// RMS of a sine is peak/sqrt(2)
	assert.InDelta(t, 10000/math.Sqrt2, Magnitude(PCM(s)), 50)
}

func TestMagnitude_OddTrailingByte(t *testing.T) {
	chunk := append(constantChunk(500, 4), 0x7f)
	assert.InDelta(t, 500, Magnitude(chunk), 1e-9)
	assert.Equal(t, 0.0, Magnitude([]byte{0x7f}))
	assert.Equal(t, 0.0, Magnitude(nil))
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := PCM([]int16{0, 1, -1, 32767, -32768, 1234, -4321})
	f := DefaultFormat()

	wav := EncodeWAV(pcm, f)
	require.Len(t, wav, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, "data", string(wav[36:40]))

	got, gotFmt, err := DecodeWAV(bytes.NewReader(wav))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, f, gotFmt)
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := PCM([]int16{10, 20, 30})
	wav := EncodeWAV(pcm, DefaultFormat())

	// insert a LIST chunk with odd payload between fmt and data
	extra := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	patched := append(append(append([]byte{}, wav[:36]...), extra...), wav[36:]...)

	got, _, err := DecodeWAV(bytes.NewReader(patched))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, _, err := DecodeWAV(strings.NewReader("not a wav file at all"))
	assert.ErrorIs(t, err, ErrInvalidWAV)
}

func TestFormatDuration(t *testing.T) {
	f := DefaultFormat()
	assert.Equal(t, 32000, f.BytesPerSecond())
	assert.Equal(t, time.Second, f.Duration(32000))
	assert.Equal(t, 320, f.Bytes(10*time.Millisecond))
	assert.Error(t, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 8}.Validate())
	assert.NoError(t, f.Validate())
}

func TestSegmentStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	store := NewSegmentStore(dir)
	fixed := time.UnixMilli(1700000000123)
	store.now = func() time.Time { return fixed }

	seg := &Segment{Data: constantChunk(100, 1600), Format: DefaultFormat()}

	p1, err := store.Save(seg)
	require.NoError(t, err)
	p2, err := store.Save(seg)
	require.NoError(t, err)

	assert.Equal(t, "recorded_audio_1700000000123.wav", filepath.Base(p1))
	assert.Equal(t, "recorded_audio_1700000000124.wav", filepath.Base(p2))

	raw, err := os.ReadFile(p1)
	require.NoError(t, err)
	pcm, _, err := DecodeWAV(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, seg.Data, pcm)
	assert.Equal(t, 50*time.Millisecond, seg.Duration())
}
