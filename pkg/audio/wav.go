package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// ErrInvalidWAV is returned when a byte stream is not canonical PCM WAVE data.
var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps raw PCM into a canonical 44-byte header WAV stream.
func EncodeWAV(pcm []byte, f Format) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	bits := f.BitsPerSample
	if bits == 0 {
		bits = DefaultBitsPerSample
	}
	channels := f.Channels
	if channels == 0 {
		channels = DefaultChannels
	}

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	// fmt sub-chunk
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate*channels*bits/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bits))

	// data sub-chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV parses a PCM WAVE stream and returns its samples and format.
// Unknown chunks between "fmt " and "data" are skipped.
func DecodeWAV(r io.Reader) ([]byte, Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, Format{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f      Format
		gotFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, Format{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			if binary.LittleEndian.Uint16(body[0:2]) != 1 {
				return nil, Format{}, fmt.Errorf("%w: not PCM", ErrInvalidWAV)
			}
			f = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			pcm := make([]byte, size)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return nil, Format{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			return pcm, f, nil
		default:
			skip := int64(size)
			if size%2 == 1 {
				skip++ // chunks are word aligned
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, Format{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
		}
	}
}
