package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PCM16FromFloat32 converts normalized samples back to little-endian
// 16-bit PCM, clamping anything outside [-1, 1].
func PCM16FromFloat32(samples []float32) []byte {
	pcm := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*SampleWidth:], uint16(int16(s*32767)))
	}
	return pcm
}

// EncodeWAV wraps normalized samples in a mono 16-bit PCM WAV container,
// the shape remote recognizers expect for uploads.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	pcm := PCM16FromFloat32(samples)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*SampleWidth))
	binary.Write(&buf, binary.LittleEndian, uint16(SampleWidth))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV extracts the raw PCM payload from a RIFF WAV file, walking the
// chunk list to the data chunk. The caller is expected to have normalized
// the file to canonical parameters already.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF WAV file")
	}
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if id == "data" {
			if size > len(data)-off {
				size = len(data) - off
			}
			return data[off : off+size], nil
		}
		// Chunks are word-aligned.
		off += size + size%2
	}
	return nil, fmt.Errorf("wav file has no data chunk")
}
