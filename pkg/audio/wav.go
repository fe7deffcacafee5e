package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Clip is decoded mono audio ready for feature extraction or inference.
// Samples are normalised to [-1.0, 1.0].
type Clip struct {
	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Samples is the mono PCM signal as float32.
	Samples []float32
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ErrNotWAV is returned by [DecodeWAV] when the input does not carry a
// RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// DecodeWAV parses a WAV container holding 16-bit PCM and returns a mono
// [Clip] at the container's native sample rate. Stereo input is downmixed by
// averaging; more than two channels are rejected. Non-PCM encodings
// (IEEE float, ADPCM, µ-law) are rejected.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		pcm        []byte
		haveFmt    bool
	)

	// Walk the chunk list. Chunks are word-aligned; odd sizes carry a pad byte.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return nil, errors.New("audio: missing fmt chunk")
	}
	if pcm == nil {
		return nil, errors.New("audio: missing data chunk")
	}
	if format != 1 {
		return nil, fmt.Errorf("audio: unsupported WAV encoding %d (only 16-bit PCM)", format)
	}
	if bits != 16 {
		return nil, fmt.Errorf("audio: unsupported bit depth %d (only 16-bit PCM)", bits)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	switch channels {
	case 1:
		// Already mono.
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}

	return &Clip{
		SampleRate: sampleRate,
		Samples:    Float32Samples(pcm),
	}, nil
}

// Resampled returns the clip converted to the target sample rate using linear
// interpolation. The receiver is returned unchanged when rates already match.
func (c *Clip) Resampled(rate int) *Clip {
	if rate <= 0 || rate == c.SampleRate {
		return c
	}
	pcm := ResampleMono16(float32ToPCM(c.Samples), c.SampleRate, rate)
	return &Clip{SampleRate: rate, Samples: Float32Samples(pcm)}
}

// Float32Samples converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func Float32Samples(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// float32ToPCM converts normalised float32 samples back to 16-bit
// little-endian PCM, clamping out-of-range values.
func float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return pcm
}
