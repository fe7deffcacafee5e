package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE container around the given 16-bit
// PCM payload.
func buildWAV(t *testing.T, format uint16, channels, sampleRate, bits int, pcm []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}

	blockAlign := channels * bits / 8
	buf.WriteString("RIFF")
	write(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	write(uint32(16))
	write(format)
	write(uint16(channels))
	write(uint32(sampleRate))
	write(uint32(sampleRate * blockAlign))
	write(uint16(blockAlign))
	write(uint16(bits))
	buf.WriteString("data")
	write(uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestDecodeWAVMono(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{0, 16384, -16384, 32767})
	clip, err := DecodeWAV(buildWAV(t, 1, 1, 16000, 16, pcm))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.Samples) != 4 {
		t.Fatalf("len(Samples) = %d, want 4", len(clip.Samples))
	}
	if clip.Samples[0] != 0 {
		t.Errorf("Samples[0] = %v, want 0", clip.Samples[0])
	}
	if got := clip.Samples[1]; math.Abs(float64(got)-0.5) > 1e-3 {
		t.Errorf("Samples[1] = %v, want ~0.5", got)
	}
	if got := clip.Samples[2]; math.Abs(float64(got)+0.5) > 1e-3 {
		t.Errorf("Samples[2] = %v, want ~-0.5", got)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	t.Parallel()

	// Two frames: (1000, 3000) and (-2000, -4000). Downmix averages pairs.
	pcm := samplesToBytes([]int16{1000, 3000, -2000, -4000})
	clip, err := DecodeWAV(buildWAV(t, 1, 2, 44100, 16, pcm))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", clip.SampleRate)
	}
	want := []float32{2000.0 / 32768.0, -3000.0 / 32768.0}
	if len(clip.Samples) != len(want) {
		t.Fatalf("len(Samples) = %d, want %d", len(clip.Samples), len(want))
	}
	for i := range want {
		if math.Abs(float64(clip.Samples[i]-want[i])) > 1e-6 {
			t.Errorf("Samples[%d] = %v, want %v", i, clip.Samples[i], want[i])
		}
	}
}

func TestDecodeWAVRejectsNonWAV(t *testing.T) {
	t.Parallel()

	if _, err := DecodeWAV([]byte("ID3\x04\x00\x00\x00\x00\x00\x00")); !errors.Is(err, ErrNotWAV) {
		t.Errorf("mp3 input: err = %v, want ErrNotWAV", err)
	}
	if _, err := DecodeWAV(nil); !errors.Is(err, ErrNotWAV) {
		t.Errorf("nil input: err = %v, want ErrNotWAV", err)
	}
}

func TestDecodeWAVRejectsUnsupported(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{0, 0})
	cases := []struct {
		name     string
		format   uint16
		channels int
		bits     int
	}{
		{name: "ieee float", format: 3, channels: 1, bits: 16},
		{name: "8 bit", format: 1, channels: 1, bits: 8},
		{name: "5.1 surround", format: 1, channels: 6, bits: 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeWAV(buildWAV(t, tc.format, tc.channels, 16000, tc.bits, pcm)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDecodeWAVTruncatedChunk(t *testing.T) {
	t.Parallel()

	wav := buildWAV(t, 1, 1, 16000, 16, samplesToBytes([]int16{1, 2, 3, 4}))
	if _, err := DecodeWAV(wav[:len(wav)-3]); err == nil {
		t.Error("expected error for truncated data chunk, got nil")
	}
}

func TestClipResampled(t *testing.T) {
	t.Parallel()

	clip := &Clip{SampleRate: 32000, Samples: make([]float32, 3200)}
	out := clip.Resampled(16000)
	if out.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", out.SampleRate)
	}
	if got, want := len(out.Samples), 1600; got != want {
		t.Errorf("len(Samples) = %d, want %d", got, want)
	}

	if same := clip.Resampled(32000); same != clip {
		t.Error("Resampled with matching rate should return the receiver")
	}
}

func TestClipDuration(t *testing.T) {
	t.Parallel()

	clip := &Clip{SampleRate: 16000, Samples: make([]float32, 8000)}
	if got := clip.Duration(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Duration = %v, want 0.5", got)
	}
	empty := &Clip{}
	if got := empty.Duration(); got != 0 {
		t.Errorf("Duration of empty clip = %v, want 0", got)
	}
}

func TestFloat32SamplesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.25, 0.999, -1.0}
	out := Float32Samples(float32ToPCM(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}
