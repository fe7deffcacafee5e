package audio

import (
	"encoding/binary"
	"testing"
)

// samplesToBytes packs int16 samples as little-endian PCM bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples unpacks little-endian PCM bytes into int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stereo []int16 // interleaved L, R
		want   []int16
	}{
		{
			name:   "averages channels",
			stereo: []int16{100, 200, -100, -200},
			want:   []int16{150, -150},
		},
		{
			name:   "identical channels pass through",
			stereo: []int16{1000, 1000},
			want:   []int16{1000},
		},
		{
			name:   "opposite extremes cancel",
			stereo: []int16{32767, -32768},
			want:   []int16{0},
		},
		{
			name:   "empty input",
			stereo: nil,
			want:   []int16{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := bytesToSamples(StereoToMono(samplesToBytes(tt.stereo)))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStereoToMonoDropsTrailingPartialFrame(t *testing.T) {
	t.Parallel()

	// One full stereo frame plus a dangling left sample.
	got := bytesToSamples(StereoToMono(samplesToBytes([]int16{500, 300, 999})))
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if got[0] != 400 {
		t.Errorf("sample = %d, want 400", got[0])
	}
}

func TestResampleMono16SameRate(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{1, 2, 3})
	got := ResampleMono16(in, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestResampleMono16Downsample(t *testing.T) {
	t.Parallel()

	// 8 samples at 32 kHz halve to 4 at 16 kHz; every second sample survives
	// because the interpolation positions land exactly on source samples.
	in := samplesToBytes([]int16{0, 10, 20, 30, 40, 50, 60, 70})
	got := bytesToSamples(ResampleMono16(in, 32000, 16000))
	want := []int16{0, 20, 40, 60}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16Upsample(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 100})
	got := bytesToSamples(ResampleMono16(in, 8000, 16000))
	// Interpolation positions 0, 0.5, 1.0, 1.5 of the source; the tail
	// clamps to the last sample.
	want := []int16{0, 50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16DegenerateInput(t *testing.T) {
	t.Parallel()

	if got := ResampleMono16(nil, 8000, 16000); len(got) != 0 {
		t.Errorf("nil input produced %d bytes", len(got))
	}
	in := samplesToBytes([]int16{5})
	if got := ResampleMono16(in, 0, 16000); &got[0] != &in[0] {
		t.Error("invalid source rate should return the input unchanged")
	}
}
