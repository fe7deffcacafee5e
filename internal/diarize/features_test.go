package diarize

import (
	"math"
	"testing"
)

// sine generates dur seconds of a pure tone at half amplitude.
func sine(freq, dur float64, sampleRate int) []float32 {
	n := int(dur * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestExtractFeatures_Tone(t *testing.T) {
	t.Parallel()

	fv := extractFeatures(sine(200, 0.5, 16000), 16000)

	if fv[0] < 190 || fv[0] > 210 {
		t.Errorf("pitch mean = %.1f Hz, want ~200", fv[0])
	}
	if fv[1] > 5 {
		t.Errorf("pitch std = %.1f, want near zero for a steady tone", fv[1])
	}
	// RMS of a 0.5-amplitude sine is 0.5/sqrt(2).
	if fv[2] < 0.3 || fv[2] > 0.4 {
		t.Errorf("rms = %.3f, want ~0.354", fv[2])
	}
	if fv[3] < 170 || fv[3] > 240 {
		t.Errorf("spectral centroid = %.1f Hz, want ~200", fv[3])
	}
	// A 200 Hz tone at 16 kHz crosses zero 400 times per second.
	if fv[4] < 0.02 || fv[4] > 0.03 {
		t.Errorf("zero-cross rate = %.4f, want ~0.025", fv[4])
	}
	if fv[5] > 10 {
		t.Errorf("pitch range = %.1f, want near zero for a steady tone", fv[5])
	}
}

func TestExtractFeatures_DistinguishesTones(t *testing.T) {
	t.Parallel()

	low := extractFeatures(sine(120, 0.5, 16000), 16000)
	high := extractFeatures(sine(280, 0.5, 16000), 16000)

	if low[0] >= high[0] {
		t.Errorf("pitch means %.1f vs %.1f should order low < high", low[0], high[0])
	}
	if low[3] >= high[3] {
		t.Errorf("centroids %.1f vs %.1f should order low < high", low[3], high[3])
	}
	if low[4] >= high[4] {
		t.Errorf("zero-cross rates %.4f vs %.4f should order low < high", low[4], high[4])
	}
}

func TestExtractFeatures_TooShort(t *testing.T) {
	t.Parallel()

	fv := extractFeatures(sine(200, 0.05, 16000), 16000)
	if fv != (featureVector{}) {
		t.Errorf("sub-100ms segment should yield the zero vector, got %v", fv)
	}
}

func TestExtractFeatures_Silence(t *testing.T) {
	t.Parallel()

	fv := extractFeatures(make([]float32, 8000), 16000)

	if fv[0] != unvoicedPitchMean || fv[1] != unvoicedPitchStd {
		t.Errorf("silence should fall back to neutral pitch stats, got mean %.1f std %.1f", fv[0], fv[1])
	}
	if fv[2] != 0 {
		t.Errorf("silence rms = %v, want 0", fv[2])
	}
	if fv[5] != 0 {
		t.Errorf("silence pitch range = %v, want 0", fv[5])
	}
}

func TestNormalizeFeatures(t *testing.T) {
	t.Parallel()

	rows := []featureVector{
		{0, 7, 0, 0, 0, 0},
		{2, 7, 0, 0, 0, 0},
	}
	norm := normalizeFeatures(rows)

	if math.Abs(norm[0][0]+1) > 1e-9 || math.Abs(norm[1][0]-1) > 1e-9 {
		t.Errorf("varying dimension should standardize to ±1, got %v and %v", norm[0][0], norm[1][0])
	}
	if norm[0][1] != 0 || norm[1][1] != 0 {
		t.Errorf("constant dimension should stay zero, got %v and %v", norm[0][1], norm[1][1])
	}
}

func TestPitchStats(t *testing.T) {
	t.Parallel()

	mean, std, span := pitchStats([]float64{100, 200})
	if mean != 150 || std != 50 || span != 100 {
		t.Errorf("pitchStats = %v, %v, %v, want 150, 50, 100", mean, std, span)
	}

	mean, std, span = pitchStats(nil)
	if mean != unvoicedPitchMean || std != unvoicedPitchStd || span != 0 {
		t.Errorf("empty pitchStats = %v, %v, %v, want defaults", mean, std, span)
	}
}
