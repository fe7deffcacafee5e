package diarize

import "math"

// featureCount is the size of the per-segment audio feature vector:
// pitch mean, pitch std, RMS energy, spectral centroid, zero-crossing
// rate, pitch range.
const featureCount = 6

const (
	// Analysis frame geometry at the diarization sample rate.
	frameSize = 1024
	hopSize   = 512

	// Pitch search band for conversational speech.
	pitchMinHz = 50.0
	pitchMaxHz = 400.0

	// voicingThreshold is the minimum normalized autocorrelation peak for
	// a frame to contribute a pitch estimate.
	voicingThreshold = 0.3

	// energyFloor gates pitch detection on near-silent frames.
	energyFloor = 1e-3

	// minSegmentDur is the shortest segment worth analysing, in seconds.
	// Anything shorter yields a zero feature vector.
	minSegmentDur = 0.1
)

// Fallback pitch statistics for segments where no frame is voiced, chosen
// inside the typical conversational range so unvoiced segments do not
// collapse onto an extreme of the feature space.
const (
	unvoicedPitchMean = 150.0
	unvoicedPitchStd  = 20.0
)

// featureVector holds one segment's audio features in a fixed order.
type featureVector [featureCount]float64

// extractFeatures computes the feature vector for one mono segment.
// Segments shorter than minSegmentDur return the zero vector.
func extractFeatures(samples []float32, sampleRate int) featureVector {
	var fv featureVector
	if sampleRate <= 0 || float64(len(samples)) < minSegmentDur*float64(sampleRate) {
		return fv
	}

	frames := splitFrames(samples)

	var (
		pitches []float64
		rmsSum  float64
		centSum float64
		centN   int
		zcrSum  float64
	)
	for _, frame := range frames {
		rms := frameRMS(frame)
		rmsSum += rms
		zcrSum += zeroCrossRate(frame)

		if c := spectralCentroid(frame, sampleRate); c > 0 {
			centSum += c
			centN++
		}
		if rms > energyFloor {
			if hz, ok := framePitch(frame, sampleRate); ok {
				pitches = append(pitches, hz)
			}
		}
	}

	mean, std, span := pitchStats(pitches)
	fv[0] = mean
	fv[1] = std
	fv[2] = rmsSum / float64(len(frames))
	if centN > 0 {
		fv[3] = centSum / float64(centN)
	}
	fv[4] = zcrSum / float64(len(frames))
	fv[5] = span
	return fv
}

// splitFrames cuts a segment into analysis frames. A segment shorter than
// one full frame is analysed whole.
func splitFrames(samples []float32) [][]float32 {
	if len(samples) < frameSize {
		return [][]float32{samples}
	}
	var frames [][]float32
	for start := 0; start+frameSize <= len(samples); start += hopSize {
		frames = append(frames, samples[start:start+frameSize])
	}
	return frames
}

// frameRMS returns the root-mean-square energy of a normalized frame.
func frameRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// zeroCrossRate returns the fraction of sample pairs whose sign differs.
func zeroCrossRate(frame []float32) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}

// spectralCentroid returns the magnitude-weighted mean frequency of a
// Hann-windowed frame, in Hz. The DFT is evaluated directly with an
// incremental phasor rotation per bin; frames are short enough that the
// quadratic cost stays cheap.
func spectralCentroid(frame []float32, sampleRate int) float64 {
	n := len(frame)
	if n < 2 {
		return 0
	}

	windowed := make([]float64, n)
	for i, s := range frame {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = float64(s) * w
	}

	var weighted, total float64
	binHz := float64(sampleRate) / float64(n)
	for k := 1; k <= n/2; k++ {
		step := -2 * math.Pi * float64(k) / float64(n)
		stepRe, stepIm := math.Cos(step), math.Sin(step)

		var re, im float64
		phRe, phIm := 1.0, 0.0
		for _, x := range windowed {
			re += x * phRe
			im += x * phIm
			phRe, phIm = phRe*stepRe-phIm*stepIm, phRe*stepIm+phIm*stepRe
		}

		mag := math.Hypot(re, im)
		weighted += float64(k) * binHz * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// framePitch estimates the fundamental frequency of a frame by normalized
// autocorrelation over the pitch band. The first local maximum close to the
// global peak wins, which avoids octave errors on strongly periodic frames.
// Returns false for unvoiced frames.
func framePitch(frame []float32, sampleRate int) (float64, bool) {
	minLag := int(float64(sampleRate) / pitchMaxHz)
	maxLag := int(float64(sampleRate) / pitchMinHz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(frame) {
		maxLag = len(frame) - 1
	}
	if minLag >= maxLag {
		return 0, false
	}

	corr := make([]float64, maxLag+2)
	peak := 0.0
	peakLag := minLag
	for lag := minLag; lag <= maxLag; lag++ {
		var cross, e0, e1 float64
		for i := 0; i < len(frame)-lag; i++ {
			a := float64(frame[i])
			b := float64(frame[i+lag])
			cross += a * b
			e0 += a * a
			e1 += b * b
		}
		if e0 == 0 || e1 == 0 {
			continue
		}
		corr[lag] = cross / math.Sqrt(e0*e1)
		if corr[lag] > peak {
			peak = corr[lag]
			peakLag = lag
		}
	}
	if peak < voicingThreshold {
		return 0, false
	}
	for lag := minLag; lag <= maxLag; lag++ {
		if corr[lag] >= 0.85*peak && corr[lag] >= corr[lag-1] && corr[lag] >= corr[lag+1] {
			return float64(sampleRate) / float64(lag), true
		}
	}
	return float64(sampleRate) / float64(peakLag), true
}

// pitchStats aggregates per-frame pitch estimates into mean, standard
// deviation and range. Segments with no voiced frame fall back to neutral
// defaults.
func pitchStats(pitches []float64) (mean, std, span float64) {
	if len(pitches) == 0 {
		return unvoicedPitchMean, unvoicedPitchStd, 0
	}

	var sum float64
	lo, hi := pitches[0], pitches[0]
	for _, p := range pitches {
		sum += p
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	mean = sum / float64(len(pitches))

	var variance float64
	for _, p := range pitches {
		d := p - mean
		variance += d * d
	}
	std = math.Sqrt(variance / float64(len(pitches)))
	return mean, std, hi - lo
}

// normalizeFeatures standardizes each feature dimension to zero mean and
// unit variance across the recording. Constant dimensions stay zero so
// they do not influence clustering.
func normalizeFeatures(rows []featureVector) []featureVector {
	if len(rows) == 0 {
		return rows
	}

	var mean, std featureVector
	for _, row := range rows {
		for d, v := range row {
			mean[d] += v
		}
	}
	for d := range mean {
		mean[d] /= float64(len(rows))
	}
	for _, row := range rows {
		for d, v := range row {
			diff := v - mean[d]
			std[d] += diff * diff
		}
	}
	for d := range std {
		std[d] = math.Sqrt(std[d] / float64(len(rows)))
	}

	out := make([]featureVector, len(rows))
	for i, row := range rows {
		for d, v := range row {
			if std[d] > 0 {
				out[i][d] = (v - mean[d]) / std[d]
			}
		}
	}
	return out
}
