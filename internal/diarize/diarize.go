// Package diarize separates clinical conversations into promotor and
// patient turns.
//
// The classifier is a two-hypothesis hybrid. When time-aligned ASR segments
// and raw audio are available, each segment contributes a six-feature audio
// vector (pitch mean, pitch deviation, RMS energy, spectral centroid,
// zero-crossing rate, pitch range); the vectors are standardized and
// clustered into two speakers with deterministic k-means. Cluster labels
// are mapped onto roles by picking the mapping that best agrees with the
// textual evidence, then fused with a per-segment text score at a 0.3/0.7
// weighting. Without audio the text score stands alone and confidences are
// capped lower.
//
// Diarization is best-effort by contract: callers treat a failure as a flag
// on the recording, never as a reason to abort ingestion.
package diarize

import (
	"context"
	"math"
	"strings"

	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/pkg/audio"
	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
)

const (
	// DefaultMinSegment is the shortest span kept as its own segment, in
	// seconds. Shorter spans merge into a same-speaker neighbor.
	DefaultMinSegment = 1.0

	// DefaultSampleRate is the rate audio is resampled to before feature
	// extraction.
	DefaultSampleRate = 16000
)

const (
	audioWeight           = 0.3
	textWeight            = 0.7
	decisionBand          = 0.2
	strongPatternBonus    = 0.2
	textOnlyConfidenceCap = 0.8

	// secondsPerWord estimates segment timing when no ASR alignment exists.
	secondsPerWord = 0.6

	// fallbackDuration bounds the single catch-all segment when neither a
	// known duration nor any words are available.
	fallbackDuration = 60.0
)

// Input carries everything known about a recording at diarization time.
// Transcript is required unless Segments carry text; Segments and Clip are
// optional and unlock time alignment and audio evidence respectively.
type Input struct {
	Transcript string
	Segments   []asr.Segment
	Clip       *audio.Clip

	// Duration is the known recording length in seconds, used to bound
	// estimated segment times. Zero means unknown.
	Duration float64
}

// Result is a completed diarization.
type Result struct {
	Segments []record.SpeakerSegment
	Stats    record.SpeakerStats
}

// Option is a functional option for configuring a [Diarizer].
type Option func(*Diarizer)

// WithMinSegment sets the minimum segment length in seconds. Default: 1.0.
func WithMinSegment(seconds float64) Option {
	return func(d *Diarizer) {
		d.minSegment = seconds
	}
}

// WithSampleRate sets the analysis sample rate in Hz. Default: 16000.
func WithSampleRate(hz int) Option {
	return func(d *Diarizer) {
		d.sampleRate = hz
	}
}

// Diarizer classifies conversation segments by speaker role. It holds no
// per-call state and is safe for concurrent use.
type Diarizer struct {
	minSegment float64
	sampleRate int
}

// New returns a [Diarizer] with the given options applied.
func New(opts ...Option) *Diarizer {
	d := &Diarizer{
		minSegment: DefaultMinSegment,
		sampleRate: DefaultSampleRate,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Diarize splits the input into ordered, non-overlapping speaker segments
// and aggregates participation stats. With ASR segments present their
// alignment is kept; otherwise the transcript is segmented heuristically
// and timed at an estimated speaking rate. When every segment is unusable
// the whole transcript comes back as a single low-confidence Unknown span.
func (d *Diarizer) Diarize(ctx context.Context, in Input) (*Result, error) {
	transcript := strings.TrimSpace(in.Transcript)
	if transcript == "" && len(in.Segments) == 0 {
		return nil, clinerr.New(clinerr.KindInvalidInput, "diarize: nothing to diarize")
	}

	var (
		segs []record.SpeakerSegment
		err  error
	)
	if len(in.Segments) > 0 {
		segs, err = d.diarizeAligned(ctx, in)
		if err != nil {
			return nil, err
		}
	} else {
		segs = d.diarizeTranscript(transcript, in.Duration)
	}

	if len(segs) == 0 {
		if transcript == "" {
			transcript = joinSegmentTexts(in.Segments)
		}
		if transcript == "" {
			return nil, clinerr.New(clinerr.KindInvalidInput, "diarize: no usable speech segments")
		}
		segs = []record.SpeakerSegment{fallbackSegment(transcript, in.Duration)}
	}

	segs = mergeShort(segs, d.minSegment)
	return &Result{Segments: segs, Stats: computeStats(segs)}, nil
}

// diarizeAligned classifies ASR-aligned segments, fusing audio evidence in
// when a clip is available. Segment times are clamped so the output stays
// ordered, non-overlapping and within the known duration.
func (d *Diarizer) diarizeAligned(ctx context.Context, in Input) ([]record.SpeakerSegment, error) {
	scores := make([]float64, len(in.Segments))
	for i, seg := range in.Segments {
		scores[i] = textScore(seg.Text)
	}

	var audioScores []float64
	if in.Clip != nil && len(in.Clip.Samples) > 0 {
		var err error
		audioScores, err = d.audioEvidence(ctx, in.Clip, in.Segments, scores)
		if err != nil {
			return nil, err
		}
	}

	var out []record.SpeakerSegment
	var prevEnd float64
	for i, seg := range in.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start, end := seg.Start, seg.End
		if start < prevEnd {
			start = prevEnd
		}
		if in.Duration > 0 && end > in.Duration {
			end = in.Duration
		}
		if end <= start {
			continue
		}

		combined := scores[i]
		limit := textOnlyConfidenceCap
		if audioScores != nil {
			combined = audioWeight*audioScores[i] + textWeight*scores[i]
			limit = 1
		}
		speaker, confidence := classify(combined, hasStrongPattern(text), limit)

		out = append(out, record.SpeakerSegment{
			Speaker:    speaker,
			Text:       text,
			TStart:     start,
			TEnd:       end,
			Confidence: confidence,
			WordCount:  len(strings.Fields(text)),
		})
		prevEnd = end
	}
	return out, nil
}

// audioEvidence turns per-segment audio features into ±1 role scores. The
// two k-means clusters carry no inherent role, so the cluster→role mapping
// is chosen to maximize agreement with the text scores across the whole
// recording.
func (d *Diarizer) audioEvidence(ctx context.Context, clip *audio.Clip, segs []asr.Segment, textScores []float64) ([]float64, error) {
	clip = clip.Resampled(d.sampleRate)
	sr := clip.SampleRate

	rows := make([]featureVector, len(segs))
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows[i] = extractFeatures(sliceClip(clip.Samples, seg, sr), sr)
	}
	clusters := clusterSegments(normalizeFeatures(rows))

	scores := make([]float64, len(segs))
	for i, c := range clusters {
		scores[i] = clusterScore(c)
	}

	var agreement float64
	for i := range scores {
		agreement += scores[i] * textScores[i]
	}
	if agreement < 0 {
		for i := range scores {
			scores[i] = -scores[i]
		}
	}
	return scores, nil
}

func clusterScore(cluster int) float64 {
	if cluster == 1 {
		return 1
	}
	return -1
}

// sliceClip cuts the sample range covered by one ASR segment, clamped to
// the clip bounds.
func sliceClip(samples []float32, seg asr.Segment, sampleRate int) []float32 {
	start := int(seg.Start * float64(sampleRate))
	end := int(seg.End * float64(sampleRate))
	start = max(0, min(start, len(samples)))
	end = max(start, min(end, len(samples)))
	return samples[start:end]
}

// diarizeTranscript handles recordings without ASR alignment: the
// transcript is split into utterances and each is timed at an estimated
// speaking rate, scaled down when the estimate overshoots a known duration.
func (d *Diarizer) diarizeTranscript(transcript string, duration float64) []record.SpeakerSegment {
	parts := segmentTranscript(transcript)
	if len(parts) == 0 {
		return nil
	}

	words := make([]int, len(parts))
	var total float64
	for i, part := range parts {
		words[i] = len(strings.Fields(part))
		total += float64(words[i]) * secondsPerWord
	}
	scale := 1.0
	if duration > 0 && total > duration {
		scale = duration / total
	}

	out := make([]record.SpeakerSegment, 0, len(parts))
	var cursor float64
	for i, part := range parts {
		span := float64(words[i]) * secondsPerWord * scale
		speaker, confidence := classify(textScore(part), hasStrongPattern(part), textOnlyConfidenceCap)
		out = append(out, record.SpeakerSegment{
			Speaker:    speaker,
			Text:       part,
			TStart:     cursor,
			TEnd:       cursor + span,
			Confidence: confidence,
			WordCount:  words[i],
		})
		cursor += span
	}
	return out
}

// classify maps a combined score onto a speaker role. Scores inside the
// decision band stay Unknown. Confidence is the score magnitude plus a
// bonus when an unambiguous role phrase was present, capped by limit.
func classify(combined float64, strong bool, limit float64) (record.Speaker, float64) {
	var speaker record.Speaker
	switch {
	case combined > decisionBand:
		speaker = record.SpeakerPromotor
	case combined < -decisionBand:
		speaker = record.SpeakerPatient
	default:
		speaker = record.SpeakerUnknown
	}

	confidence := math.Abs(combined)
	if strong {
		confidence += strongPatternBonus
	}
	return speaker, min(confidence, limit, 1)
}

// mergeShort folds segments shorter than minDur into an adjacent segment of
// the same speaker, pooling text, word counts and duration-weighted
// confidence.
func mergeShort(segs []record.SpeakerSegment, minDur float64) []record.SpeakerSegment {
	if minDur <= 0 || len(segs) < 2 {
		return segs
	}
	out := make([]record.SpeakerSegment, 0, len(segs))
	for _, seg := range segs {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Speaker == seg.Speaker &&
				(seg.TEnd-seg.TStart < minDur || last.TEnd-last.TStart < minDur) {
				mergeInto(last, seg)
				continue
			}
		}
		out = append(out, seg)
	}
	return out
}

func mergeInto(dst *record.SpeakerSegment, src record.SpeakerSegment) {
	dDst := dst.TEnd - dst.TStart
	dSrc := src.TEnd - src.TStart
	if total := dDst + dSrc; total > 0 {
		dst.Confidence = (dst.Confidence*dDst + src.Confidence*dSrc) / total
	}
	dst.Text += " " + src.Text
	dst.TEnd = src.TEnd
	dst.WordCount += src.WordCount
}

// fallbackSegment covers the whole recording with one Unknown span.
func fallbackSegment(transcript string, duration float64) record.SpeakerSegment {
	words := len(strings.Fields(transcript))
	end := duration
	if end <= 0 {
		end = float64(words) * secondsPerWord
	}
	if end <= 0 {
		end = fallbackDuration
	}
	return record.SpeakerSegment{
		Speaker:    record.SpeakerUnknown,
		Text:       transcript,
		TStart:     0,
		TEnd:       end,
		Confidence: 0.1,
		WordCount:  words,
	}
}

func joinSegmentTexts(segs []asr.Segment) string {
	var parts []string
	for _, seg := range segs {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// computeStats aggregates speaking time, turn changes and segment length
// over a finished diarization. Unknown spans count toward time totals but
// not toward the speaker count.
func computeStats(segs []record.SpeakerSegment) record.SpeakerStats {
	var stats record.SpeakerStats
	if len(segs) == 0 {
		return stats
	}

	roles := map[record.Speaker]bool{}
	var durSum float64
	for i, seg := range segs {
		dur := seg.TEnd - seg.TStart
		durSum += dur

		switch seg.Speaker {
		case record.SpeakerPromotor:
			stats.PromotorTime += dur
		case record.SpeakerPatient:
			stats.PatientTime += dur
		default:
			stats.UnknownTime += dur
		}
		if seg.Speaker != record.SpeakerUnknown {
			roles[seg.Speaker] = true
		}
		if i > 0 && segs[i-1].Speaker != seg.Speaker {
			stats.SpeakerChanges++
		}
		stats.TotalDuration = max(stats.TotalDuration, seg.TEnd)
	}

	stats.TotalSpeakers = len(roles)
	stats.AvgSegmentLength = durSum / float64(len(segs))
	return stats
}
