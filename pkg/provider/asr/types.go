package asr

// Hints carries optional recognition guidance for a transcription request.
// Zero values mean "let the provider decide".
type Hints struct {
	// Language is the ISO 639-1 code expected in the audio (e.g., "es", "en").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// InitialPrompt biases recognition toward domain vocabulary, such as
	// medication names and clinical terms. Providers without prompt support
	// ignore it.
	InitialPrompt string
}

// Result is the outcome of a batch transcription.
type Result struct {
	// Text is the full transcript.
	Text string

	// Language is the ISO 639-1 code the provider detected or was told to use.
	// May be empty.
	Language string

	// Duration is the length of the source audio in seconds. Zero if the
	// provider does not report it.
	Duration float64

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Segments contains the transcript split into time-aligned utterances,
	// ordered by start time. May be empty for providers that only return
	// plain text.
	Segments []Segment
}

// Segment is a time-aligned slice of the transcript.
type Segment struct {
	// Start and End are offsets from the beginning of the audio, in seconds.
	Start float64
	End   float64

	// Text is the transcribed speech within the segment.
	Text string
}
