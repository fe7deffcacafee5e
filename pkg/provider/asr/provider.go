// Package asr defines the Provider interface for batch speech-to-text
// backends.
//
// An ASR provider wraps a transcription service (e.g., the OpenAI Whisper
// API or a local whisper.cpp model) and exposes a uniform single-shot
// interface: the caller hands over a complete audio file and receives the
// full transcript with time-aligned segments. There is no streaming surface;
// clinical consultations are recorded first and processed afterwards, so the
// pipeline always has the whole file in hand.
//
// Implementations must be safe for concurrent use. The ingestion pipeline
// transcribes several recordings in parallel against a single Provider value.
package asr

import "context"

// Provider is the abstraction over any batch transcription backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts a complete audio file into text. The audio slice
	// holds the raw file bytes (WAV or MP3 container, per the provider's
	// documented support). Hints are optional and providers ignore what they
	// cannot honour.
	//
	// A non-nil Result always carries the full transcript text; segments and
	// confidence are populated when the backend reports them. Errors carry a
	// clinerr.Kind so callers can distinguish malformed media from provider
	// outages.
	Transcribe(ctx context.Context, audio []byte, hints Hints) (*Result, error)
}
