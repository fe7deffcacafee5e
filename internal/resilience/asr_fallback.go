package resilience

import (
	"context"

	"github.com/clinvox/clinvox/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across multiple
// transcription backends. Each backend has its own circuit breaker. A typical
// deployment pairs a hosted primary with a local whisper fallback so audio
// ingestion keeps working through provider outages.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
// If cfg.ShouldFallback is nil, invalid-media and cancellation errors do not
// fail over.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	if cfg.ShouldFallback == nil {
		cfg.ShouldFallback = shouldFallbackDefault
	}
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the audio through the first healthy provider. If the primary
// fails transiently, subsequent fallbacks are tried with the same audio and
// hints.
func (f *ASRFallback) Transcribe(ctx context.Context, audio []byte, hints asr.Hints) (*asr.Result, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (*asr.Result, error) {
		return p.Transcribe(ctx, audio, hints)
	})
}
