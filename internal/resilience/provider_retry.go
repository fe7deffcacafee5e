package resilience

// Retry decorators for the four provider capabilities. Each wraps a provider
// so every remote call runs through [RetryWithResult]: transient failures
// (rate limits, provider outages) are retried with jittered backoff, while
// permanent and caller-side errors return immediately. Every attempt is
// counted on the provider request/error instruments; circuit-breaker skips
// in an enclosing fallback group never reach the decorator, so they are not
// counted as requests. main.go composes these around the configured
// backends; in-process providers use MaxAttempts 1 to keep the counters
// without pointless retries.

import (
	"context"

	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/pkg/provider/asr"
	"github.com/clinvox/clinvox/pkg/provider/embeddings"
	"github.com/clinvox/clinvox/pkg/provider/llm"
	"github.com/clinvox/clinvox/pkg/provider/ocr"
)

// recordAttempt counts one provider call on the request counter, and on the
// error counter when it failed.
func recordAttempt(ctx context.Context, m *observe.Metrics, name, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, name, kind)
	}
	m.RecordProviderRequest(ctx, name, kind, status)
}

// ASRRetry wraps an asr.Provider with transient-error retries and per-attempt
// request counters.
type ASRRetry struct {
	inner   asr.Provider
	name    string
	cfg     RetryConfig
	metrics *observe.Metrics
}

var _ asr.Provider = (*ASRRetry)(nil)

// NewASRRetry wraps inner. name labels the metrics attributes ("openai",
// "whisper-local"). A zero cfg uses the package defaults (3 attempts, 1s base
// delay, 10s cap).
func NewASRRetry(inner asr.Provider, name string, cfg RetryConfig) *ASRRetry {
	return &ASRRetry{inner: inner, name: name, cfg: cfg, metrics: observe.DefaultMetrics()}
}

// Transcribe implements asr.Provider.
func (r *ASRRetry) Transcribe(ctx context.Context, audio []byte, hints asr.Hints) (*asr.Result, error) {
	return RetryWithResult(ctx, r.cfg, "asr: transcribe", func() (*asr.Result, error) {
		res, err := r.inner.Transcribe(ctx, audio, hints)
		recordAttempt(ctx, r.metrics, r.name, "asr", err)
		return res, err
	})
}

// LLMRetry wraps an llm.Provider with transient-error retries and per-attempt
// request counters.
type LLMRetry struct {
	inner   llm.Provider
	name    string
	cfg     RetryConfig
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMRetry)(nil)

// NewLLMRetry wraps inner. A zero cfg uses the package defaults.
func NewLLMRetry(inner llm.Provider, name string, cfg RetryConfig) *LLMRetry {
	return &LLMRetry{inner: inner, name: name, cfg: cfg, metrics: observe.DefaultMetrics()}
}

// Complete implements llm.Provider.
func (r *LLMRetry) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return RetryWithResult(ctx, r.cfg, "llm: complete", func() (*llm.Response, error) {
		resp, err := r.inner.Complete(ctx, req)
		recordAttempt(ctx, r.metrics, r.name, "llm", err)
		return resp, err
	})
}

// OCRRetry wraps an ocr.Provider with transient-error retries and per-attempt
// request counters.
type OCRRetry struct {
	inner   ocr.Provider
	name    string
	cfg     RetryConfig
	metrics *observe.Metrics
}

var _ ocr.Provider = (*OCRRetry)(nil)

// NewOCRRetry wraps inner. A zero cfg uses the package defaults.
func NewOCRRetry(inner ocr.Provider, name string, cfg RetryConfig) *OCRRetry {
	return &OCRRetry{inner: inner, name: name, cfg: cfg, metrics: observe.DefaultMetrics()}
}

// ExtractPDF implements ocr.Provider.
func (r *OCRRetry) ExtractPDF(ctx context.Context, data []byte, maxPages int) (*ocr.PDFResult, error) {
	return RetryWithResult(ctx, r.cfg, "ocr: extract pdf", func() (*ocr.PDFResult, error) {
		res, err := r.inner.ExtractPDF(ctx, data, maxPages)
		recordAttempt(ctx, r.metrics, r.name, "ocr", err)
		return res, err
	})
}

// ExtractImage implements ocr.Provider.
func (r *OCRRetry) ExtractImage(ctx context.Context, data []byte, lang string) (*ocr.ImageResult, error) {
	return RetryWithResult(ctx, r.cfg, "ocr: extract image", func() (*ocr.ImageResult, error) {
		res, err := r.inner.ExtractImage(ctx, data, lang)
		recordAttempt(ctx, r.metrics, r.name, "ocr", err)
		return res, err
	})
}

// EmbedderRetry wraps an embeddings.Provider with transient-error retries and
// per-attempt request counters. Dimensions and ModelID pass through untouched.
type EmbedderRetry struct {
	inner   embeddings.Provider
	name    string
	cfg     RetryConfig
	metrics *observe.Metrics
}

var _ embeddings.Provider = (*EmbedderRetry)(nil)

// NewEmbedderRetry wraps inner. A zero cfg uses the package defaults.
func NewEmbedderRetry(inner embeddings.Provider, name string, cfg RetryConfig) *EmbedderRetry {
	return &EmbedderRetry{inner: inner, name: name, cfg: cfg, metrics: observe.DefaultMetrics()}
}

// Embed implements embeddings.Provider.
func (r *EmbedderRetry) Embed(ctx context.Context, text string) ([]float32, error) {
	return RetryWithResult(ctx, r.cfg, "embeddings: embed", func() ([]float32, error) {
		vec, err := r.inner.Embed(ctx, text)
		recordAttempt(ctx, r.metrics, r.name, "embeddings", err)
		return vec, err
	})
}

// EmbedBatch implements embeddings.Provider.
func (r *EmbedderRetry) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return RetryWithResult(ctx, r.cfg, "embeddings: embed batch", func() ([][]float32, error) {
		vecs, err := r.inner.EmbedBatch(ctx, texts)
		recordAttempt(ctx, r.metrics, r.name, "embeddings", err)
		return vecs, err
	})
}

// Dimensions implements embeddings.Provider.
func (r *EmbedderRetry) Dimensions() int { return r.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (r *EmbedderRetry) ModelID() string { return r.inner.ModelID() }
