package resilience

import (
	"context"
	"testing"

	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
	asrmock "github.com/clinvox/clinvox/pkg/provider/asr/mock"
	embmock "github.com/clinvox/clinvox/pkg/provider/embeddings/mock"
	"github.com/clinvox/clinvox/pkg/provider/llm"
	llmmock "github.com/clinvox/clinvox/pkg/provider/llm/mock"
	ocrmock "github.com/clinvox/clinvox/pkg/provider/ocr/mock"
)

func TestLLMRetry_RecoversAfterRateLimit(t *testing.T) {
	inner := &llmmock.Provider{
		Queue: []llmmock.Outcome{
			{Err: clinerr.New(clinerr.KindRateLimited, "429")},
			{Err: clinerr.New(clinerr.KindRateLimited, "429")},
		},
		Response: &llm.Response{Content: "ok"},
	}

	r := NewLLMRetry(inner, "openai", fastRetry)
	resp, err := r.Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q, want ok", resp.Content)
	}
	if got := inner.CallCount(); got != 3 {
		t.Fatalf("provider called %d times, want 3", got)
	}
}

func TestLLMRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &llmmock.Provider{
		Err: clinerr.New(clinerr.KindProviderUnavailable, "503"),
	}

	r := NewLLMRetry(inner, "openai", fastRetry)
	_, err := r.Complete(context.Background(), llm.Request{})
	if got := clinerr.KindOf(err); got != clinerr.KindProviderUnavailable {
		t.Fatalf("KindOf = %v, want KindProviderUnavailable", got)
	}
	if got := inner.CallCount(); got != 3 {
		t.Fatalf("provider called %d times, want 3", got)
	}
}

func TestLLMRetry_NoRetryOnPermanentError(t *testing.T) {
	inner := &llmmock.Provider{
		Err: &clinerr.Error{Kind: clinerr.KindProviderUnavailable, Msg: "bad api key", Permanent: true},
	}

	r := NewLLMRetry(inner, "openai", fastRetry)
	_, err := r.Complete(context.Background(), llm.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := inner.CallCount(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
}

func TestASRRetry_NoRetryOnInvalidMedia(t *testing.T) {
	inner := &asrmock.Provider{
		Err: clinerr.New(clinerr.KindInvalidMedia, "undecodable audio"),
	}

	r := NewASRRetry(inner, "openai", fastRetry)
	_, err := r.Transcribe(context.Background(), []byte("RIFF"), asr.Hints{Language: "es"})
	if got := clinerr.KindOf(err); got != clinerr.KindInvalidMedia {
		t.Fatalf("KindOf = %v, want KindInvalidMedia", got)
	}
	if got := inner.CallCount(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
}

func TestOCRRetry_RetriesBothOperations(t *testing.T) {
	inner := &ocrmock.Provider{
		PDFErr:   clinerr.New(clinerr.KindRateLimited, "429"),
		ImageErr: clinerr.New(clinerr.KindRateLimited, "429"),
	}

	r := NewOCRRetry(inner, "mistral", fastRetry)
	if _, err := r.ExtractPDF(context.Background(), []byte("%PDF-"), 50); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.ExtractImage(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "es"); err == nil {
		t.Fatal("expected error")
	}
	if got := len(inner.ExtractPDFCalls); got != 3 {
		t.Errorf("ExtractPDF called %d times, want 3", got)
	}
	if got := len(inner.ExtractImageCalls); got != 3 {
		t.Errorf("ExtractImage called %d times, want 3", got)
	}
}

func TestEmbedderRetry_PassesThroughMetadata(t *testing.T) {
	inner := &embmock.Provider{
		EmbedResult:     []float32{0.1, 0.2},
		DimensionsValue: 2,
		ModelIDValue:    "test-embed",
	}

	r := NewEmbedderRetry(inner, "openai", fastRetry)
	if got := r.Dimensions(); got != 2 {
		t.Errorf("Dimensions = %d, want 2", got)
	}
	if got := r.ModelID(); got != "test-embed" {
		t.Errorf("ModelID = %q, want test-embed", got)
	}
	vec, err := r.Embed(context.Background(), "gripe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("vector length = %d, want 2", len(vec))
	}
	if got := len(inner.EmbedCalls); got != 1 {
		t.Fatalf("Embed called %d times, want 1", got)
	}
}

func TestEmbedderRetry_RetriesTransientBatchFailure(t *testing.T) {
	inner := &embmock.Provider{
		EmbedBatchErr: clinerr.New(clinerr.KindProviderUnavailable, "connection reset"),
	}

	r := NewEmbedderRetry(inner, "openai", fastRetry)
	if _, err := r.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error")
	}
	if got := len(inner.EmbedBatchCalls); got != 3 {
		t.Fatalf("EmbedBatch called %d times, want 3", got)
	}
}
