// Package whisperlocal provides an ASR provider backed by the whisper.cpp
// CGO bindings, avoiding any network dependency. The whisper.cpp static
// library (libwhisper.a) and headers (whisper.h) must be available at link
// time via LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// The provider accepts WAV input only. MP3 recordings need the hosted
// transcription adapter, which lets the service decode them.
package whisperlocal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	audiolib "github.com/clinvox/clinvox/pkg/audio"
	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
)

// whisperSampleRate is the input rate whisper.cpp expects. All clips are
// resampled to it before inference.
const whisperSampleRate = 16000

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using whisper.cpp Go bindings (CGO). The
// model is loaded once at construction and shared across all transcriptions;
// each Transcribe call runs on a fresh whisper context, so concurrent calls
// are safe.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default ISO 639-1 language code used when a request
// carries no language hint. An empty value keeps the model's own default.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisperlocal: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. It must not be called while a
// Transcribe call is in flight.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements asr.Provider. Inference runs inside the CGO call and
// cannot be interrupted; the context is only checked before work starts.
func (p *Provider) Transcribe(ctx context.Context, data []byte, hints asr.Hints) (*asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, clinerr.Wrap(clinerr.KindCancelled, err, "whisperlocal: context already cancelled")
	}

	clip, err := audiolib.DecodeWAV(data)
	if errors.Is(err, audiolib.ErrNotWAV) {
		return nil, clinerr.Wrap(clinerr.KindInvalidMedia, err, "whisperlocal: only WAV input is supported")
	}
	if err != nil {
		return nil, clinerr.Wrap(clinerr.KindInvalidMedia, err, "whisperlocal: decode audio")
	}
	duration := clip.Duration()
	clip = clip.Resampled(whisperSampleRate)

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, clinerr.Wrap(clinerr.KindProviderUnavailable, err, "whisperlocal: create context")
	}

	lang := hints.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisperlocal: failed to set language, using default", "language", lang, "error", err)
			lang = ""
		}
	}
	if hints.InitialPrompt != "" {
		wctx.SetInitialPrompt(hints.InitialPrompt)
	}

	if err := wctx.Process(clip.Samples, nil, nil, nil); err != nil {
		return nil, clinerr.Wrap(clinerr.KindProviderUnavailable, err, "whisperlocal: process audio")
	}

	result := &asr.Result{
		Language: lang,
		Duration: duration,
	}

	var (
		parts     []string
		probSum   float64
		probCount int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, clinerr.Wrap(clinerr.KindProviderUnavailable, err, "whisperlocal: read segment")
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		result.Segments = append(result.Segments, asr.Segment{
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  text,
		})
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			probCount++
		}
	}

	result.Text = strings.Join(parts, " ")
	if probCount > 0 {
		result.Confidence = probSum / float64(probCount)
	}
	return result, nil
}
