// Package openai provides an ASR provider backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
)

// Provider implements asr.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible transcription servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI ASR Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The resilience layer owns retries; the SDK must not add its own.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements asr.Provider. It requests the verbose JSON response
// format so that time-aligned segments and per-segment log probabilities are
// available.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, hints asr.Hints) (*asr.Result, error) {
	if len(audio) == 0 {
		return nil, clinerr.New(clinerr.KindInvalidMedia, "openai: empty audio payload")
	}

	filename, contentType := sniffAudio(audio)
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio), filename, contentType),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if hints.Language != "" {
		params.Language = param.NewOpt(hints.Language)
	}
	if hints.InitialPrompt != "" {
		params.Prompt = param.NewOpt(hints.InitialPrompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	result, err := decodeVerbose(resp.RawJSON())
	if err != nil {
		// The plain text transcript is still usable when the verbose payload
		// does not parse, e.g. from a compatible server that ignores the
		// requested response format.
		slog.Warn("openai asr: verbose response did not parse, segments unavailable", "error", err)
		return &asr.Result{Text: resp.Text, Language: hints.Language}, nil
	}
	return result, nil
}

// verboseTranscription mirrors the fields of the verbose_json response that
// the pipeline consumes.
type verboseTranscription struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// decodeVerbose parses a verbose_json transcription body into an asr.Result.
// Overall confidence is the mean of exp2(avg_logprob) across segments, which
// maps Whisper's average token log probability into (0, 1].
func decodeVerbose(raw string) (*asr.Result, error) {
	var v verboseTranscription
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode verbose transcription: %w", err)
	}

	result := &asr.Result{
		Text:     v.Text,
		Language: v.Language,
		Duration: v.Duration,
	}

	var confSum float64
	for _, seg := range v.Segments {
		result.Segments = append(result.Segments, asr.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
		confSum += math.Exp2(seg.AvgLogprob)
	}
	if n := len(v.Segments); n > 0 {
		result.Confidence = min(confSum/float64(n), 1.0)
	}
	return result, nil
}

// sniffAudio picks a multipart filename and MIME type from the container's
// magic bytes. The endpoint infers the decoder from the file extension.
func sniffAudio(audio []byte) (string, string) {
	switch {
	case len(audio) >= 12 && string(audio[0:4]) == "RIFF" && string(audio[8:12]) == "WAVE":
		return "audio.wav", "audio/wav"
	case len(audio) >= 3 && string(audio[0:3]) == "ID3":
		return "audio.mp3", "audio/mpeg"
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0:
		return "audio.mp3", "audio/mpeg"
	default:
		return "audio.bin", "application/octet-stream"
	}
}

// classify maps SDK and transport errors onto the clinerr taxonomy.
func classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		kind, permanent := clinerr.FromHTTPStatus(apierr.StatusCode)
		switch apierr.StatusCode {
		case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
			// The transcription endpoint rejects audio it cannot decode with
			// these statuses.
			kind, permanent = clinerr.KindInvalidMedia, true
		}
		return &clinerr.Error{
			Kind:      kind,
			Msg:       fmt.Sprintf("openai: transcription failed (status %d)", apierr.StatusCode),
			Err:       err,
			Permanent: permanent,
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return clinerr.Wrap(clinerr.KindTimeout, err, "openai: transcription")
	case errors.Is(err, context.Canceled):
		return clinerr.Wrap(clinerr.KindCancelled, err, "openai: transcription")
	}
	return clinerr.Wrap(clinerr.KindProviderUnavailable, err, "openai: transcription")
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)
