// Package extract turns Spanish clinical text into the canonical structured
// and unstructured field maps of an ingestion record.
//
// Three operations cover the two record kinds: [Extractor.ExtractStructured]
// and [Extractor.ExtractUnstructured] run against conversation transcripts,
// and [Extractor.ExtractDocument] runs a document-scoped prompt against OCR
// text. All three demand strict JSON from the model and validate every field
// against a closed schema, dropping anything the model invented.
//
// When a response does not parse, the extractor retries once with a firmer
// JSON-only reminder appended to the conversation; when that also fails it
// returns empty results and an error matching [ErrMalformedResponse], which
// the ingestion pipeline records as a soft failure instead of aborting the
// record.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	llm "github.com/clinvox/clinvox/pkg/provider/llm"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 1500
)

// maxInputChars caps the text sent to the model in characters. Longer inputs
// are cut at the last sentence boundary inside the window.
const maxInputChars = 4000

// ErrMalformedResponse reports that the model did not produce parseable JSON
// even after the retry round. Callers treat it as a soft failure: the record
// keeps processing with empty extraction results.
var ErrMalformedResponse = errors.New("extract: model response is not valid JSON")

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithTemperature sets the sampling temperature. Extraction runs low by
// default so repeated runs agree. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) {
		e.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 1500.
func WithMaxTokens(n int) Option {
	return func(e *Extractor) {
		e.maxTokens = n
	}
}

// Extractor drives clinical field extraction through an [llm.Provider].
// It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to extract
// with a specific model, construct the [llm.Provider] with that model
// configured rather than overriding per-request.
type Extractor struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns an [Extractor] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractStructured pulls the canonical patient fields (name, age, date,
// diagnosis, physician, medications, phone, email) out of a transcript.
// Invalid values and unrecognized keys are dropped; absent fields are
// omitted from the map rather than stored as nulls.
func (e *Extractor) ExtractStructured(ctx context.Context, text string) (map[string]any, error) {
	return e.extractFields(ctx, structuredSystemPrompt, structuredAsk, text, structuredRules)
}

// ExtractUnstructured pulls the contextual fields (symptoms, context,
// observations, emotions, urgency, recommendations, questions, answers) out
// of a transcript. Urgency values are normalized to low/medium/high.
func (e *Extractor) ExtractUnstructured(ctx context.Context, text string) (map[string]any, error) {
	return e.extractFields(ctx, unstructuredSystemPrompt, unstructuredAsk, text, unstructuredRules)
}

func (e *Extractor) extractFields(ctx context.Context, sysPrompt, ask, text string, rules map[string]fieldRule) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}, nil
	}
	raw, err := e.complete(ctx, sysPrompt, buildUserPrompt(truncateAtSentence(text), ask))
	if err != nil {
		return map[string]any{}, err
	}
	return applyRules(raw, rules), nil
}

// ExtractDocument runs the document-scoped prompt against OCR text and
// returns typed document metadata. The same closed-schema validation
// applies: invalid dates and empty lists are dropped.
func (e *Extractor) ExtractDocument(ctx context.Context, text string) (DocumentMetadata, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DocumentMetadata{}, nil
	}
	userPrompt := fmt.Sprintf(documentUserPromptTemplate, truncateAtSentence(text))
	raw, err := e.complete(ctx, documentSystemPrompt, userPrompt)
	if err != nil {
		return DocumentMetadata{}, err
	}
	return documentFromRaw(raw), nil
}

// complete runs one extraction conversation and returns the parsed JSON
// object. On a parse failure the failed reply and a JSON-only reminder are
// appended and the conversation retried once.
func (e *Extractor) complete(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, error) {
	req := llm.Request{
		SystemPrompt: systemPrompt,
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
		JSONOnly:     true,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: userPrompt},
		},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extract: complete: %w", err)
	}

	raw, parseErr := parseObject(resp.Content)
	if parseErr == nil {
		return raw, nil
	}

	// One repair round: show the model its reply and insist on bare JSON.
	req.Messages = append(req.Messages,
		llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
		llm.Message{Role: llm.RoleUser, Content: jsonOnlyReminder},
	)
	resp, err = e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extract: retry complete: %w", err)
	}
	raw, parseErr = parseObject(resp.Content)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, parseErr)
	}
	return raw, nil
}

// parseObject unmarshals a model reply into a JSON object, stripping the
// markdown code fences some models insist on.
func parseObject(content string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// truncateAtSentence cuts text to at most maxInputChars characters, ending
// at the last sentence terminator inside the window when one exists.
func truncateAtSentence(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputChars {
		return text
	}
	window := runes[:maxInputChars]
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '!' || window[i] == '?' {
			return strings.TrimSpace(string(window[:i+1]))
		}
	}
	return string(window)
}
