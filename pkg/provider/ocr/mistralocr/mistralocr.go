// Package mistralocr provides an OCR provider backed by the Mistral document
// AI API.
//
// PDFs and images are submitted as base64 data URLs to the /v1/ocr endpoint,
// which returns per-page markdown. The endpoint reports no per-word
// confidence, so image confidence is estimated from the amount of recognized
// text.
package mistralocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/ocr"
)

// DefaultBaseURL is the hosted Mistral API endpoint.
const DefaultBaseURL = "https://api.mistral.ai"

// DefaultModel is the default OCR model.
const DefaultModel = "mistral-ocr-latest"

// defaultTimeout backstops the per-request context deadline.
const defaultTimeout = 2 * time.Minute

// Ensure Provider implements the ocr.Provider interface.
var _ ocr.Provider = (*Provider)(nil)

// Provider implements ocr.Provider using the Mistral document AI API.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Mistral API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default OCR model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Mistral OCR Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("mistral ocr: apiKey must not be empty")
	}

	cfg := &config{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	return &Provider{
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		apiKey:     apiKey,
		model:      cfg.model,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}, nil
}

// ocrRequest is the JSON body sent to /v1/ocr.
type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

// ocrDocument is the document union: exactly one of DocumentURL or ImageURL
// is set, matching Type.
type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// ocrResponse is the JSON body returned by /v1/ocr.
type ocrResponse struct {
	Pages     []ocrPage    `json:"pages"`
	UsageInfo ocrUsageInfo `json:"usage_info"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
}

// ExtractPDF implements ocr.Provider.
func (p *Provider) ExtractPDF(ctx context.Context, data []byte, maxPages int) (*ocr.PDFResult, error) {
	if len(data) == 0 {
		return nil, clinerr.New(clinerr.KindInvalidMedia, "mistral ocr: empty document")
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, clinerr.New(clinerr.KindInvalidMedia, "mistral ocr: not a PDF document")
	}

	resp, err := p.callOCR(ctx, ocrDocument{
		Type:        "document_url",
		DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}

	pageCount := resp.UsageInfo.PagesProcessed
	if pageCount == 0 {
		pageCount = len(resp.Pages)
	}

	pages := resp.Pages
	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}

	var b strings.Builder
	for _, page := range pages {
		if strings.TrimSpace(page.Markdown) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n--- Página %d ---\n%s\n", page.Index+1, page.Markdown)
	}

	return &ocr.PDFResult{
		Text:      ocr.CleanText(b.String()),
		PageCount: pageCount,
	}, nil
}

// ExtractImage implements ocr.Provider. The lang hint is unused: the hosted
// endpoint detects the language itself.
func (p *Provider) ExtractImage(ctx context.Context, data []byte, lang string) (*ocr.ImageResult, error) {
	if len(data) == 0 {
		return nil, clinerr.New(clinerr.KindInvalidMedia, "mistral ocr: empty image")
	}
	mime := sniffImage(data)
	if mime == "" {
		return nil, clinerr.New(clinerr.KindInvalidMedia, "mistral ocr: unsupported image format")
	}

	resp, err := p.callOCR(ctx, ocrDocument{
		Type:     "image_url",
		ImageURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, page := range resp.Pages {
		if strings.TrimSpace(page.Markdown) != "" {
			parts = append(parts, page.Markdown)
		}
	}
	text := ocr.CleanText(strings.Join(parts, "\n"))

	confidence := math.Min(float64(utf8.RuneCountInString(text))/100.0, 1.0)
	return &ocr.ImageResult{Text: text, Confidence: confidence}, nil
}

// callOCR posts the document to /v1/ocr and decodes the response.
func (p *Provider) callOCR(ctx context.Context, doc ocrDocument) (*ocrResponse, error) {
	payload, err := json.Marshal(ocrRequest{Model: p.model, Document: doc})
	if err != nil {
		return nil, fmt.Errorf("mistral ocr: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mistral ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		kind, permanent := clinerr.FromHTTPStatus(resp.StatusCode)
		return nil, &clinerr.Error{
			Kind:      kind,
			Msg:       fmt.Sprintf("mistral ocr: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Permanent: permanent,
		}
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, clinerr.Wrap(clinerr.KindProviderUnavailable, err, "mistral ocr: decode response")
	}
	return &out, nil
}

// sniffImage returns the MIME type for supported image formats, or "".
func sniffImage(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff"
	}
	return ""
}

// classifyTransport maps request transport errors onto the clinerr taxonomy.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return clinerr.Wrap(clinerr.KindTimeout, err, "mistral ocr")
	case errors.Is(err, context.Canceled):
		return clinerr.Wrap(clinerr.KindCancelled, err, "mistral ocr")
	}
	return clinerr.Wrap(clinerr.KindProviderUnavailable, err, "mistral ocr")
}
