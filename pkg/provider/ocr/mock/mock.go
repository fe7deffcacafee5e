// Package mock provides a test double for the ocr.Provider interface.
//
// Use Provider to return pre-canned extraction results without a live OCR
// backend and to verify which documents were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/clinvox/clinvox/pkg/provider/ocr"
)

// ExtractPDFCall records a single invocation of ExtractPDF.
type ExtractPDFCall struct {
	// Ctx is the context passed to ExtractPDF.
	Ctx context.Context
	// Data is a copy of the document bytes.
	Data []byte
	// MaxPages is the page cap passed to ExtractPDF.
	MaxPages int
}

// ExtractImageCall records a single invocation of ExtractImage.
type ExtractImageCall struct {
	// Ctx is the context passed to ExtractImage.
	Ctx context.Context
	// Data is a copy of the image bytes.
	Data []byte
	// Lang is the language hint passed to ExtractImage.
	Lang string
}

// Provider is a mock implementation of ocr.Provider.
type Provider struct {
	mu sync.Mutex

	// PDFResult is returned by ExtractPDF. If nil, an empty result is returned.
	PDFResult *ocr.PDFResult

	// PDFErr, if non-nil, is returned as the error from ExtractPDF.
	PDFErr error

	// ImageResult is returned by ExtractImage. If nil, an empty result is returned.
	ImageResult *ocr.ImageResult

	// ImageErr, if non-nil, is returned as the error from ExtractImage.
	ImageErr error

	// ExtractPDFCalls records every call to ExtractPDF in order.
	ExtractPDFCalls []ExtractPDFCall

	// ExtractImageCalls records every call to ExtractImage in order.
	ExtractImageCalls []ExtractImageCall
}

// ExtractPDF records the call and returns PDFResult, PDFErr.
func (p *Provider) ExtractPDF(ctx context.Context, data []byte, maxPages int) (*ocr.PDFResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.ExtractPDFCalls = append(p.ExtractPDFCalls, ExtractPDFCall{Ctx: ctx, Data: cp, MaxPages: maxPages})
	if p.PDFErr != nil {
		return nil, p.PDFErr
	}
	if p.PDFResult != nil {
		return p.PDFResult, nil
	}
	return &ocr.PDFResult{}, nil
}

// ExtractImage records the call and returns ImageResult, ImageErr.
func (p *Provider) ExtractImage(ctx context.Context, data []byte, lang string) (*ocr.ImageResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.ExtractImageCalls = append(p.ExtractImageCalls, ExtractImageCall{Ctx: ctx, Data: cp, Lang: lang})
	if p.ImageErr != nil {
		return nil, p.ImageErr
	}
	if p.ImageResult != nil {
		return p.ImageResult, nil
	}
	return &ocr.ImageResult{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExtractPDFCalls = nil
	p.ExtractImageCalls = nil
}

// Ensure Provider implements ocr.Provider at compile time.
var _ ocr.Provider = (*Provider)(nil)
