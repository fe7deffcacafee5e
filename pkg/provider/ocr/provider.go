// Package ocr defines the Provider interface for document text extraction
// backends.
//
// An OCR provider turns PDF and image bytes into plain text for the document
// ingestion pipeline. PDF extraction reports the document's total page count
// so callers can tell when the page cap truncated the text; image extraction
// reports a confidence score that the pipeline checks against its minimum.
//
// Implementations must be safe for concurrent use.
package ocr

import "context"

// Provider is the abstraction over any document text extraction backend.
type Provider interface {
	// ExtractPDF extracts text from a PDF. At most maxPages pages are
	// extracted; maxPages <= 0 means no cap. PageCount on the result is the
	// document's total page count, not the number extracted.
	ExtractPDF(ctx context.Context, data []byte, maxPages int) (*PDFResult, error)

	// ExtractImage runs OCR on a single image. lang is a hint in ISO 639
	// form ("spa", "es"); backends that detect language themselves may
	// ignore it. Confidence on the result is in [0, 1].
	ExtractImage(ctx context.Context, data []byte, lang string) (*ImageResult, error)
}
