package ocr

// PDFResult is the outcome of extracting text from a PDF.
type PDFResult struct {
	// Text is the cleaned extracted text, with per-page separators.
	Text string

	// PageCount is the total number of pages in the document, including
	// pages beyond the extraction cap.
	PageCount int
}

// ImageResult is the outcome of running OCR on an image.
type ImageResult struct {
	// Text is the cleaned extracted text.
	Text string

	// Confidence estimates extraction quality in [0, 1]. The ingestion
	// pipeline rejects images below its configured minimum.
	Confidence float64
}
