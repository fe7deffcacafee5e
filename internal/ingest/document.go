package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinvox/clinvox/internal/extract"
	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// SubmitDocument validates a document upload, persists a pending document
// and schedules its pipeline run. It returns a snapshot of the freshly
// created document; processing continues in the background.
func (p *Pipeline) SubmitDocument(ctx context.Context, up DocumentUpload) (*record.Document, error) {
	kind, mime, err := validateDocument(up)
	if err != nil {
		return nil, err
	}

	doc := &record.Document{
		ID:           uuid.NewString(),
		Filename:     up.Filename,
		SizeBytes:    int64(len(up.Data)),
		MIME:         mime,
		FileKind:     kind,
		Status:       record.StatusPending,
		Description:  up.Description,
		PatientName:  up.PatientName,
		DocumentType: up.DocumentType,
		VectorStored: record.VectorPending,
	}

	if err := p.reserve(); err != nil {
		return nil, err
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		p.pending.Add(-1)
		return nil, err
	}

	start := time.Now()
	data := up.Data
	job := *doc
	p.spawn(
		func(ctx context.Context) { p.processDocument(ctx, &job, data, start) },
		func() {
			p.failDocument(p.jobCtx, doc.ID,
				clinerr.New(clinerr.KindCancelled, "ingest: pipeline shut down before processing"), start)
		},
	)

	snapshot := *doc
	return &snapshot, nil
}

// processDocument runs the pipeline stages for one document and settles the
// record into a terminal status.
func (p *Pipeline) processDocument(ctx context.Context, doc *record.Document, data []byte, start time.Time) {
	err := p.runDocumentStages(ctx, doc, data, start)
	if err == nil {
		slog.Info("ingest: document completed",
			"id", doc.ID,
			"kind", doc.FileKind,
			"patient", doc.PatientName,
			"vector", doc.VectorStored,
			"processing_ms", doc.ProcessingMS,
		)
		return
	}
	if clinerr.KindOf(err) == clinerr.KindNotFound {
		slog.Debug("ingest: document removed mid-pipeline", "id", doc.ID)
		return
	}
	p.failDocument(ctx, doc.ID, err, start)
}

// runDocumentStages advances a document Pending through Completed: text
// extraction, medical metadata, vector indexing and recording linkage.
func (p *Pipeline) runDocumentStages(ctx context.Context, doc *record.Document, data []byte, start time.Time) error {
	// Text and metadata extraction. OCR failures and unreadable scans are
	// fatal; a malformed metadata reply degrades to an empty set.
	if err := p.advanceDocument(ctx, doc, record.StatusExtracting); err != nil {
		return err
	}
	if err := p.extractDocumentText(ctx, doc, data); err != nil {
		return classifyStage("ocr", err)
	}
	if err := p.extractDocumentMetadata(ctx, doc); err != nil {
		return classifyStage("metadata", err)
	}
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	// Vector indexing, soft: failure flags the document and it still
	// completes. The recording link is best effort on top.
	if err := p.advanceDocument(ctx, doc, record.StatusIndexing); err != nil {
		return err
	}
	if err := p.indexDocument(ctx, doc); err != nil {
		return classifyStage("indexing", err)
	}
	p.linkRecording(ctx, doc)

	now := time.Now().UTC()
	doc.Status = record.StatusCompleted
	doc.ProcessingMS = time.Since(start).Milliseconds()
	doc.ProcessedAt = &now
	return p.store.UpdateDocument(ctx, doc)
}

// advanceDocument moves the document to the next status and refreshes doc
// from the store, since the transition bumps the update fence.
func (p *Pipeline) advanceDocument(ctx context.Context, doc *record.Document, to record.Status) error {
	if err := p.store.TransitionDocument(ctx, doc.ID, doc.Status, to); err != nil {
		return err
	}
	fresh, err := p.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return clinerr.New(clinerr.KindNotFound, "ingest: document %q vanished", doc.ID)
	}
	*doc = *fresh
	return nil
}

// extractDocumentText pulls text out of the upload under the OCR deadline.
// Image scans below the configured confidence floor are rejected as
// unreadable media.
func (p *Pipeline) extractDocumentText(ctx context.Context, doc *record.Document, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()
	defer p.observeStage(ctx, "ocr", time.Now())

	switch doc.FileKind {
	case record.FilePDF:
		res, err := p.ocr.ExtractPDF(ctx, data, maxPDFPages)
		if err != nil {
			return err
		}
		doc.ExtractedText = res.Text
		doc.PageCount = res.PageCount
	case record.FileImage:
		res, err := p.ocr.ExtractImage(ctx, data, p.language)
		if err != nil {
			return err
		}
		if p.minOCRConfidence > 0 && res.Confidence < p.minOCRConfidence {
			return clinerr.New(clinerr.KindInvalidMedia,
				"ingest: ocr confidence %.2f below the %.2f floor", res.Confidence, p.minOCRConfidence)
		}
		doc.ExtractedText = res.Text
		doc.OCRConfidence = res.Confidence
	default:
		return clinerr.New(clinerr.KindInternal, "ingest: unknown file kind %q", doc.FileKind)
	}
	return nil
}

// extractDocumentMetadata fills the document's medical metadata from its
// text. Client-supplied patient name and document type take precedence over
// extracted values.
func (p *Pipeline) extractDocumentMetadata(ctx context.Context, doc *record.Document) error {
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()
	defer p.observeStage(ctx, "extract", time.Now())

	md, err := p.extractor.ExtractDocument(ctx, doc.ExtractedText)
	if err != nil {
		if !errors.Is(err, extract.ErrMalformedResponse) {
			return err
		}
		slog.Warn("ingest: document metadata extraction degraded", "id", doc.ID, "error", err)
	}

	if doc.PatientName == "" {
		doc.PatientName = md.PatientName
	}
	if doc.DocumentType == "" {
		doc.DocumentType = md.DocumentType
	}
	doc.DocumentDate = md.DocumentDate
	doc.Conditions = md.Conditions
	doc.Medications = md.Medications
	doc.Procedures = md.Procedures
	return nil
}

// indexDocument embeds the document's payload and upserts its index entry.
// Failures are flagged and the document still completes.
func (p *Pipeline) indexDocument(ctx context.Context, doc *record.Document) error {
	md := vecindex.Metadata{
		PatientName: doc.PatientName,
		Medications: doc.Medications,
		Conditions:  doc.Conditions,
		Context:     doc.Description,
		Date:        doc.DocumentDate,
		DocType:     doc.DocumentType,
	}
	payload := vecindex.BuildPayload(doc.ExtractedText, md)
	if payload == "" {
		doc.VectorStored = record.VectorSkipped
		return nil
	}

	vectorID := vectorIDFor("doc", doc.ID, doc.VectorID)
	vec, err := p.embedPayload(ctx, payload)
	if err == nil {
		entry := vecindex.VectorEntry{
			VectorID:    vectorID,
			SourceKind:  vecindex.SourceDocument,
			SourceID:    doc.ID,
			Embedding:   vec,
			PayloadText: payload,
			Metadata:    md,
		}
		if _, err = p.upsertEntry(ctx, entry); err == nil {
			doc.VectorStored = record.VectorStored
			doc.VectorID = vectorID
			return nil
		}
	}
	if ctx.Err() != nil {
		return err
	}
	slog.Warn("ingest: vector indexing failed", "id", doc.ID, "error", err)
	doc.VectorStored = record.VectorFailed
	return nil
}

// linkRecording points the document at the recording of the same patient
// when a fuzzy name match clears the threshold. The scan covers the most
// recent recordings only; a store error leaves the document unlinked.
func (p *Pipeline) linkRecording(ctx context.Context, doc *record.Document) {
	if doc.PatientName == "" || doc.RecordingID != "" {
		return
	}

	recs, err := p.store.ListRecordings(ctx, record.RecordingFilter{Limit: record.MaxPageSize})
	if err != nil {
		slog.Warn("ingest: recording link scan failed", "id", doc.ID, "error", err)
		return
	}

	var (
		bestID    string
		bestScore float64
	)
	for i := range recs {
		name := stringField(recs[i].Structured, "name")
		if name == "" {
			continue
		}
		if score := vecindex.NameSimilarity(doc.PatientName, name); score > bestScore {
			bestID, bestScore = recs[i].ID, score
		}
	}
	if bestScore >= patientLinkThreshold {
		doc.RecordingID = bestID
	}
}

// failDocument settles a document into Failed on a detached context.
func (p *Pipeline) failDocument(ctx context.Context, id string, cause error, start time.Time) {
	slog.Error("ingest: document pipeline failed", "id", id, "error", cause)

	wctx, cancel := failCtx(ctx)
	defer cancel()

	doc, err := p.store.GetDocument(wctx, id)
	if err != nil {
		slog.Error("ingest: cannot load document to mark it failed", "id", id, "error", err)
		return
	}
	if doc == nil || doc.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	doc.Status = record.StatusFailed
	doc.ErrorMessage = cause.Error()
	doc.ProcessingMS = time.Since(start).Milliseconds()
	doc.ProcessedAt = &now
	if err := p.store.UpdateDocument(wctx, doc); err != nil {
		slog.Error("ingest: cannot mark document failed", "id", id, "error", err)
	}
}
