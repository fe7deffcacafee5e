package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Schema is the SQL DDL for the recordings and documents tables. Execute it
// via [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id                    TEXT PRIMARY KEY,
    filename              TEXT NOT NULL,
    size_bytes            BIGINT NOT NULL,
    mime                  TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL DEFAULT 'pending',
    transcript_text       TEXT NOT NULL DEFAULT '',
    language              TEXT NOT NULL DEFAULT '',
    duration_s            DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence            DOUBLE PRECISION NOT NULL DEFAULT 0,
    structured            JSONB NOT NULL DEFAULT '{}',
    unstructured          JSONB NOT NULL DEFAULT '{}',
    speaker_segments      JSONB NOT NULL DEFAULT '[]',
    speaker_stats         JSONB,
    diarization_processed TEXT NOT NULL DEFAULT 'pending',
    vector_stored         TEXT NOT NULL DEFAULT 'pending',
    vector_id             TEXT NOT NULL DEFAULT '',
    processing_ms         BIGINT NOT NULL DEFAULT 0,
    error_message         TEXT NOT NULL DEFAULT '',
    processed_at          TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_recordings_patient ON recordings((structured->>'name'));

CREATE TABLE IF NOT EXISTS documents (
    id             TEXT PRIMARY KEY,
    filename       TEXT NOT NULL,
    size_bytes     BIGINT NOT NULL,
    mime           TEXT NOT NULL DEFAULT '',
    file_kind      TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    description    TEXT NOT NULL DEFAULT '',
    page_count     INTEGER NOT NULL DEFAULT 0,
    ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    extracted_text TEXT NOT NULL DEFAULT '',
    language       TEXT NOT NULL DEFAULT '',
    patient_name   TEXT NOT NULL DEFAULT '',
    document_date  TEXT NOT NULL DEFAULT '',
    document_type  TEXT NOT NULL DEFAULT '',
    conditions     JSONB NOT NULL DEFAULT '[]',
    medications    JSONB NOT NULL DEFAULT '[]',
    procedures     JSONB NOT NULL DEFAULT '[]',
    recording_id   TEXT NOT NULL DEFAULT '',
    vector_stored  TEXT NOT NULL DEFAULT 'pending',
    vector_id      TEXT NOT NULL DEFAULT '',
    processing_ms  BIGINT NOT NULL DEFAULT 0,
    error_message  TEXT NOT NULL DEFAULT '',
    processed_at   TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_documents_patient ON documents(patient_name);
CREATE INDEX IF NOT EXISTS idx_documents_recording ON documents(recording_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// recordings and documents tables and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("record: migrate: %w", err)
	}
	return nil
}

// recordingColumns is the SELECT column list shared by GetRecording and
// ListRecordings. It must match the destinations of recordingScanDest.
const recordingColumns = `id, filename, size_bytes, mime, status,
       transcript_text, language, duration_s, confidence,
       structured, unstructured, speaker_segments, speaker_stats,
       diarization_processed, vector_stored, vector_id,
       processing_ms, error_message, processed_at, created_at, updated_at`

// recordingBlobs carries the raw JSONB columns of a recordings row between
// Scan and unmarshalling.
type recordingBlobs struct {
	structured   []byte
	unstructured []byte
	segments     []byte
	stats        []byte
}

// recordingScanDest returns Scan destinations matching recordingColumns.
func recordingScanDest(rec *Recording, blobs *recordingBlobs) []any {
	return []any{
		&rec.ID, &rec.Filename, &rec.SizeBytes, &rec.MIME, &rec.Status,
		&rec.Transcript, &rec.Language, &rec.DurationS, &rec.Confidence,
		&blobs.structured, &blobs.unstructured, &blobs.segments, &blobs.stats,
		&rec.Diarization, &rec.VectorStored, &rec.VectorID,
		&rec.ProcessingMS, &rec.ErrorMessage, &rec.ProcessedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	}
}

func marshalRecordingBlobs(rec *Recording) (recordingBlobs, error) {
	var (
		b   recordingBlobs
		err error
	)
	if b.structured, err = json.Marshal(emptyMap(rec.Structured)); err != nil {
		return b, fmt.Errorf("record: marshal structured: %w", err)
	}
	if b.unstructured, err = json.Marshal(emptyMap(rec.Unstructured)); err != nil {
		return b, fmt.Errorf("record: marshal unstructured: %w", err)
	}
	segs := rec.SpeakerSegments
	if segs == nil {
		segs = []SpeakerSegment{}
	}
	if b.segments, err = json.Marshal(segs); err != nil {
		return b, fmt.Errorf("record: marshal speaker_segments: %w", err)
	}
	if rec.SpeakerStats != nil {
		if b.stats, err = json.Marshal(rec.SpeakerStats); err != nil {
			return b, fmt.Errorf("record: marshal speaker_stats: %w", err)
		}
	}
	return b, nil
}

func unmarshalRecordingBlobs(rec *Recording, b recordingBlobs) error {
	if err := json.Unmarshal(b.structured, &rec.Structured); err != nil {
		return fmt.Errorf("record: unmarshal structured: %w", err)
	}
	if err := json.Unmarshal(b.unstructured, &rec.Unstructured); err != nil {
		return fmt.Errorf("record: unmarshal unstructured: %w", err)
	}
	if err := json.Unmarshal(b.segments, &rec.SpeakerSegments); err != nil {
		return fmt.Errorf("record: unmarshal speaker_segments: %w", err)
	}
	if len(b.stats) > 0 {
		rec.SpeakerStats = new(SpeakerStats)
		if err := json.Unmarshal(b.stats, rec.SpeakerStats); err != nil {
			return fmt.Errorf("record: unmarshal speaker_stats: %w", err)
		}
	}
	return nil
}

// applyRecordingDefaults fills the zero states a fresh upload leaves unset.
func applyRecordingDefaults(rec *Recording) {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.Diarization == "" {
		rec.Diarization = DiarizationPending
	}
	if rec.VectorStored == "" {
		rec.VectorStored = VectorPending
	}
}

// CreateRecording inserts a new recording. It validates the recording after
// applying defaults and returns a [clinerr.KindConflict] error if a
// recording with the same ID already exists.
func (s *PostgresStore) CreateRecording(ctx context.Context, rec *Recording) error {
	applyRecordingDefaults(rec)
	if err := rec.Validate(); err != nil {
		return err
	}
	blobs, err := marshalRecordingBlobs(rec)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO recordings (
			id, filename, size_bytes, mime, status,
			transcript_text, language, duration_s, confidence,
			structured, unstructured, speaker_segments, speaker_stats,
			diarization_processed, vector_stored, vector_id,
			processing_ms, error_message, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.Filename, rec.SizeBytes, rec.MIME, rec.Status,
		rec.Transcript, rec.Language, rec.DurationS, rec.Confidence,
		blobs.structured, blobs.unstructured, blobs.segments, blobs.stats,
		rec.Diarization, rec.VectorStored, rec.VectorID,
		rec.ProcessingMS, rec.ErrorMessage, rec.ProcessedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return clinerr.New(clinerr.KindConflict, "record: recording %q already exists", rec.ID)
		}
		return fmt.Errorf("record: create recording %q: %w", rec.ID, err)
	}
	return nil
}

// GetRecording retrieves a recording by ID. It returns (nil, nil) if no
// recording with the given ID exists.
func (s *PostgresStore) GetRecording(ctx context.Context, id string) (*Recording, error) {
	const query = `
		SELECT ` + recordingColumns + `
		FROM recordings
		WHERE id = $1`

	var (
		rec   Recording
		blobs recordingBlobs
	)
	err := s.db.QueryRow(ctx, query, id).Scan(recordingScanDest(&rec, &blobs)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record: get recording %q: %w", id, err)
	}
	if err := unmarshalRecordingBlobs(&rec, blobs); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecordings returns recordings matching the filter, newest first.
func (s *PostgresStore) ListRecordings(ctx context.Context, f RecordingFilter) ([]Recording, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, clinerr.New(clinerr.KindInvalidInput, "record: unknown status %q", f.Status)
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Status != "" {
		conditions = append(conditions, "status = "+next(f.Status))
	}
	if f.Patient != "" {
		conditions = append(conditions, "structured->>'name' ILIKE "+next("%"+f.Patient+"%"))
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "created_at < "+next(f.To))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM recordings
		%s
		ORDER BY created_at DESC, id
		LIMIT %s OFFSET %s`,
		recordingColumns, whereClause, next(pageLimit(f.Limit)), next(max(f.Offset, 0)))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record: list recordings: %w", err)
	}
	defer rows.Close()

	var recs []Recording
	for rows.Next() {
		var (
			rec   Recording
			blobs recordingBlobs
		)
		if err := rows.Scan(recordingScanDest(&rec, &blobs)...); err != nil {
			return nil, fmt.Errorf("record: list recordings scan: %w", err)
		}
		if err := unmarshalRecordingBlobs(&rec, blobs); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: list recordings: %w", err)
	}
	return recs, nil
}

// UpdateRecording persists every mutable field of rec, fenced on
// rec.UpdatedAt. The identity columns set at upload time (filename,
// size_bytes, mime) never change.
func (s *PostgresStore) UpdateRecording(ctx context.Context, rec *Recording) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	blobs, err := marshalRecordingBlobs(rec)
	if err != nil {
		return err
	}

	const query = `
		UPDATE recordings SET
			status = $3, transcript_text = $4, language = $5, duration_s = $6,
			confidence = $7, structured = $8, unstructured = $9,
			speaker_segments = $10, speaker_stats = $11,
			diarization_processed = $12, vector_stored = $13, vector_id = $14,
			processing_ms = $15, error_message = $16, processed_at = $17,
			updated_at = now()
		WHERE id = $1 AND updated_at = $2
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.UpdatedAt,
		rec.Status, rec.Transcript, rec.Language, rec.DurationS,
		rec.Confidence, blobs.structured, blobs.unstructured,
		blobs.segments, blobs.stats,
		rec.Diarization, rec.VectorStored, rec.VectorID,
		rec.ProcessingMS, rec.ErrorMessage, rec.ProcessedAt,
	).Scan(&rec.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record: update recording %q: %w", rec.ID, err)
	}

	// The fence missed. Tell a vanished row apart from a concurrent write.
	var current time.Time
	err = s.db.QueryRow(ctx, `SELECT updated_at FROM recordings WHERE id = $1`, rec.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return clinerr.New(clinerr.KindNotFound, "record: recording %q not found", rec.ID)
	}
	if err != nil {
		return fmt.Errorf("record: update recording %q: %w", rec.ID, err)
	}
	return clinerr.New(clinerr.KindConflict, "record: recording %q modified concurrently", rec.ID)
}

// TransitionRecording advances a recording's status, fenced on the expected
// current status.
func (s *PostgresStore) TransitionRecording(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return clinerr.New(clinerr.KindInvalidInput, "record: illegal transition %s -> %s", from, to)
	}

	const query = `
		UPDATE recordings SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`

	var updatedAt time.Time
	err := s.db.QueryRow(ctx, query, id, from, to).Scan(&updatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record: transition recording %q: %w", id, err)
	}

	var current Status
	err = s.db.QueryRow(ctx, `SELECT status FROM recordings WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return clinerr.New(clinerr.KindNotFound, "record: recording %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("record: transition recording %q: %w", id, err)
	}
	return clinerr.New(clinerr.KindConflict, "record: recording %q is %s, want %s", id, current, from)
}

// DeleteRecording removes a recording by ID. Deleting a non-existent
// recording is not an error.
func (s *PostgresStore) DeleteRecording(ctx context.Context, id string) error {
	const query = `DELETE FROM recordings WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("record: delete recording %q: %w", id, err)
	}
	return nil
}

// documentColumns is the SELECT column list shared by GetDocument and
// ListDocuments. It must match the destinations of documentScanDest.
const documentColumns = `id, filename, size_bytes, mime, file_kind, status,
       description, page_count, ocr_confidence, extracted_text, language,
       patient_name, document_date, document_type,
       conditions, medications, procedures, recording_id,
       vector_stored, vector_id,
       processing_ms, error_message, processed_at, created_at, updated_at`

// documentBlobs carries the raw JSONB columns of a documents row between
// Scan and unmarshalling.
type documentBlobs struct {
	conditions  []byte
	medications []byte
	procedures  []byte
}

// documentScanDest returns Scan destinations matching documentColumns.
func documentScanDest(doc *Document, blobs *documentBlobs) []any {
	return []any{
		&doc.ID, &doc.Filename, &doc.SizeBytes, &doc.MIME, &doc.FileKind, &doc.Status,
		&doc.Description, &doc.PageCount, &doc.OCRConfidence, &doc.ExtractedText, &doc.Language,
		&doc.PatientName, &doc.DocumentDate, &doc.DocumentType,
		&blobs.conditions, &blobs.medications, &blobs.procedures, &doc.RecordingID,
		&doc.VectorStored, &doc.VectorID,
		&doc.ProcessingMS, &doc.ErrorMessage, &doc.ProcessedAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	}
}

func marshalDocumentBlobs(doc *Document) (documentBlobs, error) {
	var (
		b   documentBlobs
		err error
	)
	if b.conditions, err = json.Marshal(emptyStrings(doc.Conditions)); err != nil {
		return b, fmt.Errorf("record: marshal conditions: %w", err)
	}
	if b.medications, err = json.Marshal(emptyStrings(doc.Medications)); err != nil {
		return b, fmt.Errorf("record: marshal medications: %w", err)
	}
	if b.procedures, err = json.Marshal(emptyStrings(doc.Procedures)); err != nil {
		return b, fmt.Errorf("record: marshal procedures: %w", err)
	}
	return b, nil
}

func unmarshalDocumentBlobs(doc *Document, b documentBlobs) error {
	if err := json.Unmarshal(b.conditions, &doc.Conditions); err != nil {
		return fmt.Errorf("record: unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(b.medications, &doc.Medications); err != nil {
		return fmt.Errorf("record: unmarshal medications: %w", err)
	}
	if err := json.Unmarshal(b.procedures, &doc.Procedures); err != nil {
		return fmt.Errorf("record: unmarshal procedures: %w", err)
	}
	return nil
}

// applyDocumentDefaults fills the zero states a fresh upload leaves unset.
func applyDocumentDefaults(doc *Document) {
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.VectorStored == "" {
		doc.VectorStored = VectorPending
	}
}

// CreateDocument inserts a new document. It validates the document after
// applying defaults and returns a [clinerr.KindConflict] error if a document
// with the same ID already exists.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	applyDocumentDefaults(doc)
	if err := doc.Validate(); err != nil {
		return err
	}
	blobs, err := marshalDocumentBlobs(doc)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO documents (
			id, filename, size_bytes, mime, file_kind, status,
			description, page_count, ocr_confidence, extracted_text, language,
			patient_name, document_date, document_type,
			conditions, medications, procedures, recording_id,
			vector_stored, vector_id,
			processing_ms, error_message, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		doc.ID, doc.Filename, doc.SizeBytes, doc.MIME, doc.FileKind, doc.Status,
		doc.Description, doc.PageCount, doc.OCRConfidence, doc.ExtractedText, doc.Language,
		doc.PatientName, doc.DocumentDate, doc.DocumentType,
		blobs.conditions, blobs.medications, blobs.procedures, doc.RecordingID,
		doc.VectorStored, doc.VectorID,
		doc.ProcessingMS, doc.ErrorMessage, doc.ProcessedAt,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return clinerr.New(clinerr.KindConflict, "record: document %q already exists", doc.ID)
		}
		return fmt.Errorf("record: create document %q: %w", doc.ID, err)
	}
	return nil
}

// GetDocument retrieves a document by ID. It returns (nil, nil) if no
// document with the given ID exists.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	const query = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1`

	var (
		doc   Document
		blobs documentBlobs
	)
	err := s.db.QueryRow(ctx, query, id).Scan(documentScanDest(&doc, &blobs)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record: get document %q: %w", id, err)
	}
	if err := unmarshalDocumentBlobs(&doc, blobs); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns documents matching the filter, newest first.
func (s *PostgresStore) ListDocuments(ctx context.Context, f DocumentFilter) ([]Document, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, clinerr.New(clinerr.KindInvalidInput, "record: unknown status %q", f.Status)
	}
	if f.FileKind != "" && !f.FileKind.Valid() {
		return nil, clinerr.New(clinerr.KindInvalidInput, "record: unknown file kind %q", f.FileKind)
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Status != "" {
		conditions = append(conditions, "status = "+next(f.Status))
	}
	if f.FileKind != "" {
		conditions = append(conditions, "file_kind = "+next(f.FileKind))
	}
	if f.Patient != "" {
		conditions = append(conditions, "patient_name ILIKE "+next("%"+f.Patient+"%"))
	}
	if f.RecordingID != "" {
		conditions = append(conditions, "recording_id = "+next(f.RecordingID))
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "created_at < "+next(f.To))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM documents
		%s
		ORDER BY created_at DESC, id
		LIMIT %s OFFSET %s`,
		documentColumns, whereClause, next(pageLimit(f.Limit)), next(max(f.Offset, 0)))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record: list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc   Document
			blobs documentBlobs
		)
		if err := rows.Scan(documentScanDest(&doc, &blobs)...); err != nil {
			return nil, fmt.Errorf("record: list documents scan: %w", err)
		}
		if err := unmarshalDocumentBlobs(&doc, blobs); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: list documents: %w", err)
	}
	return docs, nil
}

// UpdateDocument persists every mutable field of doc, fenced on
// doc.UpdatedAt. The identity columns set at upload time (filename,
// size_bytes, mime, file_kind, description) never change.
func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	blobs, err := marshalDocumentBlobs(doc)
	if err != nil {
		return err
	}

	const query = `
		UPDATE documents SET
			status = $3, page_count = $4, ocr_confidence = $5,
			extracted_text = $6, language = $7,
			patient_name = $8, document_date = $9, document_type = $10,
			conditions = $11, medications = $12, procedures = $13,
			recording_id = $14, vector_stored = $15, vector_id = $16,
			processing_ms = $17, error_message = $18, processed_at = $19,
			updated_at = now()
		WHERE id = $1 AND updated_at = $2
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		doc.ID, doc.UpdatedAt,
		doc.Status, doc.PageCount, doc.OCRConfidence,
		doc.ExtractedText, doc.Language,
		doc.PatientName, doc.DocumentDate, doc.DocumentType,
		blobs.conditions, blobs.medications, blobs.procedures,
		doc.RecordingID, doc.VectorStored, doc.VectorID,
		doc.ProcessingMS, doc.ErrorMessage, doc.ProcessedAt,
	).Scan(&doc.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record: update document %q: %w", doc.ID, err)
	}

	var current time.Time
	err = s.db.QueryRow(ctx, `SELECT updated_at FROM documents WHERE id = $1`, doc.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return clinerr.New(clinerr.KindNotFound, "record: document %q not found", doc.ID)
	}
	if err != nil {
		return fmt.Errorf("record: update document %q: %w", doc.ID, err)
	}
	return clinerr.New(clinerr.KindConflict, "record: document %q modified concurrently", doc.ID)
}

// TransitionDocument advances a document's status, fenced on the expected
// current status.
func (s *PostgresStore) TransitionDocument(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return clinerr.New(clinerr.KindInvalidInput, "record: illegal transition %s -> %s", from, to)
	}

	const query = `
		UPDATE documents SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`

	var updatedAt time.Time
	err := s.db.QueryRow(ctx, query, id, from, to).Scan(&updatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record: transition document %q: %w", id, err)
	}

	var current Status
	err = s.db.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return clinerr.New(clinerr.KindNotFound, "record: document %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("record: transition document %q: %w", id, err)
	}
	return clinerr.New(clinerr.KindConflict, "record: document %q is %s, want %s", id, current, from)
}

// DeleteDocument removes a document by ID. Deleting a non-existent document
// is not an error.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	const query = `DELETE FROM documents WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("record: delete document %q: %w", id, err)
	}
	return nil
}

// pageLimit clamps a requested page size into [1, MaxPageSize], substituting
// DefaultPageSize for zero and negative values.
func pageLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

// emptyStrings returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// emptyMap returns m if non-nil, otherwise an empty non-nil map. This
// ensures JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
