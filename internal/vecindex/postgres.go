package vecindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Schema returns the collection DDL with the embedding dimension substituted.
// The dimension is baked into the column type at creation time; changing it
// afterwards requires a manual migration. Execute it via
// [PostgresIndex.Migrate] or apply it manually during deployment.
//
// Metadata lives in flat columns rather than one JSONB blob so that filters
// and the fuzzy patient lookup run against indexed values.
func Schema(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS medical_conversations (
    vector_id     TEXT         PRIMARY KEY,
    source_kind   TEXT         NOT NULL,
    source_id     TEXT         NOT NULL,
    embedding     vector(%d)   NOT NULL,
    payload_text  TEXT         NOT NULL DEFAULT '',
    patient_name  TEXT         NOT NULL DEFAULT '',
    patient_norm  TEXT         NOT NULL DEFAULT '',
    diagnosis     TEXT         NOT NULL DEFAULT '',
    medications   JSONB        NOT NULL DEFAULT '[]',
    symptoms      JSONB        NOT NULL DEFAULT '[]',
    conditions    JSONB        NOT NULL DEFAULT '[]',
    context       TEXT         NOT NULL DEFAULT '',
    date          TEXT         NOT NULL DEFAULT '',
    speaker_mix   TEXT         NOT NULL DEFAULT '',
    doc_type      TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_medical_conversations_source
    ON medical_conversations (source_kind, source_id);

CREATE INDEX IF NOT EXISTS idx_medical_conversations_patient
    ON medical_conversations (patient_norm);

CREATE INDEX IF NOT EXISTS idx_medical_conversations_date
    ON medical_conversations (date);

CREATE INDEX IF NOT EXISTS idx_medical_conversations_embedding
    ON medical_conversations USING hnsw (embedding vector_cosine_ops);
`, dim)
}

// vectorColumns is every persisted entry column in scan order. patient_norm
// is a derived lookup column and is never read back.
const vectorColumns = `vector_id, source_kind, source_id, embedding, payload_text,
       patient_name, diagnosis, medications, symptoms, conditions,
       context, date, speaker_mix, doc_type`

// DB is the subset of pgx operations the index needs. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresIndex implements [Index] on a PostgreSQL table with a pgvector
// HNSW index for approximate nearest-neighbour search.
//
// All methods are safe for concurrent use.
type PostgresIndex struct {
	db      DB
	dim     int
	modelID string
}

// Compile-time interface check.
var _ Index = (*PostgresIndex)(nil)

// NewPostgresIndex returns an index over db. dim is the embedding
// dimensionality the collection is (or will be) created with and modelID
// names the embedding model feeding it, reported by Stats. A non-positive
// dim falls back to [DefaultDimensions].
func NewPostgresIndex(db DB, dim int, modelID string) *PostgresIndex {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &PostgresIndex{db: db, dim: dim, modelID: modelID}
}

// Migrate creates the collection and its indexes if they do not exist. It is
// idempotent and safe to call on every start. Upsert also runs it on demand
// when the collection is missing, so calling Migrate up front is optional.
func (s *PostgresIndex) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema(s.dim)); err != nil {
		return fmt.Errorf("vecindex: migrate: %w", err)
	}
	return nil
}

// Dimensions returns the embedding dimensionality the index enforces.
func (s *PostgresIndex) Dimensions() int { return s.dim }

// checkDim rejects embeddings whose length differs from the collection
// dimension.
func (s *PostgresIndex) checkDim(embedding []float32) error {
	if len(embedding) != s.dim {
		return clinerr.Wrap(clinerr.KindInvalidInput,
			fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dim),
			"vecindex")
	}
	return nil
}

// Upsert implements [Index]. The entry replaces any previous entry with the
// same vector id. When the collection does not exist yet it is created and
// the write retried once.
func (s *PostgresIndex) Upsert(ctx context.Context, entry VectorEntry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	if err := s.checkDim(entry.Embedding); err != nil {
		return "", err
	}

	blobs, err := marshalMetadataBlobs(entry.Metadata)
	if err != nil {
		return "", fmt.Errorf("vecindex: upsert %s: %w", entry.VectorID, err)
	}

	const q = `
		INSERT INTO medical_conversations
		    (vector_id, source_kind, source_id, embedding, payload_text,
		     patient_name, patient_norm, diagnosis, medications, symptoms,
		     conditions, context, date, speaker_mix, doc_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (vector_id) DO UPDATE SET
		    source_kind  = EXCLUDED.source_kind,
		    source_id    = EXCLUDED.source_id,
		    embedding    = EXCLUDED.embedding,
		    payload_text = EXCLUDED.payload_text,
		    patient_name = EXCLUDED.patient_name,
		    patient_norm = EXCLUDED.patient_norm,
		    diagnosis    = EXCLUDED.diagnosis,
		    medications  = EXCLUDED.medications,
		    symptoms     = EXCLUDED.symptoms,
		    conditions   = EXCLUDED.conditions,
		    context      = EXCLUDED.context,
		    date         = EXCLUDED.date,
		    speaker_mix  = EXCLUDED.speaker_mix,
		    doc_type     = EXCLUDED.doc_type`

	args := []any{
		entry.VectorID,
		entry.SourceKind,
		entry.SourceID,
		pgvector.NewVector(entry.Embedding),
		entry.PayloadText,
		entry.Metadata.PatientName,
		NormalizeName(entry.Metadata.PatientName),
		entry.Metadata.Diagnosis,
		blobs.medications,
		blobs.symptoms,
		blobs.conditions,
		entry.Metadata.Context,
		entry.Metadata.Date,
		entry.Metadata.SpeakerMix,
		entry.Metadata.DocType,
	}

	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		if !isUndefinedTable(err) {
			return "", fmt.Errorf("vecindex: upsert %s: %w", entry.VectorID, err)
		}
		// First write against a fresh database. Create the collection and retry.
		if err := s.Migrate(ctx); err != nil {
			return "", err
		}
		if _, err := s.db.Exec(ctx, q, args...); err != nil {
			return "", fmt.Errorf("vecindex: upsert %s: %w", entry.VectorID, err)
		}
	}
	return entry.VectorID, nil
}

// Delete implements [Index]. Deleting a non-existent entry, or deleting from
// a collection that was never created, is not an error.
func (s *PostgresIndex) Delete(ctx context.Context, vectorID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM medical_conversations WHERE vector_id = $1`, vectorID)
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("vecindex: delete %s: %w", vectorID, err)
	}
	return nil
}

// DeleteBySource implements [Index].
func (s *PostgresIndex) DeleteBySource(ctx context.Context, kind SourceKind, sourceID string) error {
	if !kind.Valid() {
		return clinerr.New(clinerr.KindInvalidInput, "vecindex: unknown source kind %q", kind)
	}
	_, err := s.db.Exec(ctx,
		`DELETE FROM medical_conversations WHERE source_kind = $1 AND source_id = $2`,
		kind, sourceID)
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("vecindex: delete source %s/%s: %w", kind, sourceID, err)
	}
	return nil
}

// Search implements [Index]. Cosine similarity is computed as
// 1 - (embedding <=> query); filters and the minScore cutoff are pushed into
// the query so the HNSW index does the heavy lifting.
func (s *PostgresIndex) Search(ctx context.Context, queryVec []float32, k int, filter SearchFilter, minScore float64) ([]SearchResult, error) {
	if err := s.checkDim(queryVec); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultSearchK
	}

	args := []any{pgvector.NewVector(queryVec)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.SourceKind != "" {
		if !filter.SourceKind.Valid() {
			return nil, clinerr.New(clinerr.KindInvalidInput, "vecindex: unknown source kind %q", filter.SourceKind)
		}
		conditions = append(conditions, "source_kind = "+next(filter.SourceKind))
	}
	if filter.PatientName != "" {
		conditions = append(conditions, "patient_norm = "+next(NormalizeName(filter.PatientName)))
	}
	if filter.DocType != "" {
		conditions = append(conditions, "doc_type = "+next(filter.DocType))
	}
	if filter.DateFrom != "" {
		conditions = append(conditions, "date >= "+next(filter.DateFrom))
	}
	if filter.DateTo != "" {
		conditions = append(conditions, "date <= "+next(filter.DateTo))
	}
	if minScore > 0 {
		conditions = append(conditions, "1 - (embedding <=> $1) >= "+next(minScore))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	limitArg := next(k)

	q := fmt.Sprintf(`
		SELECT %s,
		       1 - (embedding <=> $1) AS similarity
		FROM   medical_conversations
		%s
		ORDER  BY similarity DESC, date DESC, source_id
		LIMIT  %s`, vectorColumns, whereClause, limitArg)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return []SearchResult{}, nil
		}
		return nil, fmt.Errorf("vecindex: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, scanSearchResult)
	if err != nil {
		return nil, fmt.Errorf("vecindex: scan rows: %w", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// SearchByField implements [Index]. Only [FieldPatientName] is supported.
func (s *PostgresIndex) SearchByField(ctx context.Context, field, value string, strategy MatchStrategy, k int) ([]SearchResult, error) {
	if field != FieldPatientName {
		return nil, clinerr.New(clinerr.KindInvalidInput, "vecindex: unsupported search field %q", field)
	}
	if NormalizeName(value) == "" {
		return nil, clinerr.New(clinerr.KindInvalidInput, "vecindex: empty %s value", field)
	}
	if k <= 0 {
		k = DefaultSearchK
	}

	switch strategy {
	case MatchExact:
		return s.patientExact(ctx, NormalizeName(value), k)
	case MatchFuzzy:
		return s.patientFuzzy(ctx, value, k)
	default:
		return nil, clinerr.New(clinerr.KindInvalidInput, "vecindex: unknown match strategy %q", strategy)
	}
}

// patientExact returns entries whose normalized patient name equals norm.
// Exact hits carry similarity 1.0.
func (s *PostgresIndex) patientExact(ctx context.Context, norm string, k int) ([]SearchResult, error) {
	q := fmt.Sprintf(`
		SELECT %s
		FROM   medical_conversations
		WHERE  patient_norm = $1
		ORDER  BY date DESC, source_id
		LIMIT  $2`, vectorColumns)

	rows, err := s.db.Query(ctx, q, norm, k)
	if err != nil {
		if isUndefinedTable(err) {
			return []SearchResult{}, nil
		}
		return nil, fmt.Errorf("vecindex: patient search: %w", err)
	}

	results, err := pgx.CollectRows(rows, scanEntryResult)
	if err != nil {
		return nil, fmt.Errorf("vecindex: scan rows: %w", err)
	}
	for i := range results {
		results[i].Similarity = 1.0
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// patientFuzzy scores every distinct indexed patient name against value and
// returns the entries of names clearing [DefaultFuzzyThreshold], best names
// first. The name score becomes the result similarity.
//
// The distinct-name pass keeps the scoring in Go, where the weighted Jaccard
// lives, while the entry fetch stays a single indexed query.
func (s *PostgresIndex) patientFuzzy(ctx context.Context, value string, k int) ([]SearchResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT patient_norm FROM medical_conversations WHERE patient_norm <> ''`)
	if err != nil {
		if isUndefinedTable(err) {
			return []SearchResult{}, nil
		}
		return nil, fmt.Errorf("vecindex: patient names: %w", err)
	}

	names, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var name string
		err := row.Scan(&name)
		return name, err
	})
	if err != nil {
		return nil, fmt.Errorf("vecindex: scan patient names: %w", err)
	}

	scores := make(map[string]float64, len(names))
	var matched []string
	for _, name := range names {
		if score := NameSimilarity(value, name); score >= DefaultFuzzyThreshold {
			scores[name] = score
			matched = append(matched, name)
		}
	}
	if len(matched) == 0 {
		return []SearchResult{}, nil
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   medical_conversations
		WHERE  patient_norm = ANY($1)
		ORDER  BY date DESC, source_id`, vectorColumns)

	rows, err = s.db.Query(ctx, q, matched)
	if err != nil {
		return nil, fmt.Errorf("vecindex: patient search: %w", err)
	}
	results, err := pgx.CollectRows(rows, scanEntryResult)
	if err != nil {
		return nil, fmt.Errorf("vecindex: scan rows: %w", err)
	}

	for i := range results {
		results[i].Similarity = scores[NormalizeName(results[i].Entry.Metadata.PatientName)]
	}
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		if a.Entry.Metadata.Date != b.Entry.Metadata.Date {
			return strings.Compare(b.Entry.Metadata.Date, a.Entry.Metadata.Date)
		}
		return strings.Compare(a.Entry.SourceID, b.Entry.SourceID)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats implements [Index]. A missing collection reports zero entries rather
// than an error, matching the lazily-created collection contract.
func (s *PostgresIndex) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Dim: s.dim, ModelID: s.modelID, Collection: Collection}
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM medical_conversations`).Scan(&st.Count)
	if err != nil {
		if isUndefinedTable(err) {
			return st, nil
		}
		return Stats{}, fmt.Errorf("vecindex: stats: %w", err)
	}
	return st, nil
}

// metadataBlobs holds the JSONB array columns of one row in wire form.
type metadataBlobs struct {
	medications []byte
	symptoms    []byte
	conditions  []byte
}

func marshalMetadataBlobs(md Metadata) (metadataBlobs, error) {
	var (
		b   metadataBlobs
		err error
	)
	if b.medications, err = json.Marshal(emptyStrings(md.Medications)); err != nil {
		return b, fmt.Errorf("marshal medications: %w", err)
	}
	if b.symptoms, err = json.Marshal(emptyStrings(md.Symptoms)); err != nil {
		return b, fmt.Errorf("marshal symptoms: %w", err)
	}
	if b.conditions, err = json.Marshal(emptyStrings(md.Conditions)); err != nil {
		return b, fmt.Errorf("marshal conditions: %w", err)
	}
	return b, nil
}

func unmarshalMetadataBlobs(b metadataBlobs, md *Metadata) error {
	if err := json.Unmarshal(b.medications, &md.Medications); err != nil {
		return fmt.Errorf("unmarshal medications: %w", err)
	}
	if err := json.Unmarshal(b.symptoms, &md.Symptoms); err != nil {
		return fmt.Errorf("unmarshal symptoms: %w", err)
	}
	if err := json.Unmarshal(b.conditions, &md.Conditions); err != nil {
		return fmt.Errorf("unmarshal conditions: %w", err)
	}
	return nil
}

// entryScanDest returns scan destinations for vectorColumns in column order.
func entryScanDest(e *VectorEntry, vec *pgvector.Vector, blobs *metadataBlobs) []any {
	return []any{
		&e.VectorID,
		&e.SourceKind,
		&e.SourceID,
		vec,
		&e.PayloadText,
		&e.Metadata.PatientName,
		&e.Metadata.Diagnosis,
		&blobs.medications,
		&blobs.symptoms,
		&blobs.conditions,
		&e.Metadata.Context,
		&e.Metadata.Date,
		&e.Metadata.SpeakerMix,
		&e.Metadata.DocType,
	}
}

// scanSearchResult scans one row of vectorColumns plus the trailing
// similarity column.
func scanSearchResult(row pgx.CollectableRow) (SearchResult, error) {
	var (
		r     SearchResult
		vec   pgvector.Vector
		blobs metadataBlobs
	)
	dest := append(entryScanDest(&r.Entry, &vec, &blobs), &r.Similarity)
	if err := row.Scan(dest...); err != nil {
		return SearchResult{}, err
	}
	return finishEntry(r, vec, blobs)
}

// scanEntryResult scans one row of vectorColumns; the similarity is set by
// the caller.
func scanEntryResult(row pgx.CollectableRow) (SearchResult, error) {
	var (
		r     SearchResult
		vec   pgvector.Vector
		blobs metadataBlobs
	)
	if err := row.Scan(entryScanDest(&r.Entry, &vec, &blobs)...); err != nil {
		return SearchResult{}, err
	}
	return finishEntry(r, vec, blobs)
}

// finishEntry attaches the scanned vector and decodes the metadata arrays.
func finishEntry(r SearchResult, vec pgvector.Vector, blobs metadataBlobs) (SearchResult, error) {
	r.Entry.Embedding = vec.Slice()
	if err := unmarshalMetadataBlobs(blobs, &r.Entry.Metadata); err != nil {
		return SearchResult{}, err
	}
	return r, nil
}

// isUndefinedTable reports whether err is PostgreSQL undefined_table
// (SQLSTATE 42P01), raised when the collection has not been created yet.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

// emptyStrings replaces a nil slice with an empty one so it marshals to "[]".
func emptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
