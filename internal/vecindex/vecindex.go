// Package vecindex stores and searches the embedded clinical corpus.
//
// Every successfully indexed source (a transcribed recording or a parsed
// document) contributes exactly one [VectorEntry] to a single logical
// collection. An entry pairs a fixed-dimension embedding with the payload
// text it was computed from and a closed set of medical metadata used for
// filtering and patient lookup.
//
// The production implementation is [PostgresIndex], backed by a pgvector
// table with an HNSW index for approximate nearest-neighbour search.
package vecindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Collection is the name of the single logical collection (and the backing
// table) holding all indexed clinical content.
const Collection = "medical_conversations"

// DefaultDimensions is the embedding dimensionality used when none is
// configured. It matches the default embedding models, local and remote.
const DefaultDimensions = 384

// DefaultSearchK bounds result sets when the caller does not specify k.
const DefaultSearchK = 5

// ErrDimensionMismatch reports an embedding whose length does not match the
// dimensionality the collection was created with. Errors returned by [Index]
// implementations match it under [errors.Is].
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// SourceKind identifies which kind of ingestion record produced an entry.
type SourceKind string

const (
	SourceRecording SourceKind = "recording"
	SourceDocument  SourceKind = "document"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourceRecording || k == SourceDocument
}

// MatchStrategy selects how SearchByField compares field values.
type MatchStrategy string

const (
	// MatchExact requires equality after normalization (lowercase,
	// diacritics stripped, whitespace collapsed).
	MatchExact MatchStrategy = "exact"

	// MatchFuzzy accepts values whose [NameSimilarity] score reaches
	// [DefaultFuzzyThreshold].
	MatchFuzzy MatchStrategy = "fuzzy"
)

// FieldPatientName is the only field SearchByField supports.
const FieldPatientName = "patient_name"

// Metadata is the closed set of medical attributes stored alongside each
// embedding. All fields are optional; absent values persist as empty strings
// or empty arrays.
type Metadata struct {
	PatientName string   `json:"patient_name,omitempty"`
	Diagnosis   string   `json:"diagnosis,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Symptoms    []string `json:"symptoms,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`
	Context     string   `json:"context,omitempty"`

	// Date is the clinically relevant date in YYYY-MM-DD form, not the
	// moment of indexing. It breaks ties during ranking.
	Date string `json:"date,omitempty"`

	SpeakerMix string `json:"speaker_mix,omitempty"`
	DocType    string `json:"doc_type,omitempty"`
}

// VectorEntry is one indexed unit of clinical content.
type VectorEntry struct {
	// VectorID uniquely identifies the entry. Upserting the same VectorID
	// replaces the previous entry completely.
	VectorID string `json:"vector_id"`

	// SourceKind and SourceID point back at the ingestion record the entry
	// was built from. Deleting the record removes the entry with it.
	SourceKind SourceKind `json:"source_kind"`
	SourceID   string     `json:"source_id"`

	// Embedding is the vector actually indexed. Its length must equal the
	// collection dimension.
	Embedding []float32 `json:"-"`

	// PayloadText is the exact text the embedding was computed from,
	// assembled by [BuildPayload]. Excerpts shown to users come from here.
	PayloadText string `json:"payload_text"`

	Metadata Metadata `json:"metadata"`
}

// Validate reports every constraint the entry breaks as a single
// [clinerr.KindInvalidInput] error, or nil if the entry is well formed.
func (e *VectorEntry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.VectorID) == "" {
		errs = append(errs, errors.New("vector_id must not be empty"))
	}
	if !e.SourceKind.Valid() {
		errs = append(errs, fmt.Errorf("unknown source kind %q", e.SourceKind))
	}
	if strings.TrimSpace(e.SourceID) == "" {
		errs = append(errs, errors.New("source_id must not be empty"))
	}
	if len(e.Embedding) == 0 {
		errs = append(errs, errors.New("embedding must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return clinerr.Wrap(clinerr.KindInvalidInput, err, "vecindex: invalid entry")
	}
	return nil
}

// SearchFilter narrows Search results by metadata before similarity ranking.
// Zero values mean no constraint.
type SearchFilter struct {
	// SourceKind restricts results to entries from one record kind.
	SourceKind SourceKind

	// PatientName matches the normalized patient name exactly. Use
	// SearchByField with [MatchFuzzy] for tolerant name lookup.
	PatientName string

	// DocType matches the document type exactly.
	DocType string

	// DateFrom and DateTo bound the metadata date, inclusive on both ends.
	// Both are YYYY-MM-DD strings; lexicographic order is date order.
	DateFrom string
	DateTo   string
}

// SearchResult pairs an entry with its score against the query. For vector
// searches Similarity is cosine similarity; for fuzzy name lookups it is the
// [NameSimilarity] score. Higher is better in both cases.
type SearchResult struct {
	Entry      VectorEntry `json:"entry"`
	Similarity float64     `json:"similarity"`
}

// Stats describes the state of the collection.
type Stats struct {
	// Count is the number of entries currently indexed.
	Count int64 `json:"count"`

	// Dim is the embedding dimensionality the collection enforces.
	Dim int `json:"dim"`

	// ModelID names the embedding model feeding the collection.
	ModelID string `json:"model_id"`

	// Collection is the collection name.
	Collection string `json:"collection"`
}

// Index is the vector store abstraction the ingestion pipeline writes to and
// the retriever reads from.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert stores entry and returns its vector id. An entry with the same
	// vector id is replaced completely. The collection is created on the
	// first write if it does not exist yet. Fails with an error matching
	// [ErrDimensionMismatch] when the embedding length differs from the
	// collection dimension.
	Upsert(ctx context.Context, entry VectorEntry) (string, error)

	// Delete removes the entry with the given vector id. Deleting a
	// non-existent entry is not an error.
	Delete(ctx context.Context, vectorID string) error

	// DeleteBySource removes every entry produced by the given source
	// record. Called when the record itself is deleted.
	DeleteBySource(ctx context.Context, kind SourceKind, sourceID string) error

	// Search returns the k entries most similar to queryVec, after applying
	// filter and discarding entries scoring below minScore. Results are
	// ordered by similarity descending; ties break by metadata date
	// descending, then source id ascending.
	Search(ctx context.Context, queryVec []float32, k int, filter SearchFilter, minScore float64) ([]SearchResult, error)

	// SearchByField looks entries up by a metadata field instead of vector
	// similarity. The only supported field is [FieldPatientName]. With
	// [MatchExact] the normalized value must match exactly and results carry
	// similarity 1.0; with [MatchFuzzy] every indexed name scoring at least
	// [DefaultFuzzyThreshold] under [NameSimilarity] matches and the name
	// score becomes the result similarity.
	SearchByField(ctx context.Context, field, value string, strategy MatchStrategy, k int) ([]SearchResult, error)

	// Stats reports the entry count, dimensionality, embedding model and
	// collection name.
	Stats(ctx context.Context) (Stats, error)
}
