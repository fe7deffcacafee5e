package record

import (
	"context"
	"time"
)

// Pagination bounds for list operations.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// RecordingFilter selects recordings for [Store.ListRecordings]. Zero-value
// fields are ignored.
type RecordingFilter struct {
	// Status restricts results to one processing state.
	Status Status

	// Patient is a case-insensitive substring match against the extracted
	// patient name.
	Patient string

	// From and To bound created_at. From is inclusive, To is exclusive.
	From time.Time
	To   time.Time

	// Limit caps the page size. Zero means [DefaultPageSize]; values above
	// [MaxPageSize] are clamped down.
	Limit int

	// Offset skips rows from the start of the result.
	Offset int
}

// DocumentFilter selects documents for [Store.ListDocuments]. Zero-value
// fields are ignored.
type DocumentFilter struct {
	Status   Status
	FileKind FileKind

	// Patient is a case-insensitive substring match against patient_name.
	Patient string

	// RecordingID restricts results to documents linked to one recording.
	RecordingID string

	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// RecordingStore persists recordings. Implementations must be safe for
// concurrent use; Update and Transition must be linearizable per record ID.
type RecordingStore interface {
	// CreateRecording inserts a new recording. An empty Status defaults to
	// [StatusPending] and empty outcome states default to their pending
	// values. Returns a [clinerr.KindConflict] error if the ID is taken.
	CreateRecording(ctx context.Context, rec *Recording) error

	// GetRecording retrieves a recording by ID. Returns (nil, nil) if not
	// found.
	GetRecording(ctx context.Context, id string) (*Recording, error)

	// ListRecordings returns recordings matching the filter, newest first
	// (created_at descending, ties broken by ID).
	ListRecordings(ctx context.Context, f RecordingFilter) ([]Recording, error)

	// UpdateRecording persists every mutable field of rec as a
	// compare-and-swap fenced on rec.UpdatedAt. It fails with
	// [clinerr.KindConflict] if the stored row changed since rec was read
	// and [clinerr.KindNotFound] if the row is gone. On success
	// rec.UpdatedAt holds the new fence value.
	UpdateRecording(ctx context.Context, rec *Recording) error

	// TransitionRecording advances a recording from one status to another.
	// It fails with [clinerr.KindInvalidInput] if the move violates the
	// state machine, [clinerr.KindConflict] if the current status is not
	// from, and [clinerr.KindNotFound] if the recording does not exist.
	TransitionRecording(ctx context.Context, id string, from, to Status) error

	// DeleteRecording removes a recording. Deleting a non-existent
	// recording is not an error.
	DeleteRecording(ctx context.Context, id string) error
}

// DocumentStore persists documents with the same operation semantics as
// [RecordingStore].
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, f DocumentFilter) ([]Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	TransitionDocument(ctx context.Context, id string, from, to Status) error
	DeleteDocument(ctx context.Context, id string) error
}

// Store combines recording and document persistence.
type Store interface {
	RecordingStore
	DocumentStore
}
