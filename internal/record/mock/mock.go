// Package mock provides an in-memory test double for the [record.Store]
// interface.
//
// The Store mock is stateful and mirrors the semantics of the Postgres
// store: creates reject duplicate ids, gets return (nil, nil) on a miss,
// updates are compare-and-swap fenced on UpdatedAt and transitions are
// fenced on the expected current status. Exported *Err fields inject
// failures per method, and every invocation is recorded for assertion.
//
// Typical usage:
//
//	store := &mock.Store{}
//
//	// inject store into the system under test …
//
//	rec, _ := store.GetRecording(ctx, id)
//	if rec.Status != record.StatusCompleted {
//	    t.Errorf("status = %s, want completed", rec.Status)
//	}
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Call records the name and non-context arguments of a method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable in-memory implementation of [record.Store].
// The zero value is ready to use and starts empty.
type Store struct {
	mu         sync.Mutex
	recordings map[string]record.Recording
	documents  map[string]record.Document
	calls      []Call
	clock      int64

	CreateRecordingErr     error
	GetRecordingErr        error
	ListRecordingsErr      error
	UpdateRecordingErr     error
	TransitionRecordingErr error
	DeleteRecordingErr     error

	CreateDocumentErr     error
	GetDocumentErr        error
	ListDocumentsErr      error
	UpdateDocumentErr     error
	TransitionDocumentErr error
	DeleteDocumentErr     error
}

var _ record.Store = (*Store)(nil)

// now hands out strictly increasing timestamps so CAS fences always move.
func (s *Store) now() time.Time {
	s.clock++
	return time.Unix(1700000000, 0).Add(time.Duration(s.clock) * time.Millisecond).UTC()
}

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how often the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// RecordingStatuses returns every status a recording has been observed in,
// in transition order, starting with the status it was created with.
func (s *Store) RecordingStatuses(id string) []record.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var statuses []record.Status
	for _, c := range s.calls {
		switch c.Method {
		case "CreateRecording":
			if rec, ok := c.Args[0].(record.Recording); ok && rec.ID == id {
				statuses = append(statuses, rec.Status)
			}
		case "TransitionRecording":
			if c.Args[0] == id {
				if to, ok := c.Args[2].(record.Status); ok {
					statuses = append(statuses, to)
				}
			}
		}
	}
	return statuses
}

// ─── Recordings ──────────────────────────────────────────────────────────

// CreateRecording inserts rec, applying the same defaults as the real
// store.
func (s *Store) CreateRecording(ctx context.Context, rec *record.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateRecordingErr != nil {
		s.record("CreateRecording", *rec)
		return s.CreateRecordingErr
	}
	if rec.Status == "" {
		rec.Status = record.StatusPending
	}
	if rec.Diarization == "" {
		rec.Diarization = record.DiarizationPending
	}
	if rec.VectorStored == "" {
		rec.VectorStored = record.VectorPending
	}
	if err := rec.Validate(); err != nil {
		s.record("CreateRecording", *rec)
		return err
	}
	if s.recordings == nil {
		s.recordings = make(map[string]record.Recording)
	}
	if _, exists := s.recordings[rec.ID]; exists {
		s.record("CreateRecording", *rec)
		return clinerr.New(clinerr.KindConflict, "record: recording %q already exists", rec.ID)
	}
	now := s.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.recordings[rec.ID] = copyRecording(*rec)
	s.record("CreateRecording", *rec)
	return nil
}

// GetRecording returns a copy of the stored recording, or (nil, nil) when
// the id is unknown.
func (s *Store) GetRecording(ctx context.Context, id string) (*record.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetRecording", id)
	if s.GetRecordingErr != nil {
		return nil, s.GetRecordingErr
	}
	rec, ok := s.recordings[id]
	if !ok {
		return nil, nil
	}
	out := copyRecording(rec)
	return &out, nil
}

// ListRecordings returns matching recordings newest first.
func (s *Store) ListRecordings(ctx context.Context, f record.RecordingFilter) ([]record.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListRecordings", f)
	if s.ListRecordingsErr != nil {
		return nil, s.ListRecordingsErr
	}
	var recs []record.Recording
	for _, rec := range s.recordings {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Patient != "" && !containsFold(structuredName(rec), f.Patient) {
			continue
		}
		if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !rec.CreatedAt.Before(f.To) {
			continue
		}
		recs = append(recs, copyRecording(rec))
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return page(recs, f.Limit, f.Offset), nil
}

// UpdateRecording stores rec if its UpdatedAt still matches.
func (s *Store) UpdateRecording(ctx context.Context, rec *record.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateRecording", *rec)
	if s.UpdateRecordingErr != nil {
		return s.UpdateRecordingErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	current, ok := s.recordings[rec.ID]
	if !ok {
		return clinerr.New(clinerr.KindNotFound, "record: recording %q not found", rec.ID)
	}
	if !current.UpdatedAt.Equal(rec.UpdatedAt) {
		return clinerr.New(clinerr.KindConflict, "record: recording %q modified concurrently", rec.ID)
	}
	rec.CreatedAt = current.CreatedAt
	rec.UpdatedAt = s.now()
	s.recordings[rec.ID] = copyRecording(*rec)
	return nil
}

// TransitionRecording advances the status if the stored status equals from.
func (s *Store) TransitionRecording(ctx context.Context, id string, from, to record.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("TransitionRecording", id, from, to)
	if s.TransitionRecordingErr != nil {
		return s.TransitionRecordingErr
	}
	if !record.CanTransition(from, to) {
		return clinerr.New(clinerr.KindInvalidInput, "record: illegal transition %s -> %s", from, to)
	}
	rec, ok := s.recordings[id]
	if !ok {
		return clinerr.New(clinerr.KindNotFound, "record: recording %q not found", id)
	}
	if rec.Status != from {
		return clinerr.New(clinerr.KindConflict, "record: recording %q is %s, want %s", id, rec.Status, from)
	}
	rec.Status = to
	rec.UpdatedAt = s.now()
	s.recordings[id] = rec
	return nil
}

// DeleteRecording removes the recording; unknown ids are ignored.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteRecording", id)
	if s.DeleteRecordingErr != nil {
		return s.DeleteRecordingErr
	}
	delete(s.recordings, id)
	return nil
}

// ─── Documents ───────────────────────────────────────────────────────────

// CreateDocument inserts doc with the real store's defaults applied.
func (s *Store) CreateDocument(ctx context.Context, doc *record.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateDocumentErr != nil {
		s.record("CreateDocument", *doc)
		return s.CreateDocumentErr
	}
	if doc.Status == "" {
		doc.Status = record.StatusPending
	}
	if doc.VectorStored == "" {
		doc.VectorStored = record.VectorPending
	}
	if err := doc.Validate(); err != nil {
		s.record("CreateDocument", *doc)
		return err
	}
	if s.documents == nil {
		s.documents = make(map[string]record.Document)
	}
	if _, exists := s.documents[doc.ID]; exists {
		s.record("CreateDocument", *doc)
		return clinerr.New(clinerr.KindConflict, "record: document %q already exists", doc.ID)
	}
	now := s.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.documents[doc.ID] = copyDocument(*doc)
	s.record("CreateDocument", *doc)
	return nil
}

// GetDocument returns a copy of the stored document, or (nil, nil) when the
// id is unknown.
func (s *Store) GetDocument(ctx context.Context, id string) (*record.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetDocument", id)
	if s.GetDocumentErr != nil {
		return nil, s.GetDocumentErr
	}
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	out := copyDocument(doc)
	return &out, nil
}

// ListDocuments returns matching documents newest first.
func (s *Store) ListDocuments(ctx context.Context, f record.DocumentFilter) ([]record.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListDocuments", f)
	if s.ListDocumentsErr != nil {
		return nil, s.ListDocumentsErr
	}
	var docs []record.Document
	for _, doc := range s.documents {
		if f.Status != "" && doc.Status != f.Status {
			continue
		}
		if f.FileKind != "" && doc.FileKind != f.FileKind {
			continue
		}
		if f.Patient != "" && !containsFold(doc.PatientName, f.Patient) {
			continue
		}
		if f.RecordingID != "" && doc.RecordingID != f.RecordingID {
			continue
		}
		if !f.From.IsZero() && doc.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !doc.CreatedAt.Before(f.To) {
			continue
		}
		docs = append(docs, copyDocument(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return page(docs, f.Limit, f.Offset), nil
}

// UpdateDocument stores doc if its UpdatedAt still matches.
func (s *Store) UpdateDocument(ctx context.Context, doc *record.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateDocument", *doc)
	if s.UpdateDocumentErr != nil {
		return s.UpdateDocumentErr
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	current, ok := s.documents[doc.ID]
	if !ok {
		return clinerr.New(clinerr.KindNotFound, "record: document %q not found", doc.ID)
	}
	if !current.UpdatedAt.Equal(doc.UpdatedAt) {
		return clinerr.New(clinerr.KindConflict, "record: document %q modified concurrently", doc.ID)
	}
	doc.CreatedAt = current.CreatedAt
	doc.UpdatedAt = s.now()
	s.documents[doc.ID] = copyDocument(*doc)
	return nil
}

// TransitionDocument advances the status if the stored status equals from.
func (s *Store) TransitionDocument(ctx context.Context, id string, from, to record.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("TransitionDocument", id, from, to)
	if s.TransitionDocumentErr != nil {
		return s.TransitionDocumentErr
	}
	if !record.CanTransition(from, to) {
		return clinerr.New(clinerr.KindInvalidInput, "record: illegal transition %s -> %s", from, to)
	}
	doc, ok := s.documents[id]
	if !ok {
		return clinerr.New(clinerr.KindNotFound, "record: document %q not found", id)
	}
	if doc.Status != from {
		return clinerr.New(clinerr.KindConflict, "record: document %q is %s, want %s", id, doc.Status, from)
	}
	doc.Status = to
	doc.UpdatedAt = s.now()
	s.documents[id] = doc
	return nil
}

// DeleteDocument removes the document; unknown ids are ignored.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteDocument", id)
	if s.DeleteDocumentErr != nil {
		return s.DeleteDocumentErr
	}
	delete(s.documents, id)
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────

func copyRecording(rec record.Recording) record.Recording {
	out := rec
	out.Structured = copyMap(rec.Structured)
	out.Unstructured = copyMap(rec.Unstructured)
	if rec.SpeakerSegments != nil {
		out.SpeakerSegments = append([]record.SpeakerSegment(nil), rec.SpeakerSegments...)
	}
	if rec.SpeakerStats != nil {
		stats := *rec.SpeakerStats
		out.SpeakerStats = &stats
	}
	if rec.ProcessedAt != nil {
		t := *rec.ProcessedAt
		out.ProcessedAt = &t
	}
	return out
}

func copyDocument(doc record.Document) record.Document {
	out := doc
	out.Conditions = append([]string(nil), doc.Conditions...)
	out.Medications = append([]string(nil), doc.Medications...)
	out.Procedures = append([]string(nil), doc.Procedures...)
	if doc.ProcessedAt != nil {
		t := *doc.ProcessedAt
		out.ProcessedAt = &t
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func structuredName(rec record.Recording) string {
	name, _ := rec.Structured["name"].(string)
	return name
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = record.DefaultPageSize
	}
	if limit > record.MaxPageSize {
		limit = record.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
