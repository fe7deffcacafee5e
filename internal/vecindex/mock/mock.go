// Package mock provides an in-memory test double for the [vecindex.Index]
// interface.
//
// The Index mock is stateful: upserted entries live in a map and Search
// really computes cosine similarity against them, so retrieval tests can
// seed a small corpus and exercise filtering, thresholds and ordering
// without a database. Exported *Err fields inject failures per method and
// the *Results fields replace the computed output when set.
//
// Typical usage:
//
//	idx := &mock.Index{}
//	idx.MustUpsert(vecindex.VectorEntry{VectorID: "v1", ...})
//
//	// inject idx into the system under test …
//
//	if got := idx.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/clinvox/clinvox/internal/vecindex"
)

// Call records the name and non-context arguments of a method invocation.
type Call struct {
	Method string
	Args   []any
}

// Index is a configurable in-memory implementation of [vecindex.Index].
// The zero value is ready to use and starts empty.
type Index struct {
	mu      sync.Mutex
	entries map[string]vecindex.VectorEntry
	calls   []Call

	// Dim, when non-zero, makes Upsert enforce the embedding length the
	// way the real collection does.
	Dim int

	// ModelID is reported by Stats. Defaults to "mock-embed".
	ModelID string

	// SearchResults, when non-nil, is returned by Search instead of the
	// computed cosine ranking.
	SearchResults []vecindex.SearchResult

	// SearchByFieldResults, when non-nil, is returned by SearchByField
	// instead of the computed name matching.
	SearchByFieldResults []vecindex.SearchResult

	UpsertErr         error
	DeleteErr         error
	DeleteBySourceErr error
	SearchErr         error
	SearchByFieldErr  error
	StatsErr          error
}

var _ vecindex.Index = (*Index)(nil)

// MustUpsert seeds an entry directly, panicking on error. Test setup only.
func (m *Index) MustUpsert(entry vecindex.VectorEntry) {
	if _, err := m.Upsert(context.Background(), entry); err != nil {
		panic(err)
	}
}

// Upsert stores entry keyed by its vector id.
func (m *Index) Upsert(ctx context.Context, entry vecindex.VectorEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Upsert", entry.VectorID)
	if m.UpsertErr != nil {
		return "", m.UpsertErr
	}
	if m.Dim > 0 && len(entry.Embedding) != m.Dim {
		return "", fmt.Errorf("mock index: entry has %d dims, collection has %d: %w",
			len(entry.Embedding), m.Dim, vecindex.ErrDimensionMismatch)
	}
	if m.entries == nil {
		m.entries = make(map[string]vecindex.VectorEntry)
	}
	m.entries[entry.VectorID] = entry
	return entry.VectorID, nil
}

// Delete removes the entry with the given id; missing ids are ignored.
func (m *Index) Delete(ctx context.Context, vectorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Delete", vectorID)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.entries, vectorID)
	return nil
}

// DeleteBySource removes every entry pointing at the given source record.
func (m *Index) DeleteBySource(ctx context.Context, kind vecindex.SourceKind, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteBySource", kind, sourceID)
	if m.DeleteBySourceErr != nil {
		return m.DeleteBySourceErr
	}
	for id, e := range m.entries {
		if e.SourceKind == kind && e.SourceID == sourceID {
			delete(m.entries, id)
		}
	}
	return nil
}

// Search ranks stored entries by cosine similarity against queryVec,
// honouring filter and minScore like the real index.
func (m *Index) Search(ctx context.Context, queryVec []float32, k int, filter vecindex.SearchFilter, minScore float64) ([]vecindex.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", k, filter, minScore)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResults != nil {
		return append([]vecindex.SearchResult(nil), m.SearchResults...), nil
	}

	var results []vecindex.SearchResult
	for _, e := range m.entries {
		if !matchesFilter(e, filter) {
			continue
		}
		sim := cosine(queryVec, e.Embedding)
		if sim < minScore {
			continue
		}
		results = append(results, vecindex.SearchResult{Entry: e, Similarity: sim})
	}
	sortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchByField matches stored entries by patient name, exactly or fuzzily.
func (m *Index) SearchByField(ctx context.Context, field, value string, strategy vecindex.MatchStrategy, k int) ([]vecindex.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SearchByField", field, value, strategy, k)
	if m.SearchByFieldErr != nil {
		return nil, m.SearchByFieldErr
	}
	if m.SearchByFieldResults != nil {
		return append([]vecindex.SearchResult(nil), m.SearchByFieldResults...), nil
	}
	if field != vecindex.FieldPatientName {
		return nil, fmt.Errorf("mock index: unsupported field %q", field)
	}

	var results []vecindex.SearchResult
	for _, e := range m.entries {
		switch strategy {
		case vecindex.MatchExact:
			if vecindex.NormalizeName(e.Metadata.PatientName) == vecindex.NormalizeName(value) {
				results = append(results, vecindex.SearchResult{Entry: e, Similarity: 1.0})
			}
		case vecindex.MatchFuzzy:
			if s := vecindex.NameSimilarity(value, e.Metadata.PatientName); s >= vecindex.DefaultFuzzyThreshold {
				results = append(results, vecindex.SearchResult{Entry: e, Similarity: s})
			}
		}
	}
	sortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats reports the current entry count.
func (m *Index) Stats(ctx context.Context) (vecindex.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Stats")
	if m.StatsErr != nil {
		return vecindex.Stats{}, m.StatsErr
	}
	dim := m.Dim
	if dim == 0 {
		dim = vecindex.DefaultDimensions
	}
	model := m.ModelID
	if model == "" {
		model = "mock-embed"
	}
	return vecindex.Stats{
		Count:      int64(len(m.entries)),
		Dim:        dim,
		ModelID:    model,
		Collection: vecindex.Collection,
	}, nil
}

// Entry returns the stored entry with the given id, if present.
func (m *Index) Entry(vectorID string) (vecindex.VectorEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[vectorID]
	return e, ok
}

// Len returns the number of stored entries.
func (m *Index) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Calls returns a copy of all recorded method invocations.
func (m *Index) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how often the named method was invoked.
func (m *Index) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Index) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

func matchesFilter(e vecindex.VectorEntry, f vecindex.SearchFilter) bool {
	if f.SourceKind != "" && e.SourceKind != f.SourceKind {
		return false
	}
	if f.PatientName != "" && vecindex.NormalizeName(e.Metadata.PatientName) != vecindex.NormalizeName(f.PatientName) {
		return false
	}
	if f.DocType != "" && e.Metadata.DocType != f.DocType {
		return false
	}
	if f.DateFrom != "" && e.Metadata.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && e.Metadata.Date > f.DateTo {
		return false
	}
	return true
}

func sortResults(results []vecindex.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		di, dj := results[i].Entry.Metadata.Date, results[j].Entry.Metadata.Date
		if di != dj {
			return di > dj
		}
		return results[i].Entry.SourceID < results[j].Entry.SourceID
	})
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
