// Package retrieve runs the retrieval stage of a chat query. It picks a
// search strategy from the query plan, pulls candidates from the vector
// index and orders them by a combined relevance score:
//
//   - patient questions resolve the patient by fuzzy name lookup,
//   - condition listings search around the condition and keep one entry
//     per distinct patient,
//   - everything else is a plain vector search over the query's terms.
//
// Retrieval never fabricates results: an empty index or a query below the
// similarity floor yields an empty, non-error result the generator turns
// into a fallback answer.
package retrieve

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinvox/clinvox/internal/query"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/provider/embeddings"
)

// DefaultK is the number of contexts retrieved when the caller does not ask
// for a specific count.
const DefaultK = 5

// minSimilarity is the floor for vector-search hits. Entries scoring below
// it are noise for clinical questions and are dropped before ranking.
const minSimilarity = 0.60

// conditionFetchFactor oversamples condition searches so that the
// per-patient grouping still fills k results after filtering.
const conditionFetchFactor = 2

// Hit is one retrieved context, ready for prompt assembly: the index entry,
// its raw similarity, the final ranked score and a display excerpt.
type Hit struct {
	Entry      vecindex.VectorEntry
	Similarity float64
	Score      float64
	Excerpt    string
}

// Options adjust a single retrieval call. The zero value asks for DefaultK
// results with no extra filtering.
type Options struct {
	// K is the maximum number of contexts to return.
	K int

	// Filter narrows candidates by metadata before similarity ranking.
	// It merges with the filters derived from the query plan.
	Filter vecindex.SearchFilter
}

// Retriever binds the vector index to the query embedder. It is stateless
// and safe for concurrent use.
type Retriever struct {
	index vecindex.Index
	embed embeddings.Provider
}

// New returns a Retriever reading from index and embedding queries with
// embedder.
func New(index vecindex.Index, embedder embeddings.Provider) *Retriever {
	return &Retriever{index: index, embed: embedder}
}

// Retrieve returns the ranked contexts for plan. A query that matches
// nothing returns an empty slice and no error.
func (r *Retriever) Retrieve(ctx context.Context, plan query.Plan, opts Options) ([]Hit, error) {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}

	var (
		results []vecindex.SearchResult
		err     error
	)
	switch {
	case plan.Intent == query.IntentPatientInfo && len(plan.Entities.Patients) > 0:
		results, err = r.byPatient(ctx, plan.Entities.Patients[0], k)
	case plan.Intent == query.IntentConditionList && len(plan.Entities.Conditions) > 0:
		results, err = r.byCondition(ctx, plan.Entities.Conditions[0], k, opts.Filter)
	default:
		results, err = r.semantic(ctx, plan, k, opts.Filter)
	}
	if err != nil {
		return nil, err
	}
	return rank(plan, results), nil
}

// semantic is the general strategy: embed the top search terms and run a
// filtered vector search.
func (r *Retriever) semantic(ctx context.Context, plan query.Plan, k int, filter vecindex.SearchFilter) ([]vecindex.SearchResult, error) {
	text := embedText(plan)
	if text == "" {
		return nil, nil
	}
	vec, err := r.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed query: %w", err)
	}
	if filter.PatientName == "" {
		filter.PatientName = plan.Filters.PatientName
	}
	results, err := r.index.Search(ctx, vec, k, filter, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search: %w", err)
	}
	return results, nil
}

// byPatient resolves the queried patient by fuzzy name lookup, so "Pepito"
// still finds "Pepito Gómez".
func (r *Retriever) byPatient(ctx context.Context, patient string, k int) ([]vecindex.SearchResult, error) {
	results, err := r.index.SearchByField(ctx, vecindex.FieldPatientName, patient, vecindex.MatchFuzzy, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: patient lookup: %w", err)
	}
	return results, nil
}

// byCondition searches around a condition and keeps the best entry per
// distinct patient. Candidates must actually mention the condition in their
// diagnosis, symptoms, conditions or payload; similarity alone does not
// qualify an entry for a condition listing.
func (r *Retriever) byCondition(ctx context.Context, cond string, k int, filter vecindex.SearchFilter) ([]vecindex.SearchResult, error) {
	vec, err := r.embed.Embed(ctx, "diagnóstico "+cond+" enfermedad")
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed condition query: %w", err)
	}
	raw, err := r.index.Search(ctx, vec, conditionFetchFactor*k, filter, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieve: condition search: %w", err)
	}

	out := make([]vecindex.SearchResult, 0, k)
	seen := make(map[string]bool)
	for _, res := range raw {
		if !mentionsCondition(res.Entry, cond) {
			continue
		}
		key := vecindex.NormalizeName(res.Entry.Metadata.PatientName)
		if key == "" {
			// Entries without a patient name stand alone.
			key = "source:" + string(res.Entry.SourceKind) + ":" + res.Entry.SourceID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, res)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func mentionsCondition(entry vecindex.VectorEntry, cond string) bool {
	if query.MatchesTerm(entry.Metadata.Diagnosis, cond) {
		return true
	}
	for _, s := range entry.Metadata.Symptoms {
		if query.MatchesTerm(s, cond) {
			return true
		}
	}
	for _, c := range entry.Metadata.Conditions {
		if query.MatchesTerm(c, cond) {
			return true
		}
	}
	return query.MatchesTerm(entry.PayloadText, cond)
}

// embedText joins the plan's strongest search terms into the text that gets
// embedded. Falls back to the normalized query when analysis produced no
// terms.
func embedText(plan query.Plan) string {
	terms := plan.SearchTerms
	if len(terms) > 3 {
		terms = terms[:3]
	}
	if len(terms) == 0 {
		return plan.Normalized
	}
	return strings.Join(terms, " ")
}
