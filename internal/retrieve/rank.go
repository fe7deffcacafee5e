package retrieve

import (
	"sort"
	"strings"
	"unicode"

	"github.com/clinvox/clinvox/internal/query"
	"github.com/clinvox/clinvox/internal/vecindex"
)

// Ranking bonuses added to the base similarity. An entry that mentions a
// queried patient, condition or symptom outranks an equally similar entry
// that does not; a dated entry edges out an undated one.
const (
	patientBonus   = 0.10
	conditionBonus = 0.15
	symptomBonus   = 0.05
	recencyBonus   = 0.02
)

// excerptLen caps excerpts in runes.
const excerptLen = 300

// rank scores every result, attaches excerpts and orders the hits by score
// descending. Ties break by metadata date descending, then vector id, so
// equal-scored output is stable across runs.
func rank(plan query.Plan, results []vecindex.SearchResult) []Hit {
	terms := entityTerms(plan)

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		score := res.Similarity + bonuses(plan, res.Entry)
		score = min(max(score, 0), 1)
		hits = append(hits, Hit{
			Entry:      res.Entry,
			Similarity: res.Similarity,
			Score:      score,
			Excerpt:    buildExcerpt(res.Entry.PayloadText, terms),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		di, dj := hits[i].Entry.Metadata.Date, hits[j].Entry.Metadata.Date
		if di != dj {
			return di > dj
		}
		return hits[i].Entry.VectorID < hits[j].Entry.VectorID
	})
	return hits
}

func bonuses(plan query.Plan, entry vecindex.VectorEntry) float64 {
	var b float64
	if anyTermIn(entry.PayloadText, plan.Entities.Patients) {
		b += patientBonus
	}
	if anyTermIn(entry.PayloadText, plan.Entities.Conditions) {
		b += conditionBonus
	}
	if anyTermIn(entry.PayloadText, plan.Entities.Symptoms) {
		b += symptomBonus
	}
	if entry.Metadata.Date != "" {
		b += recencyBonus
	}
	return b
}

func anyTermIn(text string, terms []string) bool {
	for _, t := range terms {
		if query.MatchesTerm(text, t) {
			return true
		}
	}
	return false
}

// entityTerms flattens the plan's entities in ranking priority order; the
// excerpt window centers on whichever of these occurs first in the payload.
func entityTerms(plan query.Plan) []string {
	var terms []string
	terms = append(terms, plan.Entities.Patients...)
	terms = append(terms, plan.Entities.Conditions...)
	terms = append(terms, plan.Entities.Symptoms...)
	terms = append(terms, plan.Entities.Medications...)
	terms = append(terms, plan.Entities.Dates...)
	return terms
}

// buildExcerpt cuts a window of up to excerptLen runes out of payload,
// centered on the earliest entity-term occurrence. Without a hit the window
// is the head of the payload. Cut edges snap to word boundaries and gain an
// ellipsis.
func buildExcerpt(payload string, terms []string) string {
	runes := []rune(strings.TrimSpace(payload))
	if len(runes) == 0 {
		return ""
	}
	if len(runes) <= excerptLen {
		return string(runes)
	}

	folded := foldRunes(runes)

	hitPos, hitLen := -1, 0
	for _, term := range terms {
		needle := foldRunes([]rune(term))
		if pos := indexRunes(folded, needle); pos >= 0 && (hitPos < 0 || pos < hitPos) {
			hitPos, hitLen = pos, len(needle)
		}
	}

	start := 0
	if hitPos >= 0 {
		start = hitPos + hitLen/2 - excerptLen/2
	}
	start = min(max(start, 0), len(runes)-excerptLen)
	end := start + excerptLen

	// Snap to word boundaries without losing the hit itself.
	if start > 0 {
		limit := start + excerptLen/4
		if hitPos >= 0 && hitPos < limit {
			limit = hitPos
		}
		for start < limit && !unicode.IsSpace(runes[start]) {
			start++
		}
	}
	if end < len(runes) {
		limit := end - excerptLen/4
		if hitPos >= 0 && hitPos+hitLen > limit {
			limit = hitPos + hitLen
		}
		for end > limit && !unicode.IsSpace(runes[end-1]) {
			end--
		}
	}

	excerpt := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		excerpt = "..." + excerpt
	}
	if end < len(runes) {
		excerpt += "..."
	}
	return excerpt
}

// foldRunes lowercases and strips Spanish diacritics rune by rune, keeping
// positions aligned with the input.
func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		r = unicode.ToLower(r)
		switch r {
		case 'á':
			r = 'a'
		case 'é':
			r = 'e'
		case 'í':
			r = 'i'
		case 'ó':
			r = 'o'
		case 'ú', 'ü':
			r = 'u'
		case 'ñ':
			r = 'n'
		}
		out[i] = r
	}
	return out
}

func indexRunes(hay, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(hay) {
		return -1
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
