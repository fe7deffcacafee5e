package vecindex

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultFuzzyThreshold is the minimum [NameSimilarity] score at which two
// patient names are treated as the same person during fuzzy lookup.
const DefaultFuzzyThreshold = 0.55

// tokenMatchThreshold is the minimum Jaro-Winkler score for two name tokens
// to pair up inside the weighted Jaccard.
const tokenMatchThreshold = 0.85

// Score adjustments applied on top of the weighted Jaccard base.
const (
	orderBonus        = 0.10
	completenessBonus = 0.10
	extraTokenPenalty = 0.05
)

// NormalizeName prepares a patient name for comparison: lowercase, diacritics
// stripped, runs of whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = stripDiacritics(name)
	return strings.Join(strings.Fields(name), " ")
}

// stripDiacritics maps accented letters common in Spanish names onto their
// base letters so that "Gómez" and "Gomez" compare equal.
func stripDiacritics(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 'á', 'à', 'ä', 'â':
			return 'a'
		case 'é', 'è', 'ë', 'ê':
			return 'e'
		case 'í', 'ì', 'ï', 'î':
			return 'i'
		case 'ó', 'ò', 'ö', 'ô':
			return 'o'
		case 'ú', 'ù', 'ü', 'û':
			return 'u'
		case 'ñ':
			return 'n'
		case 'ç':
			return 'c'
		}
		return r
	}, s)
}

// NameSimilarity scores how likely query and candidate name the same person,
// in [0, 1].
//
// Both names are normalized first; identical normalized forms score 1.0.
// Otherwise the score is a weighted Jaccard over name tokens: each query
// token greedily pairs with its most similar unused candidate token
// (Jaro-Winkler, accepted from tokenMatchThreshold up), the pair scores sum
// into the intersection weight, and the union counts unmatched tokens on
// both sides. Pairs appearing in the same relative order earn orderBonus, a
// query whose every token matched earns completenessBonus, and each
// unmatched candidate token costs extraTokenPenalty. The adjustments keep a
// bare first name clear of [DefaultFuzzyThreshold] against the patient's
// full name while holding unrelated names well below it.
func NameSimilarity(query, candidate string) float64 {
	nq := NormalizeName(query)
	nc := NormalizeName(candidate)
	if nq == "" || nc == "" {
		return 0
	}
	if nq == nc {
		return 1.0
	}

	qTokens := strings.Fields(nq)
	cTokens := strings.Fields(nc)

	used := make([]bool, len(cTokens))
	matched := 0
	weight := 0.0
	ordered := true
	lastIdx := -1

	for _, qt := range qTokens {
		bestIdx, bestScore := -1, 0.0
		for i, ct := range cTokens {
			if used[i] {
				continue
			}
			if s := matchr.JaroWinkler(qt, ct, false); s > bestScore {
				bestScore, bestIdx = s, i
			}
		}
		if bestIdx < 0 || bestScore < tokenMatchThreshold {
			continue
		}
		used[bestIdx] = true
		matched++
		weight += bestScore
		if bestIdx < lastIdx {
			ordered = false
		}
		lastIdx = bestIdx
	}

	if matched == 0 {
		return 0
	}

	union := len(qTokens) + len(cTokens) - matched
	score := weight / float64(union)
	if ordered {
		score += orderBonus
	}
	if matched == len(qTokens) {
		score += completenessBonus
	}
	score -= float64(len(cTokens)-matched) * extraTokenPenalty

	return min(max(score, 0), 1)
}
