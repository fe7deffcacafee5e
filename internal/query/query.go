// Package query turns a raw natural-language medical question into a
// retrieval plan: a normalized form of the text, a classified intent, the
// entities recognized against the closed clinical lexicons, and the search
// terms the retriever embeds.
//
// Intent classification runs an ordered regex ruleset over the normalized
// query; the first matching rule wins and unmatched queries fall back to
// [IntentGeneralQuery]. Entity recognition only ever reports terms from the
// closed lexicons in lexicon.go plus capitalized name runs and date tokens,
// so downstream filters never see free-form model output.
package query

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Intent classifies what a chat query is asking for. The set is closed;
// values are the wire strings reported in chat responses.
type Intent string

const (
	// IntentPatientInfo asks about one specific patient.
	IntentPatientInfo Intent = "patient_info"
	// IntentConditionList asks which patients share a condition.
	IntentConditionList Intent = "condition_list"
	// IntentSymptomSearch asks who reported a symptom.
	IntentSymptomSearch Intent = "symptom_search"
	// IntentMedicationInfo asks about medication or treatment.
	IntentMedicationInfo Intent = "medication_info"
	// IntentTemporalQuery asks about a time period or visit date.
	IntentTemporalQuery Intent = "temporal_query"
	// IntentGeneralQuery is the fallback when no rule matches.
	IntentGeneralQuery Intent = "general_query"
	// IntentUnknown is reserved for responses built without analysis,
	// for example error paths. Analyze never returns it.
	IntentUnknown Intent = "unknown"
)

// maxSearchTerms caps the search term list of a plan.
const maxSearchTerms = 10

// minTermLen is the shortest term (in runes) kept as a search term or
// patient name.
const minTermLen = 3

// Entities holds every recognized token of a query, grouped by type.
// Patients keep their original capitalization; all other groups hold the
// canonical lexicon form.
type Entities struct {
	Patients    []string
	Conditions  []string
	Symptoms    []string
	Medications []string
	Dates       []string
}

// Count returns the total number of recognized entities across all groups.
func (e Entities) Count() int {
	return len(e.Patients) + len(e.Conditions) + len(e.Symptoms) + len(e.Medications) + len(e.Dates)
}

// Filters are the metadata constraints derived from entities and intent.
// Zero values mean no constraint.
type Filters struct {
	// PatientName is set for single-patient queries and drives the
	// patient-scoped retrieval strategy.
	PatientName string
	// Condition is set for condition-list queries; retrieval requires the
	// token to appear in the diagnosis, symptoms or payload of a hit.
	Condition string
}

// Plan is the full analysis of one query. It is ephemeral: built per
// request, never stored.
type Plan struct {
	RawQuery    string
	Normalized  string
	Intent      Intent
	Entities    Entities
	Filters     Filters
	SearchTerms []string
}

// Analyzer classifies queries and extracts entities. It is immutable after
// construction and safe for concurrent use.
type Analyzer struct {
	rules []intentRule
}

type intentRule struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// NewAnalyzer compiles the intent ruleset and returns a ready Analyzer.
func NewAnalyzer() *Analyzer {
	rules := make([]intentRule, 0, len(intentRuleset))
	for _, spec := range intentRuleset {
		rule := intentRule{intent: spec.intent}
		for _, p := range spec.patterns {
			rule.patterns = append(rule.patterns, regexp.MustCompile(p))
		}
		rules = append(rules, rule)
	}
	return &Analyzer{rules: rules}
}

// Analyze builds the retrieval plan for a raw query. It never fails: a
// query nothing matches still yields a [IntentGeneralQuery] plan whose
// search terms are the query's own content words.
func (a *Analyzer) Analyze(raw string) Plan {
	normalized := Normalize(raw)

	plan := Plan{
		RawQuery:   strings.TrimSpace(raw),
		Normalized: normalized,
		Intent:     a.detectIntent(normalized),
	}
	plan.Entities = extractEntities(plan.RawQuery, normalized)
	plan.Filters = deriveFilters(plan.Intent, plan.Entities)
	plan.SearchTerms = buildSearchTerms(normalized, plan.Entities)
	return plan
}

// Normalize prepares a query for matching: lowercase, Spanish diacritics
// folded to base letters, inverted punctuation and terminal ?! removed,
// whitespace collapsed to single spaces.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Map(func(r rune) rune {
		switch r {
		case 'á':
			return 'a'
		case 'é':
			return 'e'
		case 'í':
			return 'i'
		case 'ó':
			return 'o'
		case 'ú', 'ü':
			return 'u'
		case 'ñ':
			return 'n'
		case '¿', '¡', '?', '!':
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func (a *Analyzer) detectIntent(normalized string) Intent {
	for _, rule := range a.rules {
		for _, p := range rule.patterns {
			if p.MatchString(normalized) {
				return rule.intent
			}
		}
	}
	return IntentGeneralQuery
}

// patientNamePattern matches runs of capitalized words in the raw query,
// accent-aware so "Pepito Gómez" is captured whole.
var patientNamePattern = regexp.MustCompile(`\p{Lu}\p{Ll}+(?:\s+\p{Lu}\p{Ll}+)*`)

func extractEntities(raw, normalized string) Entities {
	var ents Entities

	for _, m := range patientNamePattern.FindAllString(raw, -1) {
		name := trimNameStopwords(m)
		if utf8.RuneCountInString(name) < minTermLen {
			continue
		}
		if !containsString(ents.Patients, name) {
			ents.Patients = append(ents.Patients, name)
		}
	}

	for _, cond := range conditionLexicon {
		for _, syn := range cond.synonyms {
			if containsTerm(normalized, Normalize(syn)) {
				if !containsString(ents.Conditions, cond.canonical) {
					ents.Conditions = append(ents.Conditions, cond.canonical)
				}
				break
			}
		}
	}

	for _, symptom := range symptomLexicon {
		if containsTerm(normalized, Normalize(symptom)) {
			ents.Symptoms = append(ents.Symptoms, symptom)
		}
	}

	for _, med := range medicationLexicon {
		if containsTerm(normalized, Normalize(med)) {
			ents.Medications = append(ents.Medications, med)
		}
	}

	for _, p := range datePatterns {
		for _, m := range p.FindAllString(normalized, -1) {
			if !containsString(ents.Dates, m) {
				ents.Dates = append(ents.Dates, m)
			}
		}
	}

	return ents
}

// trimNameStopwords drops leading and trailing capitalized words that are
// question or filler words rather than name parts, so "Qué enfermedad tiene
// Pepito Gómez" yields "Pepito Gómez" and not "Qué".
func trimNameStopwords(run string) string {
	words := strings.Fields(run)
	for len(words) > 0 && nameStopwords[Normalize(words[0])] {
		words = words[1:]
	}
	for len(words) > 0 && nameStopwords[Normalize(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func deriveFilters(intent Intent, ents Entities) Filters {
	var f Filters
	if intent == IntentPatientInfo && len(ents.Patients) == 1 {
		f.PatientName = ents.Patients[0]
	}
	if intent == IntentConditionList && len(ents.Conditions) > 0 {
		f.Condition = ents.Conditions[0]
	}
	return f
}

// buildSearchTerms assembles the deduplicated term list: entities first
// (they carry the most signal), then the residual content words of the
// query, then up to three lexicon synonyms per recognized condition.
// Terms shorter than minTermLen runes are dropped and the list is capped
// at maxSearchTerms.
func buildSearchTerms(normalized string, ents Entities) []string {
	var terms []string
	seen := make(map[string]bool)

	add := func(term string) {
		term = strings.TrimSpace(strings.ToLower(term))
		if utf8.RuneCountInString(term) < minTermLen || seen[term] {
			return
		}
		seen[term] = true
		terms = append(terms, term)
	}

	for _, p := range ents.Patients {
		add(p)
	}
	for _, c := range ents.Conditions {
		add(c)
	}
	for _, s := range ents.Symptoms {
		add(s)
	}
	for _, m := range ents.Medications {
		add(m)
	}
	for _, d := range ents.Dates {
		add(d)
	}

	for _, tok := range strings.Fields(normalized) {
		if stopwords[tok] {
			continue
		}
		add(tok)
	}

	for _, cond := range conditionLexicon {
		if !containsString(ents.Conditions, cond.canonical) {
			continue
		}
		for i, syn := range cond.synonyms {
			if i == 3 {
				break
			}
			add(syn)
		}
	}

	if len(terms) > maxSearchTerms {
		terms = terms[:maxSearchTerms]
	}
	return terms
}

// MatchesTerm reports whether term occurs in text on word boundaries,
// comparing both sides in normalized form. It is how retrieval decides
// whether an indexed entry actually mentions an entity.
func MatchesTerm(text, term string) bool {
	return containsTerm(Normalize(text), Normalize(term))
}

// containsTerm reports whether term occurs in text on word boundaries.
// Substring hits inside longer words do not count, so "tos" never fires
// on "cuantos".
func containsTerm(text, term string) bool {
	if term == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], term)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(term)
		if boundaryBefore(text, idx) && boundaryAfter(text, end) {
			return true
		}
		start = idx + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r > 127
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
