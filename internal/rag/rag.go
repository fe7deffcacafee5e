// Package rag generates grounded answers to medical queries from retrieved
// context.
//
// The generator picks a prompt template by query intent, assembles the
// retrieved excerpts into a bounded context block and asks the language
// model for an answer constrained to that context. Answers are validated
// before they leave the package: trimmed to a fixed length, stamped with a
// medical disclaimer and replaced with a fixed fallback sentence when the
// model produced nothing usable. A query with no retrieved context never
// reaches the model at all.
//
// Each answer carries a confidence score derived from retrieval similarity,
// entity coverage and source count, so callers can distinguish a grounded
// answer from a guess.
package rag

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/clinvox/clinvox/internal/query"
	"github.com/clinvox/clinvox/internal/retrieve"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/provider/llm"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 800
)

// maxAnswerRunes caps the answer text before the disclaimer is appended.
const maxAnswerRunes = 2000

// maxSources bounds the source attributions attached to an answer.
const maxSources = 5

// maxFollowUps bounds the suggested follow-up questions.
const maxFollowUps = 3

// Confidence model weights. The score combines how similar the retrieved
// contexts were, how many of the query's entities they actually mention
// and how many independent sources back the answer; an answer that admits
// insufficiency loses a step.
const (
	confSimilarityWeight  = 0.60
	confEntityWeight      = 0.20
	confSourcesWeight     = 0.15
	confIncompletePenalty = 0.05

	confFloor = 0.10
	confCeil  = 0.95

	// fullSourceCount is the source count at which the source term
	// saturates.
	fullSourceCount = 3.0
)

// Source attributes part of an answer to one indexed record.
type Source struct {
	// ID is the ingestion record behind the context entry.
	ID string `json:"conversation_id"`

	// Kind says whether the record is a recording or a document.
	Kind vecindex.SourceKind `json:"kind"`

	PatientName string `json:"patient_name,omitempty"`

	// Relevance is the final ranked score of the context.
	Relevance float64 `json:"relevance_score"`

	Excerpt string `json:"excerpt,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Answer is a complete generated response.
type Answer struct {
	// Text is the validated answer, disclaimer included.
	Text string `json:"answer"`

	// Confidence is in [0.10, 0.95]; higher means better grounded.
	Confidence float64 `json:"confidence"`

	// Intent echoes the classification the answer was generated under.
	Intent query.Intent `json:"intent"`

	// Fallback is true when Text is the fixed fallback sentence rather
	// than model output.
	Fallback bool `json:"-"`

	Sources   []Source `json:"sources,omitempty"`
	FollowUps []string `json:"follow_up_suggestions,omitempty"`
}

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithTemperature sets the sampling temperature. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(g *Generator) {
		g.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 800.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// Generator produces answers through an [llm.Provider]. It is stateless and
// safe for concurrent use.
type Generator struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns a Generator backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate answers the analyzed query from the retrieved hits. With no hits
// it returns the fallback answer without consulting the model; the model is
// never asked to answer from thin air. Model failures surface as errors,
// untouched.
func (g *Generator) Generate(ctx context.Context, plan query.Plan, hits []retrieve.Hit) (*Answer, error) {
	if len(hits) == 0 {
		return &Answer{
			Text:       fallbackAnswer,
			Confidence: confFloor,
			Intent:     plan.Intent,
			Fallback:   true,
			FollowUps:  followUps(plan),
		}, nil
	}

	prompt := renderPrompt(plan, assembleContext(hits))

	resp, err := g.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: generate answer: %w", err)
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}

	ans := &Answer{
		Intent:    plan.Intent,
		Sources:   buildSources(hits),
		FollowUps: followUps(plan),
	}
	if text == "" {
		ans.Text = fallbackAnswer
		ans.Fallback = true
		ans.Confidence = confFloor
		return ans, nil
	}

	incomplete := admitsInsufficiency(text)
	ans.Text = clampAnswer(text) + disclaimer
	ans.Confidence = confidence(hits, plan, incomplete)
	return ans, nil
}

// renderPrompt fills the intent's template with the context block and the
// original query.
func renderPrompt(plan query.Plan, contextBlock string) string {
	switch plan.Intent {
	case query.IntentPatientInfo:
		return fmt.Sprintf(patientInfoTemplate, contextBlock, plan.RawQuery)
	case query.IntentConditionList:
		return fmt.Sprintf(conditionListTemplate, contextBlock, plan.RawQuery)
	case query.IntentSymptomSearch:
		return fmt.Sprintf(symptomSearchTemplate, contextBlock, plan.RawQuery)
	case query.IntentMedicationInfo:
		return fmt.Sprintf(medicationInfoTemplate, contextBlock, plan.RawQuery)
	case query.IntentTemporalQuery:
		return fmt.Sprintf(temporalQueryTemplate, contextBlock, plan.RawQuery)
	default:
		return fmt.Sprintf(generalQueryTemplate, contextBlock, plan.RawQuery, describeEntities(plan.Entities))
	}
}

// describeEntities renders the recognized entities for the general
// template, one group per segment, empty groups omitted.
func describeEntities(ents query.Entities) string {
	var parts []string
	if len(ents.Patients) > 0 {
		parts = append(parts, "pacientes: "+strings.Join(ents.Patients, ", "))
	}
	if len(ents.Conditions) > 0 {
		parts = append(parts, "condiciones: "+strings.Join(ents.Conditions, ", "))
	}
	if len(ents.Symptoms) > 0 {
		parts = append(parts, "síntomas: "+strings.Join(ents.Symptoms, ", "))
	}
	if len(ents.Medications) > 0 {
		parts = append(parts, "medicamentos: "+strings.Join(ents.Medications, ", "))
	}
	if len(ents.Dates) > 0 {
		parts = append(parts, "fechas: "+strings.Join(ents.Dates, ", "))
	}
	if len(parts) == 0 {
		return "ninguna"
	}
	return strings.Join(parts, "; ")
}

// clampAnswer trims the answer to maxAnswerRunes, marking the cut.
func clampAnswer(text string) string {
	runes := []rune(text)
	if len(runes) <= maxAnswerRunes {
		return text
	}
	return string(runes[:maxAnswerRunes]) + "..."
}

// admitsInsufficiency reports whether the model flagged missing context.
func admitsInsufficiency(text string) bool {
	normalized := query.Normalize(text)
	for _, marker := range insufficiencyMarkers {
		if strings.Contains(normalized, query.Normalize(marker)) {
			return true
		}
	}
	return false
}

// buildSources attributes the answer to its top contexts.
func buildSources(hits []retrieve.Hit) []Source {
	n := min(len(hits), maxSources)
	sources := make([]Source, 0, n)
	for _, hit := range hits[:n] {
		sources = append(sources, Source{
			ID:          hit.Entry.SourceID,
			Kind:        hit.Entry.SourceKind,
			PatientName: hit.Entry.Metadata.PatientName,
			Relevance:   hit.Score,
			Excerpt:     hit.Excerpt,
			Date:        hit.Entry.Metadata.Date,
		})
	}
	return sources
}

// confidence scores how well grounded the answer is, in
// [confFloor, confCeil].
func confidence(hits []retrieve.Hit, plan query.Plan, incomplete bool) float64 {
	top := min(len(hits), 3)
	var meanSim float64
	for _, hit := range hits[:top] {
		meanSim += hit.Similarity
	}
	if top > 0 {
		meanSim /= float64(top)
	}

	score := confSimilarityWeight*meanSim +
		confEntityWeight*entityHitRatio(hits, plan) +
		confSourcesWeight*math.Min(float64(len(hits))/fullSourceCount, 1)
	if incomplete {
		score -= confIncompletePenalty
	}

	score = math.Min(math.Max(score, confFloor), confCeil)
	return math.Round(score*100) / 100
}

// entityHitRatio is the fraction of queried entities that appear in at
// least one retrieved context. Zero when the query had no entities.
func entityHitRatio(hits []retrieve.Hit, plan query.Plan) float64 {
	terms := make([]string, 0, plan.Entities.Count())
	terms = append(terms, plan.Entities.Patients...)
	terms = append(terms, plan.Entities.Conditions...)
	terms = append(terms, plan.Entities.Symptoms...)
	terms = append(terms, plan.Entities.Medications...)
	terms = append(terms, plan.Entities.Dates...)
	if len(terms) == 0 {
		return 0
	}

	matched := 0
	for _, term := range terms {
		for _, hit := range hits {
			if query.MatchesTerm(hit.Entry.PayloadText, term) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(terms))
}

// followUps proposes up to maxFollowUps next questions, parameterized with
// the entities the query mentioned.
func followUps(plan query.Plan) []string {
	var suggestions []string
	switch {
	case plan.Intent == query.IntentPatientInfo && len(plan.Entities.Patients) > 0:
		patient := plan.Entities.Patients[0]
		suggestions = []string{
			fmt.Sprintf("¿Qué tratamiento se recomendó para %s?", patient),
			fmt.Sprintf("¿Cuándo fue la última consulta de %s?", patient),
			fmt.Sprintf("¿Qué síntomas reportó %s?", patient),
		}
	case plan.Intent == query.IntentConditionList && len(plan.Entities.Conditions) > 0:
		condition := plan.Entities.Conditions[0]
		suggestions = []string{
			fmt.Sprintf("¿Qué tratamientos hay para %s?", condition),
			fmt.Sprintf("¿Cuántos pacientes nuevos con %s hay este mes?", condition),
			fmt.Sprintf("¿Qué síntomas son más comunes en %s?", condition),
		}
	case plan.Intent == query.IntentSymptomSearch && len(plan.Entities.Symptoms) > 0:
		symptom := plan.Entities.Symptoms[0]
		suggestions = []string{
			fmt.Sprintf("¿Qué pacientes reportaron %s recientemente?", symptom),
			fmt.Sprintf("¿Qué diagnósticos se asociaron con %s?", symptom),
			"¿Puedes mostrarme información de un paciente específico?",
		}
	case plan.Intent == query.IntentMedicationInfo && len(plan.Entities.Medications) > 0:
		med := plan.Entities.Medications[0]
		suggestions = []string{
			fmt.Sprintf("¿Qué pacientes toman %s?", med),
			fmt.Sprintf("¿Desde cuándo se indicó %s?", med),
			"¿Qué otros tratamientos se registraron?",
		}
	case plan.Intent == query.IntentTemporalQuery:
		suggestions = []string{
			"¿Qué pacientes fueron atendidos en ese periodo?",
			"¿Cuál fue el diagnóstico más frecuente en ese periodo?",
			"¿Puedes mostrarme información de un paciente específico?",
		}
	default:
		suggestions = []string{
			"¿Puedes mostrarme información de un paciente específico?",
			"¿Qué pacientes tienen una condición particular?",
			"¿Cuáles son los síntomas más reportados?",
		}
	}
	if len(suggestions) > maxFollowUps {
		suggestions = suggestions[:maxFollowUps]
	}
	return suggestions
}
