package extract

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DocumentMetadata is the typed result of document-scoped extraction.
type DocumentMetadata struct {
	PatientName  string   `json:"patient_name,omitempty"`
	DocumentDate string   `json:"document_date,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
	Conditions   []string `json:"conditions,omitempty"`
	Medications  []string `json:"medications,omitempty"`
	Procedures   []string `json:"procedures,omitempty"`
}

// fieldRule accepts one incoming JSON key: canonical is the key the cleaned
// value is stored under, clean validates and coerces the raw value.
type fieldRule struct {
	canonical string
	clean     func(any) (any, bool)
}

// structuredRules is the closed schema for ExtractStructured. Spanish keys
// (with and without accents) are aliases for models that answer in the
// language of the transcript despite the prompt.
var structuredRules = map[string]fieldRule{
	"name":         {"name", cleanString},
	"nombre":       {"name", cleanString},
	"age":          {"age", cleanAge},
	"edad":         {"age", cleanAge},
	"date":         {"date", cleanDate},
	"fecha":        {"date", cleanDate},
	"diagnosis":    {"diagnosis", cleanString},
	"diagnostico":  {"diagnosis", cleanString},
	"diagnóstico":  {"diagnosis", cleanString},
	"physician":    {"physician", cleanString},
	"medico":       {"physician", cleanString},
	"médico":       {"physician", cleanString},
	"medications":  {"medications", cleanStringList},
	"medicamentos": {"medications", cleanStringList},
	"phone":        {"phone", cleanString},
	"telefono":     {"phone", cleanString},
	"teléfono":     {"phone", cleanString},
	"email":        {"email", cleanEmail},
}

// unstructuredRules is the closed schema for ExtractUnstructured.
var unstructuredRules = map[string]fieldRule{
	"symptoms":        {"symptoms", cleanStringList},
	"sintomas":        {"symptoms", cleanStringList},
	"síntomas":        {"symptoms", cleanStringList},
	"context":         {"context", cleanString},
	"contexto":        {"context", cleanString},
	"observations":    {"observations", cleanString},
	"observaciones":   {"observations", cleanString},
	"emotions":        {"emotions", cleanStringList},
	"emociones":       {"emotions", cleanStringList},
	"urgency":         {"urgency", cleanUrgency},
	"urgencia":        {"urgency", cleanUrgency},
	"recommendations": {"recommendations", cleanStringList},
	"recomendaciones": {"recommendations", cleanStringList},
	"questions":       {"questions", cleanStringList},
	"preguntas":       {"questions", cleanStringList},
	"answers":         {"answers", cleanStringList},
	"respuestas":      {"answers", cleanStringList},
}

// documentRules is the closed schema for ExtractDocument. The longer
// medical_* keys match an older prompt revision some fallback models still
// reproduce.
var documentRules = map[string]fieldRule{
	"patient_name":       {"patient_name", cleanString},
	"document_date":      {"document_date", cleanDate},
	"document_type":      {"document_type", cleanString},
	"conditions":         {"conditions", cleanStringList},
	"medical_conditions": {"conditions", cleanStringList},
	"medications":        {"medications", cleanStringList},
	"procedures":         {"procedures", cleanStringList},
	"medical_procedures": {"procedures", cleanStringList},
}

// applyRules filters raw through the field rules, keeping only recognized
// keys with valid values and folding aliases onto their canonical name.
// A canonical key wins over its aliases when both appear.
func applyRules(raw map[string]any, rules map[string]fieldRule) map[string]any {
	out := make(map[string]any, len(raw))
	for key, v := range raw {
		rule, ok := rules[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		cleaned, ok := rule.clean(v)
		if !ok {
			continue
		}
		if _, exists := out[rule.canonical]; exists && key != rule.canonical {
			continue
		}
		out[rule.canonical] = cleaned
	}
	return out
}

// documentFromRaw lifts the validated fields into the typed result.
func documentFromRaw(raw map[string]any) DocumentMetadata {
	fields := applyRules(raw, documentRules)
	var md DocumentMetadata
	if v, ok := fields["patient_name"].(string); ok {
		md.PatientName = v
	}
	if v, ok := fields["document_date"].(string); ok {
		md.DocumentDate = v
	}
	if v, ok := fields["document_type"].(string); ok {
		md.DocumentType = v
	}
	if v, ok := fields["conditions"].([]string); ok {
		md.Conditions = v
	}
	if v, ok := fields["medications"].([]string); ok {
		md.Medications = v
	}
	if v, ok := fields["procedures"].([]string); ok {
		md.Procedures = v
	}
	return md
}

func cleanString(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, false
	}
	return s, true
}

// cleanAge accepts whole numbers in [0, 150], as JSON numbers or digit
// strings.
func cleanAge(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 || n > 150 {
			return nil, false
		}
		return int(n), true
	case string:
		age, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || age < 0 || age > 150 {
			return nil, false
		}
		return age, true
	}
	return nil, false
}

// cleanDate accepts YYYY-MM-DD strings only.
func cleanDate(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return nil, false
	}
	return s, true
}

func cleanEmail(v any) (any, bool) {
	s, ok := cleanString(v)
	if !ok || !strings.Contains(s.(string), "@") {
		return nil, false
	}
	return s, true
}

// cleanStringList keeps non-blank string elements and drops everything else.
// An empty result counts as absent.
func cleanStringList(v any) (any, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// cleanUrgency normalizes the urgency level to low/medium/high, accepting
// the Spanish values the models tend to produce for Spanish transcripts.
func cleanUrgency(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "baja":
		return "low", true
	case "medium", "media":
		return "medium", true
	case "high", "alta":
		return "high", true
	}
	return nil, false
}
