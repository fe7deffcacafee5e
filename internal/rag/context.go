package rag

import (
	"fmt"
	"strings"

	"github.com/clinvox/clinvox/internal/retrieve"
)

// maxContexts bounds how many retrieved hits make it into the prompt.
const maxContexts = 5

// maxContextChars bounds the assembled context block.
const maxContextChars = 4000

// truncationNote replaces whatever fell off the end of an oversized
// context block.
const truncationNote = "\n\n[Contexto truncado...]"

// emptyContextNote is what the model sees when retrieval found nothing.
// Only used by callers that insist on generating anyway; Generate itself
// short-circuits to the fallback answer.
const emptyContextNote = "No se encontró información relevante en las conversaciones médicas."

// assembleContext renders the top hits into the numbered block format the
// prompt templates expect: per conversation the patient, date, extracted
// clinical fields, relevance and excerpt.
func assembleContext(hits []retrieve.Hit) string {
	if len(hits) == 0 {
		return emptyContextNote
	}

	var b strings.Builder
	for i, hit := range hits {
		if i == maxContexts {
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}

		patient := hit.Entry.Metadata.PatientName
		if patient == "" {
			patient = "Paciente no identificado"
		}
		date := hit.Entry.Metadata.Date
		if date == "" {
			date = "Fecha no disponible"
		}

		fmt.Fprintf(&b, "CONVERSACIÓN %d:\n", i+1)
		fmt.Fprintf(&b, "Paciente: %s\n", patient)
		fmt.Fprintf(&b, "Fecha: %s\n", date)
		if d := hit.Entry.Metadata.Diagnosis; d != "" {
			fmt.Fprintf(&b, "Diagnóstico: %s\n", d)
		}
		if s := hit.Entry.Metadata.Symptoms; len(s) > 0 {
			fmt.Fprintf(&b, "Síntomas: %s\n", strings.Join(s, ", "))
		}
		if m := hit.Entry.Metadata.Medications; len(m) > 0 {
			fmt.Fprintf(&b, "Medicamentos: %s\n", strings.Join(m, ", "))
		}
		fmt.Fprintf(&b, "Relevancia: %.2f\n", hit.Score)
		fmt.Fprintf(&b, "Contenido: %s\n", excerptOrPayload(hit))
	}

	block := b.String()
	if len([]rune(block)) > maxContextChars {
		block = string([]rune(block)[:maxContextChars]) + truncationNote
	}
	return block
}

// excerptOrPayload prefers the ranked excerpt and falls back to the head of
// the payload when the excerpt is empty.
func excerptOrPayload(hit retrieve.Hit) string {
	if hit.Excerpt != "" {
		return hit.Excerpt
	}
	runes := []rune(hit.Entry.PayloadText)
	if len(runes) > 500 {
		return string(runes[:500]) + "..."
	}
	return hit.Entry.PayloadText
}
