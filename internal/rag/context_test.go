package rag

import (
	"strings"
	"testing"

	"github.com/clinvox/clinvox/internal/retrieve"
	"github.com/clinvox/clinvox/internal/vecindex"
)

func testHit(id, patient, date, payload string, sim, score float64) retrieve.Hit {
	return retrieve.Hit{
		Entry: vecindex.VectorEntry{
			VectorID:    "vec-" + id,
			SourceKind:  vecindex.SourceRecording,
			SourceID:    id,
			PayloadText: payload,
			Metadata: vecindex.Metadata{
				PatientName: patient,
				Date:        date,
			},
		},
		Similarity: sim,
		Score:      score,
	}
}

func TestAssembleContextEmpty(t *testing.T) {
	t.Parallel()

	if got := assembleContext(nil); got != emptyContextNote {
		t.Errorf("assembleContext(nil) = %q, want %q", got, emptyContextNote)
	}
}

func TestAssembleContextFormat(t *testing.T) {
	t.Parallel()

	hit := testHit("rec-1", "Ana López", "2026-03-14", "La paciente presenta cefalea intensa.", 0.9, 0.95)
	hit.Entry.Metadata.Diagnosis = "migraña"
	hit.Entry.Metadata.Symptoms = []string{"cefalea", "náuseas"}
	hit.Entry.Metadata.Medications = []string{"ibuprofeno"}

	got := assembleContext([]retrieve.Hit{hit})

	for _, want := range []string{
		"CONVERSACIÓN 1:",
		"Paciente: Ana López",
		"Fecha: 2026-03-14",
		"Diagnóstico: migraña",
		"Síntomas: cefalea, náuseas",
		"Medicamentos: ibuprofeno",
		"Relevancia: 0.95",
		"Contenido: La paciente presenta cefalea intensa.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
}

func TestAssembleContextDefaults(t *testing.T) {
	t.Parallel()

	got := assembleContext([]retrieve.Hit{testHit("rec-1", "", "", "contenido", 0.8, 0.8)})

	if !strings.Contains(got, "Paciente: Paciente no identificado") {
		t.Errorf("missing patient placeholder:\n%s", got)
	}
	if !strings.Contains(got, "Fecha: Fecha no disponible") {
		t.Errorf("missing date placeholder:\n%s", got)
	}
	if strings.Contains(got, "Diagnóstico:") {
		t.Errorf("empty diagnosis should be omitted:\n%s", got)
	}
	if strings.Contains(got, "Síntomas:") || strings.Contains(got, "Medicamentos:") {
		t.Errorf("empty clinical lists should be omitted:\n%s", got)
	}
}

func TestAssembleContextCapsHits(t *testing.T) {
	t.Parallel()

	hits := make([]retrieve.Hit, 0, maxContexts+2)
	for i := 0; i < maxContexts+2; i++ {
		hits = append(hits, testHit("rec", "Paciente", "2026-01-01", "texto", 0.9, 0.9))
	}

	got := assembleContext(hits)
	if n := strings.Count(got, "CONVERSACIÓN "); n != maxContexts {
		t.Errorf("got %d conversation blocks, want %d", n, maxContexts)
	}
}

func TestAssembleContextTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("á", 3000)
	hits := []retrieve.Hit{
		{Entry: vecindex.VectorEntry{SourceID: "a", PayloadText: "x", Metadata: vecindex.Metadata{}}, Score: 0.9, Excerpt: long},
		{Entry: vecindex.VectorEntry{SourceID: "b", PayloadText: "x", Metadata: vecindex.Metadata{}}, Score: 0.8, Excerpt: long},
	}

	got := assembleContext(hits)
	if !strings.HasSuffix(got, truncationNote) {
		t.Fatalf("oversized context should end with truncation note, got tail %q", got[len(got)-40:])
	}
	if n := len([]rune(got)); n != maxContextChars+len([]rune(truncationNote)) {
		t.Errorf("truncated context is %d runes, want %d", n, maxContextChars+len([]rune(truncationNote)))
	}
}

func TestExcerptOrPayload(t *testing.T) {
	t.Parallel()

	withExcerpt := testHit("rec-1", "Ana", "", "payload completo", 0.9, 0.9)
	withExcerpt.Excerpt = "extracto elegido"
	if got := excerptOrPayload(withExcerpt); got != "extracto elegido" {
		t.Errorf("excerptOrPayload = %q, want the excerpt", got)
	}

	longPayload := testHit("rec-2", "Ana", "", strings.Repeat("é", 600), 0.9, 0.9)
	got := excerptOrPayload(longPayload)
	if wantLen := 500 + len("..."); len([]rune(got)) != wantLen {
		t.Errorf("long payload head is %d runes, want %d", len([]rune(got)), wantLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long payload head should be marked as cut, got tail %q", got[len(got)-10:])
	}

	shortPayload := testHit("rec-3", "Ana", "", "breve", 0.9, 0.9)
	if got := excerptOrPayload(shortPayload); got != "breve" {
		t.Errorf("excerptOrPayload = %q, want full short payload", got)
	}
}
