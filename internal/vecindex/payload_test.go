package vecindex

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildPayload(t *testing.T) {
	md := Metadata{
		PatientName: "Pepito Gómez",
		Diagnosis:   "migraña crónica",
		Medications: []string{"paracetamol", "ibuprofeno"},
		Symptoms:    []string{"dolor de cabeza", "náuseas"},
		Context:     "consulta de seguimiento",
	}

	got := BuildPayload("El paciente refiere dolor.", md)
	want := "El paciente refiere dolor." +
		" | Paciente: Pepito Gómez" +
		" | Diagnóstico: migraña crónica" +
		" | Medicamentos: paracetamol, ibuprofeno" +
		" | Síntomas: dolor de cabeza, náuseas" +
		" | Contexto: consulta de seguimiento"
	if got != want {
		t.Errorf("BuildPayload() =\n  %q\nwant\n  %q", got, want)
	}
}

func TestBuildPayload_SkipsEmptyParts(t *testing.T) {
	got := BuildPayload("Texto base.", Metadata{Diagnosis: "diabetes tipo 2"})
	want := "Texto base. | Diagnóstico: diabetes tipo 2"
	if got != want {
		t.Errorf("BuildPayload() = %q, want %q", got, want)
	}
}

func TestBuildPayload_TextOnly(t *testing.T) {
	if got := BuildPayload("  hola  ", Metadata{}); got != "hola" {
		t.Errorf("BuildPayload() = %q, want %q", got, "hola")
	}
}

func TestBuildPayload_MetadataOnly(t *testing.T) {
	got := BuildPayload("", Metadata{PatientName: "Ana"})
	if got != "Paciente: Ana" {
		t.Errorf("BuildPayload() = %q, want %q", got, "Paciente: Ana")
	}
}

func TestBuildPayload_Empty(t *testing.T) {
	if got := BuildPayload("", Metadata{}); got != "" {
		t.Errorf("BuildPayload() = %q, want empty", got)
	}
}

func TestBuildPayload_Truncation(t *testing.T) {
	text := strings.Repeat("ñ", maxPayloadChars+100)
	got := BuildPayload(text, Metadata{PatientName: "Ana"})

	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated payload should end in ellipsis, got tail %q", got[len(got)-10:])
	}
	if n := utf8.RuneCountInString(got); n != maxPayloadChars+3 {
		t.Errorf("truncated payload has %d runes, want %d", n, maxPayloadChars+3)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a UTF-8 sequence")
	}
}

func TestBuildPayload_NoTruncationAtLimit(t *testing.T) {
	text := strings.Repeat("a", maxPayloadChars)
	got := BuildPayload(text, Metadata{})
	if got != text {
		t.Errorf("payload at the limit should pass through unchanged, got %d runes", utf8.RuneCountInString(got))
	}
}
