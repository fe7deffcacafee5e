package diarize

import (
	"strings"
	"testing"
)

func TestTextScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		// want is a sign expectation: +1 promotor, -1 patient, 0 neutral.
		want int
	}{
		{"promotor greeting and exam", "Buenos días, ¿cómo se siente hoy? Vamos a revisar su presión.", 1},
		{"promotor prescribing", "Le recomiendo este tratamiento, debe tomar el medicamento en ayunas.", 1},
		{"patient complaint", "Me duele la cabeza desde hace tres días y no puedo dormir.", -1},
		{"patient context", "En casa no he podido descansar, mi trabajo me tiene agotado.", -1},
		{"neutral", "El clima está agradable.", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := textScore(tt.text)
			switch {
			case tt.want > 0 && got <= 0.2:
				t.Errorf("textScore(%q) = %v, want clearly promotor", tt.text, got)
			case tt.want < 0 && got >= -0.2:
				t.Errorf("textScore(%q) = %v, want clearly patient", tt.text, got)
			case tt.want == 0 && got != 0:
				t.Errorf("textScore(%q) = %v, want 0", tt.text, got)
			}
			if got < -1 || got > 1 {
				t.Errorf("textScore(%q) = %v, out of [-1, 1]", tt.text, got)
			}
		})
	}
}

func TestTextScore_CaseInsensitive(t *testing.T) {
	t.Parallel()

	if textScore("BUENOS DÍAS, ¿CÓMO SE SIENTE?") <= 0 {
		t.Error("upper-case promotor text should still score positive")
	}
}

func TestHasStrongPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"Buenos días, pase adelante", true},
		{"Me duele mucho el estómago", true},
		{"Necesito que respire profundo", true},
		{"Voy a recetarle paracetamol", false},
		{"El clima está agradable", false},
	}
	for _, tt := range tests {
		if got := hasStrongPattern(tt.text); got != tt.want {
			t.Errorf("hasStrongPattern(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestSegmentTranscript(t *testing.T) {
	t.Parallel()

	transcript := "Buenos días, ¿cómo se siente? Me duele mucho la cabeza desde hace días. Ahora vamos a revisar su presión."
	parts := segmentTranscript(transcript)

	want := []string{
		"Buenos días, ¿cómo se siente?",
		"Me duele mucho la cabeza desde hace días.",
		"Ahora vamos a revisar su presión.",
	}
	if len(parts) != len(want) {
		t.Fatalf("segmentTranscript() = %q, want %d parts", parts, len(want))
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, parts[i], want[i])
		}
	}
}

func TestSegmentTranscript_SentenceFallback(t *testing.T) {
	t.Parallel()

	// No boundary pattern matches, but the text is long enough to fall
	// back to sentence splitting.
	transcript := strings.TrimSpace(strings.Repeat("la consulta de control fue tranquila y sin novedades. ", 6))
	parts := segmentTranscript(transcript)

	if len(parts) < 2 {
		t.Errorf("long transcript should split into sentences, got %d part(s)", len(parts))
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			t.Error("empty part in split result")
		}
	}
}

func TestSegmentTranscript_ShortText(t *testing.T) {
	t.Parallel()

	parts := segmentTranscript("hola")
	if len(parts) != 1 || parts[0] != "hola" {
		t.Errorf("segmentTranscript(short) = %q, want the text whole", parts)
	}
}

func TestSegmentTranscript_Empty(t *testing.T) {
	t.Parallel()

	if parts := segmentTranscript("   "); len(parts) != 0 {
		t.Errorf("segmentTranscript(blank) = %q, want none", parts)
	}
}
