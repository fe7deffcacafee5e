package diarize

import (
	"regexp"
	"slices"
	"strings"
)

// Phrase patterns typical of each role in Spanish clinical dialogue. The
// first strongPatternCount entries of each list are the unambiguous ones
// that grant a confidence bonus.
var promotorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`buenos días|buenas tardes|hola`),
	regexp.MustCompile(`¿cómo se siente|¿cómo está|¿qué le pasa`),
	regexp.MustCompile(`vamos a revisar|le voy a|necesito que`),
	regexp.MustCompile(`¿desde cuándo|¿cuánto tiempo|¿con qué frecuencia`),
	regexp.MustCompile(`voy a recetarle|le recomiendo|debe tomar`),
	regexp.MustCompile(`¿tiene alguna alergia|¿toma algún medicamento`),
	regexp.MustCompile(`doctor|doctora|médico|enfermero|enfermera`),
}

var patientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`me duele|me siento|tengo dolor`),
	regexp.MustCompile(`desde hace|hace como|hace unos`),
	regexp.MustCompile(`no puedo|no me deja|me impide`),
	regexp.MustCompile(`sí doctor|no doctor|gracias doctor`),
	regexp.MustCompile(`tomo|estoy tomando|me tomo`),
	regexp.MustCompile(`mi familia|mi trabajo|en casa`),
}

const strongPatternCount = 3

// Vocabulary weighted at half a pattern hit. Words the roles share (like
// síntoma) appear in both lists and cancel out.
var medicalKeywords = []string{
	"diagnóstico", "tratamiento", "medicamento", "receta",
	"examen", "análisis", "síntoma", "presión", "temperatura",
	"auscultar", "palpar", "revisar", "prescribir", "recetar",
}

var personalKeywords = []string{
	"dolor", "malestar", "molestia", "síntoma", "siento",
	"familia", "trabajo", "casa", "dormir", "comer",
}

// textScore rates a segment between -1 (patient) and +1 (promotor).
// Each pattern hit counts 1, each keyword hit 0.5; the difference is
// normalized by the total so sparse evidence is not overstated. Zero means
// no evidence either way.
func textScore(text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)

	var promotor, patient float64
	for _, p := range promotorPatterns {
		if p.MatchString(lower) {
			promotor++
		}
	}
	for _, p := range patientPatterns {
		if p.MatchString(lower) {
			patient++
		}
	}
	for _, kw := range medicalKeywords {
		if strings.Contains(lower, kw) {
			promotor += 0.5
		}
	}
	for _, kw := range personalKeywords {
		if strings.Contains(lower, kw) {
			patient += 0.5
		}
	}

	total := promotor + patient
	if total == 0 {
		return 0
	}
	return (promotor - patient) / total
}

// hasStrongPattern reports whether the text contains one of the unambiguous
// role phrases from either list.
func hasStrongPattern(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range promotorPatterns[:strongPatternCount] {
		if p.MatchString(lower) {
			return true
		}
	}
	for _, p := range patientPatterns[:strongPatternCount] {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// Boundary patterns whose first capture group marks where a new utterance
// starts: a question handed over, a greeting, addressing the doctor, a
// switch to first person, or the professional taking an action.
var boundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?\s+([A-ZÁÉÍÓÚ])`),
	regexp.MustCompile(`\.\s+([A-ZÁÉÍÓÚ][a-zñáéíóú]+\s+(?:días?|tardes?|noches?))`),
	regexp.MustCompile(`\.\s+([A-ZÁÉÍÓÚ][a-zñáéíóú]+\s+(?:doctora?))`),
	regexp.MustCompile(`\.\s+([A-ZÁÉÍÓÚ][a-zñáéíóú]+\s+(?:me|mi|yo)\b)`),
	regexp.MustCompile(`\.\s+([A-ZÁÉÍÓÚ][a-zñáéíóú]+\s+(?:le voy|vamos|necesito))`),
}

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// minFragmentChars filters out split fragments too short to classify on
// their own; they are folded into a neighbor instead of dropped so no
// transcript text is lost.
const minFragmentChars = 10

// segmentTranscript splits a raw transcript into utterance-sized parts for
// text-only diarization. Splits happen at role-change boundaries; when none
// are found in a long transcript, sentences are used instead. The whole
// transcript comes back as one part when nothing splits.
func segmentTranscript(transcript string) []string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil
	}

	offsets := boundaryOffsets(transcript)
	parts := splitAt(transcript, offsets)

	if len(parts) == 1 && len(transcript) > 200 {
		parts = splitSentences(transcript)
	}
	if len(parts) == 0 {
		return []string{transcript}
	}
	return parts
}

// boundaryOffsets collects the sorted, deduplicated capture-group starts of
// every boundary pattern.
func boundaryOffsets(text string) []int {
	seen := map[int]bool{}
	var offsets []int
	for _, p := range boundaryPatterns {
		for _, m := range p.FindAllStringSubmatchIndex(text, -1) {
			// m[2] is the start of the first capture group.
			if start := m[2]; !seen[start] {
				seen[start] = true
				offsets = append(offsets, start)
			}
		}
	}
	slices.Sort(offsets)
	return offsets
}

// splitAt cuts text at the given offsets, folding fragments shorter than
// minFragmentChars into the previous part.
func splitAt(text string, offsets []int) []string {
	var parts []string
	prev := 0
	for _, off := range append(offsets, len(text)) {
		if off <= prev {
			continue
		}
		fragment := strings.TrimSpace(text[prev:off])
		prev = off
		if fragment == "" {
			continue
		}
		if len(fragment) < minFragmentChars && len(parts) > 0 {
			parts[len(parts)-1] += " " + fragment
			continue
		}
		parts = append(parts, fragment)
	}
	return parts
}

func splitSentences(text string) []string {
	var offsets []int
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if m[1] < len(text) {
			offsets = append(offsets, m[1])
		}
	}
	return splitAt(text, offsets)
}
