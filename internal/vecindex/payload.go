package vecindex

import "strings"

// maxPayloadChars caps the embedded payload length in characters. Longer
// payloads are cut at a rune boundary and terminated with an ellipsis.
const maxPayloadChars = 8000

// BuildPayload assembles the text that gets embedded for an entry: the source
// text followed by labeled metadata parts in a fixed order (patient,
// diagnosis, medications, symptoms, context), joined by " | ". Embedding the
// labels alongside the raw text is what makes "diagnóstico diabetes" style
// queries land on the right entries even when the transcript itself never
// uses the word.
//
// Empty metadata fields contribute no part. The result is truncated to
// maxPayloadChars characters; the cut never splits a UTF-8 sequence.
func BuildPayload(text string, md Metadata) string {
	parts := make([]string, 0, 6)
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, t)
	}
	if md.PatientName != "" {
		parts = append(parts, "Paciente: "+md.PatientName)
	}
	if md.Diagnosis != "" {
		parts = append(parts, "Diagnóstico: "+md.Diagnosis)
	}
	if len(md.Medications) > 0 {
		parts = append(parts, "Medicamentos: "+strings.Join(md.Medications, ", "))
	}
	if len(md.Symptoms) > 0 {
		parts = append(parts, "Síntomas: "+strings.Join(md.Symptoms, ", "))
	}
	if md.Context != "" {
		parts = append(parts, "Contexto: "+md.Context)
	}

	payload := strings.Join(parts, " | ")
	if runes := []rune(payload); len(runes) > maxPayloadChars {
		payload = string(runes[:maxPayloadChars]) + "..."
	}
	return payload
}
