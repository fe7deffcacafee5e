package query

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"question marks stripped", "¿Qué enfermedad tiene Pepito Gómez?", "que enfermedad tiene pepito gomez"},
		{"exclamation stripped", "¡Listame los pacientes con diabetes!", "listame los pacientes con diabetes"},
		{"whitespace collapsed", "  qué   pacientes \t hay  ", "que pacientes hay"},
		{"enie folded", "¿Tiene migraña el niño?", "tiene migrana el nino"},
		{"already plain", "tratamiento de la gripe", "tratamiento de la gripe"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAnalyzeIntent(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()

	tests := []struct {
		name  string
		query string
		want  Intent
	}{
		{"patient enfermedad", "¿Qué enfermedad tiene Pepito Gómez?", IntentPatientInfo},
		{"patient padece", "¿Qué padece Ana López?", IntentPatientInfo},
		{"patient info de", "Información del paciente Juan Pérez", IntentPatientInfo},
		{"condition listame", "Listame los pacientes con diabetes", IntentConditionList},
		{"condition quienes", "¿Quiénes padecen hipertensión?", IntentConditionList},
		{"condition cuantos", "¿Cuántos pacientes con asma hay?", IntentConditionList},
		{"symptom quien", "¿Quién tiene dolor de cabeza?", IntentSymptomSearch},
		{"medication toma", "¿Qué medicamento toma Carlos Ruiz?", IntentMedicationInfo},
		{"medication para", "Medicamentos para la gripe", IntentMedicationInfo},
		{"temporal ultima", "¿Cuándo fue la última consulta de María?", IntentTemporalQuery},
		{"general fallback", "Resumen general del estado de salud", IntentGeneralQuery},
		{"empty", "", IntentGeneralQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan := a.Analyze(tt.query)
			if plan.Intent != tt.want {
				t.Errorf("Analyze(%q).Intent = %q, want %q", tt.query, plan.Intent, tt.want)
			}
		})
	}
}

func TestAnalyzeFirstMatchWins(t *testing.T) {
	t.Parallel()

	// Contains both a patient-info trigger ("que ... tiene") and a
	// condition trigger ("pacientes ... diabetes"); the patient rule is
	// ordered first.
	plan := NewAnalyzer().Analyze("¿Qué pacientes dice el registro que tienen diabetes?")
	if plan.Intent != IntentPatientInfo {
		t.Errorf("Intent = %q, want %q (first matching rule)", plan.Intent, IntentPatientInfo)
	}
}

func TestAnalyzePatientEntities(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"accented full name", "¿Qué enfermedad tiene Pepito Gómez?", []string{"Pepito Gómez"}},
		{"question word not a name", "¿Quién tiene fiebre?", nil},
		{"leading verb trimmed", "Muéstrame la información de Ana López", []string{"Ana López"}},
		{"lowercase query has no names", "que enfermedad tiene pepito gomez", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := a.Analyze(tt.query).Entities.Patients
			if len(got) != len(tt.want) {
				t.Fatalf("Patients = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Patients[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAnalyzeConditionSynonyms(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()

	tests := []struct {
		query string
		want  string
	}{
		{"Listame los pacientes con diabetes", "diabetes"},
		{"¿Quiénes tienen la glucosa alta?", "diabetes"},
		{"pacientes con presión alta", "hipertensión"},
		{"¿Quién tuvo influenza este mes?", "gripe"},
		{"casos de jaqueca", "migraña"},
	}
	for _, tt := range tests {
		plan := a.Analyze(tt.query)
		if len(plan.Entities.Conditions) == 0 || plan.Entities.Conditions[0] != tt.want {
			t.Errorf("Analyze(%q).Conditions = %v, want [%q]", tt.query, plan.Entities.Conditions, tt.want)
		}
	}
}

func TestAnalyzeSymptomBoundaries(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()

	// "cuantos" contains "tos" as a substring; a word-boundary match must
	// not report it as a symptom.
	plan := a.Analyze("¿Cuántos pacientes hay registrados?")
	for _, s := range plan.Entities.Symptoms {
		if s == "tos" {
			t.Fatalf("Symptoms = %v, %q matched inside another word", plan.Entities.Symptoms, s)
		}
	}

	plan = a.Analyze("¿Quién tiene tos y fiebre?")
	wantSymptoms := map[string]bool{"tos": true, "fiebre": true}
	for _, s := range plan.Entities.Symptoms {
		delete(wantSymptoms, s)
	}
	if len(wantSymptoms) != 0 {
		t.Errorf("Symptoms = %v, missing %v", plan.Entities.Symptoms, wantSymptoms)
	}
}

func TestAnalyzeMedications(t *testing.T) {
	t.Parallel()

	plan := NewAnalyzer().Analyze("¿El paciente toma metformina o insulina?")
	got := plan.Entities.Medications
	if len(got) != 2 || got[0] != "metformina" || got[1] != "insulina" {
		t.Errorf("Medications = %v, want [metformina insulina]", got)
	}
}

func TestAnalyzeDates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  string
	}{
		{"¿Qué pacientes vinieron ayer?", "ayer"},
		{"consultas de la semana pasada", "semana pasada"},
		{"la consulta del 12/03/2024", "12/03/2024"},
		{"registros desde 2024-01-15", "2024-01-15"},
	}
	for _, tt := range tests {
		plan := NewAnalyzer().Analyze(tt.query)
		found := false
		for _, d := range plan.Entities.Dates {
			if d == tt.want {
				found = true
			}
		}
		if !found {
			t.Errorf("Analyze(%q).Dates = %v, want to contain %q", tt.query, plan.Entities.Dates, tt.want)
		}
	}
}

func TestAnalyzeFilters(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()

	t.Run("single patient sets filter", func(t *testing.T) {
		t.Parallel()
		plan := a.Analyze("¿Qué enfermedad tiene Pepito Gómez?")
		if plan.Filters.PatientName != "Pepito Gómez" {
			t.Errorf("PatientName = %q, want %q", plan.Filters.PatientName, "Pepito Gómez")
		}
	})

	t.Run("two patients set no filter", func(t *testing.T) {
		t.Parallel()
		plan := a.Analyze("¿Qué enfermedad tiene Ana López comparada con Juan Pérez?")
		if plan.Filters.PatientName != "" {
			t.Errorf("PatientName = %q, want empty for ambiguous patient", plan.Filters.PatientName)
		}
	})

	t.Run("condition list sets condition", func(t *testing.T) {
		t.Parallel()
		plan := a.Analyze("Listame los pacientes con diabetes")
		if plan.Filters.Condition != "diabetes" {
			t.Errorf("Condition = %q, want %q", plan.Filters.Condition, "diabetes")
		}
	})

	t.Run("general query sets nothing", func(t *testing.T) {
		t.Parallel()
		plan := a.Analyze("estado general de los registros")
		if plan.Filters != (Filters{}) {
			t.Errorf("Filters = %+v, want zero", plan.Filters)
		}
	})
}

func TestSearchTerms(t *testing.T) {
	t.Parallel()

	plan := NewAnalyzer().Analyze("Listame los pacientes con diabetes")

	if len(plan.SearchTerms) == 0 {
		t.Fatal("no search terms produced")
	}
	if plan.SearchTerms[0] != "diabetes" {
		t.Errorf("SearchTerms[0] = %q, want entity first", plan.SearchTerms[0])
	}
	for _, term := range plan.SearchTerms {
		if stopwords[term] {
			t.Errorf("stopword %q leaked into search terms", term)
		}
		if len([]rune(term)) < minTermLen {
			t.Errorf("term %q shorter than %d runes", term, minTermLen)
		}
	}
	// Synonym expansion pulls in the first lexicon synonyms.
	joined := strings.Join(plan.SearchTerms, " ")
	if !strings.Contains(joined, "glucosa") {
		t.Errorf("SearchTerms = %v, want diabetes synonyms expanded", plan.SearchTerms)
	}
}

func TestSearchTermsDeterministic(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	first := a.Analyze("¿Qué medicamento toma Carlos Ruiz para la hipertensión?").SearchTerms
	for range 10 {
		again := a.Analyze("¿Qué medicamento toma Carlos Ruiz para la hipertensión?").SearchTerms
		if len(again) != len(first) {
			t.Fatalf("term count changed between runs: %v vs %v", first, again)
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("term order changed between runs: %v vs %v", first, again)
			}
		}
	}
}

func TestSearchTermsCap(t *testing.T) {
	t.Parallel()

	long := "Pepito Gómez con diabetes hipertensión asma migraña covid gripe " +
		"dolor fiebre tos mareos nausea vomito diarrea fatiga cansancio debilidad " +
		"paracetamol ibuprofeno aspirina ayer"
	plan := NewAnalyzer().Analyze(long)
	if len(plan.SearchTerms) > maxSearchTerms {
		t.Errorf("len(SearchTerms) = %d, want at most %d", len(plan.SearchTerms), maxSearchTerms)
	}
}

func TestContainsTerm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		term string
		want bool
	}{
		{"quien tiene tos", "tos", true},
		{"cuantos pacientes", "tos", false},
		{"presion alta detectada", "presion alta", true},
		{"la presiona mucho", "presion", false},
		{"tos", "tos", true},
		{"", "tos", false},
		{"algo", "", false},
	}
	for _, tt := range tests {
		if got := containsTerm(tt.text, tt.term); got != tt.want {
			t.Errorf("containsTerm(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
		}
	}
}
