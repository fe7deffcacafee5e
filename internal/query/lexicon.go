package query

import "regexp"

// intentRuleset is the ordered classification ruleset. Rules are tried top
// to bottom and within a rule top to bottom; the first matching pattern
// decides the intent. Patterns run against the normalized query, so they
// are written lowercase and without diacritics.
//
// Order is significant: patient questions outrank condition listings,
// which outrank symptom searches, and the temporal catch-alls come last.
var intentRuleset = []struct {
	intent   Intent
	patterns []string
}{
	{
		intent: IntentPatientInfo,
		patterns: []string{
			`que.*(enfermedad|tiene|diagnostico).*[\w\s]`,
			`informacion.*(paciente|de).*[\w\s]`,
			`que.*(le pasa|padece).*[\w\s]`,
			`[\w\s]+.*que.*(tiene|enfermedad|diagnostico)`,
		},
	},
	{
		intent: IntentConditionList,
		patterns: []string{
			`lista.*pacientes.*(con|que tienen).*[\w\s]`,
			`quienes.*(tienen|padecen).*[\w\s]`,
			`pacientes.*(diabetes|hipertension|cancer|asma|[\w\s]+)`,
			`cuantos.*pacientes.*[\w\s]`,
		},
	},
	{
		intent: IntentSymptomSearch,
		patterns: []string{
			`quien.*tiene.*(dolor|sintoma|molestia).*[\w\s]`,
			`pacientes.*con.*(dolor|sintoma|molestia).*[\w\s]`,
			`(fiebre|tos|dolor de cabeza|mareos|[\w\s]+).*pacientes`,
		},
	},
	{
		intent: IntentMedicationInfo,
		patterns: []string{
			`que.*(medicamento|medicina|tratamiento).*toma.*[\w\s]`,
			`medicamentos.*para.*[\w\s]`,
			`tratamiento.*de.*[\w\s]`,
		},
	},
	{
		intent: IntentTemporalQuery,
		patterns: []string{
			`(ayer|hoy|semana pasada|mes pasado|[\w\s]+).*paciente`,
			`ultima.*consulta.*[\w\s]`,
			`cuando.*fue.*[\w\s]`,
		},
	},
}

// conditionLexicon maps each recognized condition to the synonym set that
// triggers it. The canonical form is what lands in the entity list and in
// follow-up suggestions; matching uses the normalized synonym on word
// boundaries. The first three synonyms double as query-expansion terms.
var conditionLexicon = []struct {
	canonical string
	synonyms  []string
}{
	{"diabetes", []string{"diabetes", "diabético", "glucosa", "azúcar", "insulina"}},
	{"hipertensión", []string{"hipertensión", "presión alta", "presión arterial", "hipertenso"}},
	{"asma", []string{"asma", "asmático", "bronquial", "respiratorio"}},
	{"migraña", []string{"migraña", "jaqueca", "dolor de cabeza", "cefalea"}},
	{"covid", []string{"covid", "coronavirus", "sars-cov-2", "pandemia"}},
	{"gripe", []string{"gripe", "influenza", "resfriado", "catarro"}},
}

// symptomLexicon lists the symptom tokens recognized in queries, in the
// spelling reported back as entities.
var symptomLexicon = []string{
	"dolor", "fiebre", "tos", "mareos", "nausea", "vomito",
	"diarrea", "estreñimiento", "fatiga", "cansancio", "debilidad",
}

// medicationLexicon lists the recognized medication names.
var medicationLexicon = []string{
	"paracetamol", "ibuprofeno", "aspirina", "amoxicilina",
	"metformina", "insulina", "losartán", "amlodipino",
	"omeprazol", "salbutamol", "loratadina", "atorvastatina",
}

// datePatterns recognize temporal tokens in the normalized query: relative
// day words, relative period phrases, d/m/Y and ISO dates.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:ayer|hoy|manana)\b`),
	regexp.MustCompile(`\b(?:semana|mes|ano)\s+(?:pasada|pasado|anterior|ultima|ultimo)\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
}

// nameStopwords are words that appear capitalized at the head of Spanish
// questions and must not be mistaken for name parts. Keys are normalized
// forms.
var nameStopwords = map[string]bool{
	"que": true, "cual": true, "cuales": true, "quien": true,
	"quienes": true, "como": true, "cuando": true, "cuanto": true,
	"cuantos": true, "cuantas": true, "donde": true, "hola": true,
	"informacion": true, "lista": true, "listame": true,
	"muestra": true, "muestrame": true, "dame": true, "dime": true,
	"hay": true, "por": true, "favor": true, "sobre": true,
	"el": true, "la": true, "los": true, "las": true, "de": true,
	"del": true, "un": true, "una": true, "paciente": true,
	"pacientes": true, "doctor": true, "doctora": true,
}

// stopwords are excluded from the residual search-term tokens. Domain
// nouns like "enfermedad" or "tratamiento" stay in: they carry embedding
// signal.
var stopwords = map[string]bool{
	"a": true, "al": true, "como": true, "con": true, "cual": true,
	"cuales": true, "cuando": true, "cuanto": true, "cuantos": true,
	"cuantas": true, "de": true, "del": true, "dame": true, "dime": true,
	"donde": true, "durante": true, "el": true, "en": true, "entre": true,
	"es": true, "esta": true, "estan": true, "este": true, "estos": true,
	"fue": true, "hasta": true, "hay": true, "la": true, "las": true,
	"le": true, "lista": true, "listame": true, "lo": true, "los": true,
	"mas": true, "me": true, "mi": true, "muestra": true, "muestrame": true,
	"muy": true, "no": true, "o": true, "paciente": true, "pacientes": true,
	"para": true, "pasa": true, "pero": true, "por": true, "que": true,
	"quien": true, "quienes": true, "se": true, "ser": true, "si": true,
	"sin": true, "sobre": true, "son": true, "su": true, "sus": true,
	"te": true, "tiene": true, "tienen": true, "toma": true, "un": true,
	"una": true, "y": true, "ya": true,
}
