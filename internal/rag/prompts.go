package rag

// All prompts speak Spanish, matching the corpus and the audience. Every
// template carries the same three hard rules: answer only from the given
// context, say so when the context is insufficient, never invent medical
// data.

const systemPrompt = `Eres un asistente médico especializado en consultar información de expedientes médicos.`

const patientInfoTemplate = `Basándote ÚNICAMENTE en la información médica proporcionada, responde la siguiente consulta sobre un paciente específico.

INFORMACIÓN MÉDICA DISPONIBLE:
%[1]s

CONSULTA: %[2]s

INSTRUCCIONES CRÍTICAS:
- Responde SOLO con información que esté explícitamente en el contexto
- Si no hay información suficiente, indícalo claramente
- Usa terminología médica apropiada pero accesible
- NUNCA inventes información médica
- Incluye fechas y detalles relevantes cuando estén disponibles
- Sugiere consultar al médico para decisiones críticas

RESPUESTA:`

const conditionListTemplate = `Basándote en la información médica proporcionada, genera una lista de pacientes que cumplen con el criterio solicitado.

INFORMACIÓN MÉDICA DISPONIBLE:
%[1]s

CONSULTA: %[2]s

INSTRUCCIONES:
- Lista SOLO pacientes que aparezcan en la información proporcionada
- Menciona a cada paciente una sola vez
- Incluye información relevante de cada paciente (diagnóstico, fecha, síntomas)
- Organiza la lista de manera clara y estructurada
- Indica el número total de pacientes encontrados
- Si no hay pacientes que cumplan el criterio, indícalo claramente
- NUNCA inventes pacientes ni diagnósticos

RESPUESTA:`

const symptomSearchTemplate = `Basándote en la información médica proporcionada, identifica qué pacientes reportaron los síntomas consultados.

INFORMACIÓN MÉDICA DISPONIBLE:
%[1]s

CONSULTA: %[2]s

INSTRUCCIONES:
- Menciona SOLO síntomas y pacientes que aparezcan en el contexto
- Relaciona cada síntoma con el paciente que lo reportó y la fecha
- Si un síntoma no aparece en el contexto, indícalo claramente
- NUNCA inventes síntomas ni pacientes

RESPUESTA:`

const medicationInfoTemplate = `Basándote en la información médica proporcionada, responde la consulta sobre medicamentos o tratamientos.

INFORMACIÓN MÉDICA DISPONIBLE:
%[1]s

CONSULTA: %[2]s

INSTRUCCIONES:
- Menciona SOLO medicamentos y dosis que estén explícitamente en el contexto
- Indica qué paciente recibe cada medicamento cuando esté disponible
- Si la información es insuficiente, indícalo claramente
- NUNCA inventes medicamentos, dosis ni indicaciones
- Recuerda que cualquier cambio de medicación requiere indicación médica

RESPUESTA:`

const temporalQueryTemplate = `Basándote en la información médica proporcionada, responde la consulta sobre fechas o periodos de atención.

INFORMACIÓN MÉDICA DISPONIBLE:
%[1]s

CONSULTA: %[2]s

INSTRUCCIONES:
- Usa SOLO las fechas que aparezcan en el contexto
- Ordena los eventos cronológicamente cuando sea posible
- Si el periodo consultado no tiene registros, indícalo claramente
- NUNCA inventes fechas ni consultas

RESPUESTA:`

const generalQueryTemplate = `Basándote en la información médica proporcionada, responde la consulta médica de manera precisa y responsable.

INFORMACIÓN MÉDICA DISPONIBLE:
%[1]s

CONSULTA: %[2]s
ENTIDADES DETECTADAS: %[3]s

INSTRUCCIONES:
- Responde basándote ÚNICAMENTE en la información proporcionada
- Mantén un enfoque médico profesional pero accesible
- Si la información es insuficiente, sugiere consultar al médico
- NUNCA inventes datos médicos
- Proporciona respuestas estructuradas y claras

RESPUESTA:`

// disclaimer is appended to every generated answer.
const disclaimer = "\n\n⚠️ Esta información proviene de conversaciones registradas. Para decisiones médicas, consulte siempre con un profesional de la salud."

// fallbackAnswer is returned when retrieval found nothing or the model
// produced an empty answer.
const fallbackAnswer = "No hay información suficiente en los registros almacenados para responder esta consulta."

// insufficiencyMarkers are phrases a model uses to flag that the context
// did not cover the question. Their presence lowers confidence. Matching
// is diacritic-insensitive.
var insufficiencyMarkers = []string{
	"no hay información suficiente",
	"no se encontró información",
	"información insuficiente",
	"no cuento con información",
	"no aparece en el contexto",
	"no hay registros",
}
