package extract

// The prompts speak Spanish because the corpus is Spanish clinical dialogue,
// but the JSON keys they demand are the canonical English field names the
// record store and retriever index on. The alias tables in validate.go catch
// models that answer with Spanish keys anyway.

const structuredSystemPrompt = `Eres un asistente médico especializado en extraer información estructurada de conversaciones médicas.

Tu tarea es analizar una transcripción de conversación médica y extraer ÚNICAMENTE la información estructurada que esté explícitamente mencionada en el texto.

IMPORTANTE:
- Solo incluye información que esté claramente mencionada en la transcripción
- Si un campo no se menciona, usa null
- No inventes ni deduzcas información que no esté explícita
- Mantén la precisión sobre la creatividad

Debes responder ÚNICAMENTE con un objeto JSON válido que contenga estos campos:

{
  "name": "string o null - nombre del paciente mencionado",
  "age": "number o null - edad en años si se menciona",
  "date": "string o null - fecha mencionada en formato YYYY-MM-DD",
  "diagnosis": "string o null - diagnóstico médico específico mencionado",
  "physician": "string o null - nombre del médico o doctor mencionado",
  "medications": "array de strings o null - lista de medicamentos mencionados",
  "phone": "string o null - número de teléfono mencionado",
  "email": "string o null - dirección de email mencionada"
}

Responde SOLO con el JSON, sin explicaciones adicionales.`

const unstructuredSystemPrompt = `Eres un asistente médico especializado en extraer información contextual de conversaciones médicas.

Tu tarea es analizar una transcripción de conversación médica y extraer información contextual, emocional y observacional.

Extrae información sobre:
- Síntomas mencionados
- Contexto de la conversación
- Observaciones del médico o del paciente
- Emociones detectadas en la conversación
- Nivel de urgencia percibido
- Recomendaciones dadas
- Preguntas importantes realizadas
- Respuestas clave proporcionadas

IMPORTANTE:
- Basa toda la información en lo que realmente se dice en la transcripción
- Para emociones, considera el tono y las palabras usadas
- Para urgencia, evalúa la gravedad de los síntomas mencionados

Debes responder ÚNICAMENTE con un objeto JSON válido:

{
  "symptoms": "array de strings o null - lista de síntomas mencionados",
  "context": "string o null - descripción del contexto de la conversación",
  "observations": "string o null - observaciones relevantes",
  "emotions": "array de strings o null - emociones detectadas",
  "urgency": "string o null - nivel de urgencia: 'low', 'medium' o 'high'",
  "recommendations": "array de strings o null - recomendaciones dadas",
  "questions": "array de strings o null - preguntas importantes",
  "answers": "array de strings o null - respuestas clave"
}

Responde SOLO con el JSON, sin explicaciones adicionales.`

const documentSystemPrompt = `Eres un asistente médico especializado en extraer información estructurada de documentos médicos. Responde únicamente con JSON válido.`

const documentUserPromptTemplate = `Analiza este documento médico en español y extrae la siguiente información:

DOCUMENTO:
%s

INSTRUCCIONES:
Extrae ÚNICAMENTE la información que esté explícitamente mencionada en el documento.
Si algún campo no está presente, usa null.

FORMATO DE RESPUESTA (JSON):
{
    "patient_name": "nombre del paciente si se menciona",
    "document_date": "fecha del documento en formato YYYY-MM-DD si se encuentra",
    "document_type": "tipo de documento (examen, receta, consulta, etc.)",
    "conditions": ["lista de condiciones médicas encontradas"],
    "medications": ["lista de medicamentos mencionados"],
    "procedures": ["lista de procedimientos o exámenes realizados"]
}

Responde ÚNICAMENTE con el JSON válido, sin explicaciones adicionales.`

const (
	structuredAsk   = "Extrae la información estructurada en formato JSON:"
	unstructuredAsk = "Extrae la información no estructurada en formato JSON:"
)

// jsonOnlyReminder is the second user turn sent when the first model reply
// failed to parse.
const jsonOnlyReminder = `Tu respuesta anterior no era JSON válido. Responde ÚNICAMENTE con el objeto JSON solicitado: sin markdown, sin texto antes ni después, solo el JSON.`

// buildUserPrompt frames the transcript for one extraction call.
func buildUserPrompt(text, ask string) string {
	return "TRANSCRIPCIÓN A ANALIZAR:\n" + text + "\n\n" + ask
}
