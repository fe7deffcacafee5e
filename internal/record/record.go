// Package record defines the persistent ingestion records of the clinical
// corpus and their processing state machine. A [Recording] tracks an uploaded
// audio conversation through transcription, extraction, diarization and
// indexing; a [Document] tracks an uploaded PDF or image through OCR and
// metadata extraction.
//
// The primary abstraction is the [Store] interface, which offers CRUD, list
// and guarded status-transition operations for both record kinds. The
// reference implementation [PostgresStore] keeps each kind in its own table
// and serialises extracted sub-structures (medical fields, speaker segments)
// as JSONB.
//
// Records are owned by the ingestion pipeline: after creation they are
// mutated only through compare-and-swap writes. [Store.UpdateRecording] and
// [Store.UpdateDocument] fence on updated_at; [Store.TransitionRecording]
// and [Store.TransitionDocument] fence on the current status. A lost fence
// surfaces as a [clinerr.KindConflict] error.
package record

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Status is the processing state of a [Recording] or [Document].
type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusExtracting   Status = "extracting"
	StatusDiarizing    Status = "diarizing"
	StatusIndexing     Status = "indexing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// statusRank orders the pipeline states for the forward-only rule. Failed is
// absent on purpose: it is reachable from any non-terminal state.
var statusRank = map[Status]int{
	StatusPending:      0,
	StatusTranscribing: 1,
	StatusExtracting:   2,
	StatusDiarizing:    3,
	StatusIndexing:     4,
	StatusCompleted:    5,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// Terminal reports whether a record in this status accepts no further
// transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a record may move from one status to
// another. States advance only forward, and skipping stages is allowed, so
// a document pipeline that never diarizes can go straight from Extracting to
// Indexing. Failed is reachable from any non-terminal state. Completed and
// Failed accept no outgoing transitions.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// ParseStatus converts a wire string into a [Status].
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", clinerr.New(clinerr.KindInvalidInput, "record: unknown status %q", s)
	}
	return st, nil
}

// FileKind distinguishes the two document upload formats.
type FileKind string

const (
	FilePDF   FileKind = "pdf"
	FileImage FileKind = "image"
)

// Valid reports whether k is a known file kind.
func (k FileKind) Valid() bool {
	return k == FilePDF || k == FileImage
}

// VectorState is the vector-indexing outcome for a record. Indexing is a
// soft stage: a record may complete with VectorFailed.
type VectorState string

const (
	// VectorPending means indexing has not been attempted yet.
	VectorPending VectorState = "pending"
	// VectorStored means an index entry was upserted for the record.
	VectorStored VectorState = "true"
	// VectorSkipped means the record produced no payload text to index.
	VectorSkipped VectorState = "false"
	// VectorFailed means the upsert attempt failed.
	VectorFailed VectorState = "failed"
)

// Valid reports whether v is a known vector state.
func (v VectorState) Valid() bool {
	switch v {
	case VectorPending, VectorStored, VectorSkipped, VectorFailed:
		return true
	}
	return false
}

// DiarizationState is the speaker-diarization outcome for a recording.
// Diarization is a soft stage: a recording may complete with
// DiarizationFailed.
type DiarizationState string

const (
	DiarizationPending DiarizationState = "pending"
	DiarizationDone    DiarizationState = "true"
	DiarizationFailed  DiarizationState = "failed"
)

// Valid reports whether d is a known diarization state.
func (d DiarizationState) Valid() bool {
	switch d {
	case DiarizationPending, DiarizationDone, DiarizationFailed:
		return true
	}
	return false
}

// Speaker identifies who is talking in a segment of a clinical conversation.
// The promotor is the health promoter conducting the interview.
type Speaker string

const (
	SpeakerPromotor Speaker = "promotor"
	SpeakerPatient  Speaker = "paciente"
	SpeakerUnknown  Speaker = "unknown"
	// SpeakerMultiple marks overlapping speech.
	SpeakerMultiple Speaker = "multiple"
)

// Valid reports whether s is a known speaker label.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerPromotor, SpeakerPatient, SpeakerUnknown, SpeakerMultiple:
		return true
	}
	return false
}

// SpeakerSegment is a diarized span of a recording attributed to one
// speaker.
type SpeakerSegment struct {
	Speaker    Speaker `json:"speaker"`
	Text       string  `json:"text"`
	TStart     float64 `json:"t_start"`
	TEnd       float64 `json:"t_end"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"word_count"`
}

// Validate checks a single segment for consistency.
func (s *SpeakerSegment) Validate() error {
	var errs []error

	if !s.Speaker.Valid() {
		errs = append(errs, fmt.Errorf("unknown speaker %q", s.Speaker))
	}
	if strings.TrimSpace(s.Text) == "" {
		errs = append(errs, errors.New("text must not be empty"))
	}
	if s.TStart < 0 {
		errs = append(errs, fmt.Errorf("t_start %g must not be negative", s.TStart))
	}
	if s.TEnd <= s.TStart {
		errs = append(errs, fmt.Errorf("t_end %g must be greater than t_start %g", s.TEnd, s.TStart))
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %g must be in [0, 1]", s.Confidence))
	}
	if s.WordCount < 0 {
		errs = append(errs, fmt.Errorf("word_count %d must not be negative", s.WordCount))
	}

	return errors.Join(errs...)
}

// ValidateSegments checks every segment plus the cross-segment invariants:
// segments are ordered by start time and do not overlap.
func ValidateSegments(segs []SpeakerSegment) error {
	var errs []error
	for i := range segs {
		if err := segs[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("segment %d: %w", i, err))
		}
		if i > 0 && segs[i].TStart < segs[i-1].TEnd {
			errs = append(errs, fmt.Errorf("segment %d: starts at %g before previous segment ends at %g",
				i, segs[i].TStart, segs[i-1].TEnd))
		}
	}
	return errors.Join(errs...)
}

// SpeakerStats summarises speaker participation across a recording.
type SpeakerStats struct {
	// TotalSpeakers counts distinct classified speakers (Unknown excluded).
	TotalSpeakers int `json:"total_speakers"`

	// PromotorTime, PatientTime and UnknownTime are total speaking seconds
	// per label.
	PromotorTime float64 `json:"promotor_time"`
	PatientTime  float64 `json:"paciente_time"`
	UnknownTime  float64 `json:"unknown_time"`

	// TotalDuration is the end time of the last segment in seconds.
	TotalDuration float64 `json:"total_duration"`

	// SpeakerChanges counts transitions between different speakers.
	SpeakerChanges int `json:"speaker_changes"`

	// AvgSegmentLength is the mean segment duration in seconds.
	AvgSegmentLength float64 `json:"average_segment_length"`
}

// Recording is the persistent record of one uploaded audio conversation and
// everything derived from it.
type Recording struct {
	// ID is the unique identifier assigned at upload time.
	ID string `json:"id"`

	// Filename is the client-supplied name of the uploaded file.
	Filename string `json:"filename"`

	// SizeBytes is the size of the uploaded file.
	SizeBytes int64 `json:"size_bytes"`

	// MIME is the detected content type of the upload.
	MIME string `json:"mime"`

	// Status is the processing state. It advances only forward; see
	// [CanTransition].
	Status Status `json:"status"`

	// Transcript is the full transcript, set once transcription succeeds.
	Transcript string `json:"transcript_text,omitempty"`

	// Language is the ISO 639-1 code reported by the transcriber, for
	// example "es".
	Language string `json:"language,omitempty"`

	// DurationS is the audio duration in seconds.
	DurationS float64 `json:"duration_s,omitempty"`

	// Confidence is the transcriber's overall confidence in [0, 1], zero
	// when the backend does not report one.
	Confidence float64 `json:"confidence,omitempty"`

	// Structured holds the canonical medical fields extracted from the
	// transcript: name, age, diagnosis and so on.
	Structured map[string]any `json:"structured,omitempty"`

	// Unstructured holds the contextual fields extracted from the
	// transcript: symptoms, emotions, urgency and so on.
	Unstructured map[string]any `json:"unstructured,omitempty"`

	// SpeakerSegments is the diarized transcript, ordered by start time.
	SpeakerSegments []SpeakerSegment `json:"speaker_segments,omitempty"`

	// SpeakerStats aggregates speaker participation. It stays nil until
	// diarization has run.
	SpeakerStats *SpeakerStats `json:"speaker_stats,omitempty"`

	// Diarization is the diarization outcome.
	Diarization DiarizationState `json:"diarization_processed"`

	// VectorStored is the vector-indexing outcome.
	VectorStored VectorState `json:"vector_stored"`

	// VectorID names the corpus index entry backing this recording, empty
	// until an index attempt succeeds.
	VectorID string `json:"vector_id,omitempty"`

	// ProcessingMS is the total pipeline wall time in milliseconds, set
	// when the pipeline reaches a terminal status.
	ProcessingMS int64 `json:"processing_ms,omitempty"`

	// ErrorMessage describes the failure when Status is Failed.
	ErrorMessage string `json:"error,omitempty"`

	// ProcessedAt is when the pipeline reached a terminal status.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// CreatedAt is when the upload was accepted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last modified. It doubles as the
	// compare-and-swap fence for [Store.UpdateRecording].
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the recording for logical consistency. It returns a
// [clinerr.KindInvalidInput] error describing every violation found, or nil
// if the recording is valid.
func (r *Recording) Validate() error {
	var errs []error

	if r.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if r.Filename == "" {
		errs = append(errs, errors.New("filename must not be empty"))
	}
	if r.SizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("size_bytes must be positive, got %d", r.SizeBytes))
	}
	if !r.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", r.Status))
	}
	if !r.Diarization.Valid() {
		errs = append(errs, fmt.Errorf("unknown diarization state %q", r.Diarization))
	}
	if !r.VectorStored.Valid() {
		errs = append(errs, fmt.Errorf("unknown vector state %q", r.VectorStored))
	}
	if r.DurationS < 0 {
		errs = append(errs, fmt.Errorf("duration_s must not be negative, got %g", r.DurationS))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence must be in [0, 1], got %g", r.Confidence))
	}
	if r.ProcessingMS < 0 {
		errs = append(errs, fmt.Errorf("processing_ms must not be negative, got %d", r.ProcessingMS))
	}
	if err := ValidateSegments(r.SpeakerSegments); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return clinerr.Wrap(clinerr.KindInvalidInput, err, "record: invalid recording")
	}
	return nil
}

// Document is the persistent record of one uploaded PDF or image and the
// medical metadata extracted from it.
type Document struct {
	ID        string   `json:"id"`
	Filename  string   `json:"filename"`
	SizeBytes int64    `json:"size_bytes"`
	MIME      string   `json:"mime"`
	FileKind  FileKind `json:"file_kind"`
	Status    Status   `json:"status"`

	// Description is the free-text note supplied with the upload, if any.
	Description string `json:"description,omitempty"`

	// PageCount is the total page count of a PDF, including pages beyond
	// the extraction cap.
	PageCount int `json:"page_count,omitempty"`

	// OCRConfidence is the OCR quality estimate in [0, 1] for image
	// uploads, zero for PDFs.
	OCRConfidence float64 `json:"ocr_confidence,omitempty"`

	// ExtractedText is the cleaned OCR or PDF text.
	ExtractedText string `json:"extracted_text,omitempty"`

	// Language is the detected document language, when known.
	Language string `json:"language,omitempty"`

	// PatientName, DocumentDate and DocumentType are the headline medical
	// metadata extracted from the text. DocumentDate uses YYYY-MM-DD when
	// the source states a full date.
	PatientName  string `json:"patient_name,omitempty"`
	DocumentDate string `json:"document_date,omitempty"`
	DocumentType string `json:"document_type,omitempty"`

	// Conditions, Medications and Procedures list the clinical terms found
	// in the document.
	Conditions  []string `json:"conditions"`
	Medications []string `json:"medications"`
	Procedures  []string `json:"procedures"`

	// RecordingID links the document to a recording of the same patient,
	// empty when no confident match exists.
	RecordingID string `json:"recording_id,omitempty"`

	// VectorStored is the vector-indexing outcome.
	VectorStored VectorState `json:"vector_stored"`

	// VectorID names the corpus index entry backing this document.
	VectorID string `json:"vector_id,omitempty"`

	ProcessingMS int64      `json:"processing_ms,omitempty"`
	ErrorMessage string     `json:"error,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	// UpdatedAt doubles as the compare-and-swap fence for
	// [Store.UpdateDocument].
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the document for logical consistency. It returns a
// [clinerr.KindInvalidInput] error describing every violation found, or nil
// if the document is valid.
func (d *Document) Validate() error {
	var errs []error

	if d.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if d.Filename == "" {
		errs = append(errs, errors.New("filename must not be empty"))
	}
	if d.SizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("size_bytes must be positive, got %d", d.SizeBytes))
	}
	if !d.FileKind.Valid() {
		errs = append(errs, fmt.Errorf("file_kind must be %q or %q, got %q", FilePDF, FileImage, d.FileKind))
	}
	if !d.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", d.Status))
	}
	if !d.VectorStored.Valid() {
		errs = append(errs, fmt.Errorf("unknown vector state %q", d.VectorStored))
	}
	if d.PageCount < 0 {
		errs = append(errs, fmt.Errorf("page_count must not be negative, got %d", d.PageCount))
	}
	if d.OCRConfidence < 0 || d.OCRConfidence > 1 {
		errs = append(errs, fmt.Errorf("ocr_confidence must be in [0, 1], got %g", d.OCRConfidence))
	}
	if d.ProcessingMS < 0 {
		errs = append(errs, fmt.Errorf("processing_ms must not be negative, got %d", d.ProcessingMS))
	}

	if err := errors.Join(errs...); err != nil {
		return clinerr.Wrap(clinerr.KindInvalidInput, err, "record: invalid document")
	}
	return nil
}
