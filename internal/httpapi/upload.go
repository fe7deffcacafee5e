package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/clinvox/clinvox/internal/ingest"
	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// formOverhead is headroom on top of the payload cap for multipart framing
// and the optional metadata fields.
const formOverhead = 1 << 20

// uploadResponse acknowledges an accepted upload. Processing continues in
// the background; poll the record endpoint for progress.
type uploadResponse struct {
	ID        string        `json:"id"`
	Filename  string        `json:"filename"`
	Status    record.Status `json:"status"`
	SizeBytes int64         `json:"size_bytes"`
	CreatedAt time.Time     `json:"created_at"`
}

// handleUploadAudio accepts a multipart audio upload and schedules
// transcription. The optional "language" field overrides the configured
// transcription hint for this file.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(w, r, ingest.MaxAudioBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := s.app.SubmitAudio(r.Context(), ingest.AudioUpload{
		Filename: filename,
		Data:     data,
		Language: r.FormValue("language"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		ID:        rec.ID,
		Filename:  rec.Filename,
		Status:    rec.Status,
		SizeBytes: rec.SizeBytes,
		CreatedAt: rec.CreatedAt,
	})
}

// handleUploadDocument accepts a multipart PDF or image upload with optional
// patient_name, document_type and description fields.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(w, r, ingest.MaxDocumentBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := s.app.SubmitDocument(r.Context(), ingest.DocumentUpload{
		Filename:     filename,
		Data:         data,
		PatientName:  r.FormValue("patient_name"),
		DocumentType: r.FormValue("document_type"),
		Description:  r.FormValue("description"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		ID:        doc.ID,
		Filename:  doc.Filename,
		Status:    doc.Status,
		SizeBytes: doc.SizeBytes,
		CreatedAt: doc.CreatedAt,
	})
}

// readUpload extracts the "file" part of a multipart request. The request
// body is capped at maxBytes plus form overhead; the exact payload limit is
// enforced again during submission, so only runaway bodies are cut off here.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			return nil, "", clinerr.New(clinerr.KindInvalidMedia, "httpapi: request body exceeds the upload limit")
		}
		return nil, "", clinerr.New(clinerr.KindInvalidInput, "httpapi: multipart field \"file\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isTooLarge(err) {
			return nil, "", clinerr.New(clinerr.KindInvalidMedia, "httpapi: request body exceeds the upload limit")
		}
		return nil, "", clinerr.Wrap(clinerr.KindInternal, err, "httpapi: read upload")
	}
	return data, header.Filename, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
