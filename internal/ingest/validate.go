package ingest

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Upload size caps, enforced before any record is created.
const (
	MaxAudioBytes    = 25 << 20
	MaxDocumentBytes = 10 << 20
)

// AudioUpload is a client-submitted audio file.
type AudioUpload struct {
	// Filename is the client-supplied name. Its extension must agree with
	// the sniffed container format.
	Filename string

	// Data is the complete file content. The pipeline retains the slice
	// until processing finishes; callers must not reuse it.
	Data []byte

	// Language optionally overrides the pipeline's configured transcription
	// language hint for this upload.
	Language string
}

// DocumentUpload is a client-submitted PDF or image.
type DocumentUpload struct {
	Filename string
	Data     []byte

	// PatientName and DocumentType are optional client-supplied metadata.
	// When present they take precedence over values extracted from the
	// document text.
	PatientName  string
	DocumentType string

	// Description is an optional free-text note stored with the document
	// and embedded into its index payload.
	Description string
}

// validateAudio checks size, extension and magic bytes and returns the MIME
// type of the upload. Rejections carry [clinerr.KindInvalidMedia] except for
// a missing filename, which is [clinerr.KindInvalidInput].
func validateAudio(up AudioUpload) (string, error) {
	if strings.TrimSpace(up.Filename) == "" {
		return "", clinerr.New(clinerr.KindInvalidInput, "ingest: filename is required")
	}
	if len(up.Data) == 0 {
		return "", clinerr.New(clinerr.KindInvalidMedia, "ingest: empty file")
	}
	if int64(len(up.Data)) > MaxAudioBytes {
		return "", clinerr.New(clinerr.KindInvalidMedia,
			"ingest: audio size %d exceeds the %d byte limit", len(up.Data), MaxAudioBytes)
	}

	switch ext(up.Filename) {
	case "wav":
		if !isWAV(up.Data) {
			return "", clinerr.New(clinerr.KindInvalidMedia, "ingest: %q does not contain WAV data", up.Filename)
		}
		return "audio/wav", nil
	case "mp3":
		if !isMP3(up.Data) {
			return "", clinerr.New(clinerr.KindInvalidMedia, "ingest: %q does not contain MP3 data", up.Filename)
		}
		return "audio/mpeg", nil
	}
	return "", clinerr.New(clinerr.KindInvalidMedia, "ingest: unsupported audio format %q", up.Filename)
}

// validateDocument checks size, extension and magic bytes and returns the
// file kind and MIME type of the upload.
func validateDocument(up DocumentUpload) (record.FileKind, string, error) {
	if strings.TrimSpace(up.Filename) == "" {
		return "", "", clinerr.New(clinerr.KindInvalidInput, "ingest: filename is required")
	}
	if len(up.Data) == 0 {
		return "", "", clinerr.New(clinerr.KindInvalidMedia, "ingest: empty file")
	}
	if int64(len(up.Data)) > MaxDocumentBytes {
		return "", "", clinerr.New(clinerr.KindInvalidMedia,
			"ingest: document size %d exceeds the %d byte limit", len(up.Data), MaxDocumentBytes)
	}

	switch ext(up.Filename) {
	case "pdf":
		if !isPDF(up.Data) {
			return "", "", clinerr.New(clinerr.KindInvalidMedia, "ingest: %q does not contain PDF data", up.Filename)
		}
		return record.FilePDF, "application/pdf", nil
	case "png":
		if !isPNG(up.Data) {
			return "", "", clinerr.New(clinerr.KindInvalidMedia, "ingest: %q does not contain PNG data", up.Filename)
		}
		return record.FileImage, "image/png", nil
	case "jpg", "jpeg":
		if !isJPEG(up.Data) {
			return "", "", clinerr.New(clinerr.KindInvalidMedia, "ingest: %q does not contain JPEG data", up.Filename)
		}
		return record.FileImage, "image/jpeg", nil
	}
	return "", "", clinerr.New(clinerr.KindInvalidMedia, "ingest: unsupported document format %q", up.Filename)
}

// ext returns the lowercased filename extension without the dot.
func ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func isWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// isMP3 accepts files opening with an ID3v2 tag or directly with an MPEG
// audio frame sync (eleven set bits).
func isMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}

func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}
