package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/clinvox/clinvox/internal/app"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// chatRequest is the wire form of a chat query. Unknown fields are
// ignored; include_sources defaults to true when absent.
type chatRequest struct {
	Query          string      `json:"query"`
	MaxResults     int         `json:"max_results"`
	Filters        chatFilters `json:"filters"`
	IncludeSources *bool       `json:"include_sources"`
}

type chatFilters struct {
	PatientName string `json:"patient_name"`
	DocType     string `json:"doc_type"`
	DateFrom    string `json:"date_from"`
	DateTo      string `json:"date_to"`
	SourceKind  string `json:"source_kind"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, r, err)
		return
	}

	includeSources := true
	if req.IncludeSources != nil {
		includeSources = *req.IncludeSources
	}

	res, err := s.app.Chat(r.Context(), app.ChatRequest{
		Query:          req.Query,
		MaxResults:     req.MaxResults,
		IncludeSources: includeSources,
		Filters: app.ChatFilters{
			PatientName: req.Filters.PatientName,
			DocType:     req.Filters.DocType,
			DateFrom:    req.Filters.DateFrom,
			DateTo:      req.Filters.DateTo,
			SourceKind:  req.Filters.SourceKind,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSearchDocuments runs retrieval restricted to document entries and
// returns the ranked hits as a bare array.
func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	k, err := intParam(q, "max_results", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hits, err := s.app.Search(r.Context(), app.SearchRequest{
		Query: q.Get("query"),
		K:     k,
		Filters: app.ChatFilters{
			PatientName: q.Get("patient_name"),
			DocType:     q.Get("document_type"),
			SourceKind:  "document",
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// decodeJSON reads one JSON value from the request body, classifying
// malformed input.
func decodeJSON(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return clinerr.Wrap(clinerr.KindInvalidInput, err, "httpapi: decode request body")
	}
	return nil
}
