package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Wire pagination bounds. The look-ahead row for has_next must stay under
// the store's own page cap, so the wire maximum sits below it.
const (
	defaultPageSize = record.DefaultPageSize
	maxPageSize     = 100
)

// listResponse is the envelope of both list endpoints. HasNext is computed
// by fetching one row beyond the page.
type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Size    int  `json:"size"`
	HasNext bool `json:"has_next"`
}

// ─── Recordings ──────────────────────────────────────────────────────────────

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.app.GetRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, size, err := pageParams(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := dateRange(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := statusParam(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	recs, err := s.app.ListRecordings(r.Context(), record.RecordingFilter{
		Status:  status,
		Patient: q.Get("patient"),
		From:    from,
		To:      to,
		Limit:   size + 1,
		Offset:  (page - 1) * size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	hasNext := len(recs) > size
	if hasNext {
		recs = recs[:size]
	}
	writeJSON(w, http.StatusOK, listResponse[record.Recording]{
		Items:   recs,
		Page:    page,
		Size:    size,
		HasNext: hasNext,
	})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteRecording(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Documents ───────────────────────────────────────────────────────────────

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.app.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, size, err := pageParams(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := dateRange(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := statusParam(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fileKind := record.FileKind(q.Get("file_kind"))
	if fileKind != "" && !fileKind.Valid() {
		writeError(w, r, clinerr.New(clinerr.KindInvalidInput, "httpapi: unknown file_kind %q", fileKind))
		return
	}

	docs, err := s.app.ListDocuments(r.Context(), record.DocumentFilter{
		Status:      status,
		FileKind:    fileKind,
		Patient:     q.Get("patient"),
		RecordingID: q.Get("recording_id"),
		From:        from,
		To:          to,
		Limit:       size + 1,
		Offset:      (page - 1) * size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	hasNext := len(docs) > size
	if hasNext {
		docs = docs[:size]
	}
	writeJSON(w, http.StatusOK, listResponse[record.Document]{
		Items:   docs,
		Page:    page,
		Size:    size,
		HasNext: hasNext,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Vector store ────────────────────────────────────────────────────────────

// vectorStatusResponse reports collection stats plus reachability.
type vectorStatusResponse struct {
	Status string `json:"status"`
	vecindex.Stats
}

func (s *Server) handleVectorStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.VectorStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vectorStatusResponse{Status: "ok", Stats: stats})
}

// ─── Query parameters ────────────────────────────────────────────────────────

// pageParams reads page (1-based) and size, applying the wire defaults and
// cap. A size above the cap clamps instead of failing, matching the
// clamping of chat's max_results.
func pageParams(q url.Values) (page, size int, err error) {
	page, err = intParam(q, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 {
		return 0, 0, clinerr.New(clinerr.KindInvalidInput, "httpapi: page must be >= 1")
	}
	size, err = intParam(q, "size", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	if size < 1 {
		return 0, 0, clinerr.New(clinerr.KindInvalidInput, "httpapi: size must be >= 1")
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, clinerr.New(clinerr.KindInvalidInput, "httpapi: %s must be an integer", name)
	}
	return n, nil
}

// dateRange reads the from/to filters as YYYY-MM-DD. The store's upper
// bound is exclusive, so "to" advances one day to include the named date.
func dateRange(q url.Values) (from, to time.Time, err error) {
	if raw := q.Get("from"); raw != "" {
		from, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, clinerr.New(clinerr.KindInvalidInput, "httpapi: from %q is not YYYY-MM-DD", raw)
		}
	}
	if raw := q.Get("to"); raw != "" {
		to, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, clinerr.New(clinerr.KindInvalidInput, "httpapi: to %q is not YYYY-MM-DD", raw)
		}
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func statusParam(q url.Values) (record.Status, error) {
	status := record.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		return "", clinerr.New(clinerr.KindInvalidInput, "httpapi: unknown status %q", status)
	}
	return status, nil
}
