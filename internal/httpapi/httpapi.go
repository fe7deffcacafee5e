// Package httpapi exposes the Clinvox application over HTTP.
//
// Routes follow the REST surface of the ingestion service: multipart uploads
// under /upload-audio and /upload-document, record projections under
// /transcriptions and /documents, the chat and search endpoints, and the
// operational endpoints (/healthz, /readyz, /metrics, /vector-store/status).
// Every response body is JSON; failures map through [clinerr.HTTPStatus] to
// `{"error": ..., "kind": ...}` bodies.
//
// The handler stack is assembled once by [Server.Handler] and wrapped in
// [observe.Middleware], so every request carries a trace span, an
// X-Correlation-ID header and a duration sample.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinvox/clinvox/internal/app"
	"github.com/clinvox/clinvox/internal/health"
	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/pkg/clinerr"
)

// Server routes HTTP requests to the application façade.
type Server struct {
	app     *app.App
	metrics *observe.Metrics
}

// New creates a Server over the given application. Nil metrics means the
// package default instance.
func New(a *app.App, m *observe.Metrics) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{app: a, metrics: m}
}

// Handler returns the complete route tree wrapped in the observability
// middleware. Method-prefixed patterns let the mux reject wrong-method
// requests with 405 before any handler runs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload-audio", s.handleUploadAudio)
	mux.HandleFunc("POST /upload-document", s.handleUploadDocument)

	mux.HandleFunc("GET /transcriptions", s.handleListRecordings)
	mux.HandleFunc("GET /transcriptions/{id}", s.handleGetRecording)
	mux.HandleFunc("DELETE /transcriptions/{id}", s.handleDeleteRecording)

	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/search", s.handleSearchDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /vector-store/status", s.handleVectorStatus)

	health.New(s.app.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError classifies err and writes the mapped status with a JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := clinerr.KindOf(err)
	status := clinerr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind.String(),
			"err", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500 body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure","kind":"internal"}`, http.StatusInternalServerError)
	}
}
