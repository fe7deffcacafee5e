// Package app wires all Clinvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// record store, vector index, ingestion pipeline and query engine, and
// Shutdown tears everything down in order. Its exported methods are the
// stable operation set the HTTP layer and the MCP tool server call into.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithIndex, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinvox/clinvox/internal/config"
	"github.com/clinvox/clinvox/internal/diarize"
	"github.com/clinvox/clinvox/internal/extract"
	"github.com/clinvox/clinvox/internal/health"
	"github.com/clinvox/clinvox/internal/ingest"
	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/internal/query"
	"github.com/clinvox/clinvox/internal/rag"
	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/internal/retrieve"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
	"github.com/clinvox/clinvox/pkg/provider/embeddings"
	"github.com/clinvox/clinvox/pkg/provider/llm"
	"github.com/clinvox/clinvox/pkg/provider/ocr"
)

// Chat query bounds.
const (
	// DefaultChatResults is the context count when the request does not ask
	// for one; MaxChatResults caps explicit requests.
	DefaultChatResults = 5
	MaxChatResults     = 20

	// maxQueryRunes caps chat and search query length.
	maxQueryRunes = 1000
)

// Deadlines for the query path. Retrieval covers one embedding call plus one
// vector search; generation covers one LLM completion.
const (
	retrieveTimeout = 40 * time.Second
	generateTimeout = 60 * time.Second
	statusTimeout   = 10 * time.Second
)

// Providers holds one interface value per provider slot. All four slots are
// required; New fails when one is missing. Populated by main.go via the
// config registry.
type Providers struct {
	ASR        asr.Provider
	LLM        llm.Provider
	OCR        ocr.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and exposes the Clinvox operation set.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store     record.Store
	index     vecindex.Index
	pipeline  *ingest.Pipeline
	analyzer  *query.Analyzer
	retriever *retrieve.Retriever
	generator *rag.Generator
	metrics   *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of connecting to PostgreSQL.
func WithStore(s record.Store) Option {
	return func(a *App) { a.store = s }
}

// WithIndex injects a vector index instead of connecting to PostgreSQL.
func WithIndex(i vecindex.Index) Option {
	return func(a *App) { a.index = i }
}

// WithMetrics injects the metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for the storage layer.
//
// New performs all initialisation synchronously: database connection and
// migration, ingestion pipeline construction, and query engine assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.checkProviders(); err != nil {
		return nil, err
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Ingestion pipeline ────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Query engine ──────────────────────────────────────────────────
	a.analyzer = query.NewAnalyzer()
	a.retriever = retrieve.New(a.index, providers.Embeddings)
	a.generator = rag.New(providers.LLM)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// checkProviders verifies every provider slot is filled. The pipeline and the
// query engine need all four to operate.
func (a *App) checkProviders() error {
	var missing []string
	if a.providers.ASR == nil {
		missing = append(missing, "asr")
	}
	if a.providers.LLM == nil {
		missing = append(missing, "llm")
	}
	if a.providers.OCR == nil {
		missing = append(missing, "ocr")
	}
	if a.providers.Embeddings == nil {
		missing = append(missing, "embeddings")
	}
	if len(missing) > 0 {
		return fmt.Errorf("app: missing providers: %s (configure them under providers.*)",
			strings.Join(missing, ", "))
	}
	return nil
}

// initStorage connects to PostgreSQL and migrates the record store and the
// vector index, unless both were injected.
func (a *App) initStorage(ctx context.Context) error {
	if coll := a.cfg.Storage.Collection; coll != "" && coll != vecindex.Collection {
		return fmt.Errorf("storage.collection %q is not supported; the index uses %q", coll, vecindex.Collection)
	}

	if a.store != nil && a.index != nil {
		return nil // both injected
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("storage.postgres_dsn is required when stores are not injected")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	if a.store == nil {
		store := record.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.store = store
	}
	if a.index == nil {
		index := vecindex.NewPostgresIndex(pool,
			a.cfg.Storage.EmbeddingDimensions,
			a.cfg.Providers.Embeddings.Model,
		)
		if err := index.Migrate(ctx); err != nil {
			return err
		}
		a.index = index
	}
	return nil
}

// initPipeline builds the ingestion pipeline on top of the storage layer and
// the provider slots.
func (a *App) initPipeline() error {
	pipeline, err := ingest.New(ingest.Config{
		Store:            a.store,
		Index:            a.index,
		ASR:              a.providers.ASR,
		OCR:              a.providers.OCR,
		Extractor:        extract.New(a.providers.LLM),
		Diarizer:         diarize.New(),
		Embedder:         a.providers.Embeddings,
		Metrics:          a.metrics,
		Workers:          a.cfg.Ingest.Workers,
		QueueDepth:       a.cfg.Ingest.QueueDepth,
		Language:         a.cfg.Ingest.Language,
		MinOCRConfidence: a.cfg.Ingest.MinOCRConfidence,
	})
	if err != nil {
		return err
	}
	a.pipeline = pipeline
	a.closers = append(a.closers, pipeline.Shutdown)
	return nil
}

// ─── Ingestion operations ────────────────────────────────────────────────────

// SubmitAudio validates an audio upload, persists a pending recording and
// schedules background processing. See [ingest.Pipeline.SubmitAudio].
func (a *App) SubmitAudio(ctx context.Context, up ingest.AudioUpload) (*record.Recording, error) {
	return a.pipeline.SubmitAudio(ctx, up)
}

// SubmitDocument validates a document upload, persists a pending document and
// schedules background processing. See [ingest.Pipeline.SubmitDocument].
func (a *App) SubmitDocument(ctx context.Context, up ingest.DocumentUpload) (*record.Document, error) {
	return a.pipeline.SubmitDocument(ctx, up)
}

// PendingJobs reports how many ingest jobs are running or queued.
func (a *App) PendingJobs() int {
	return a.pipeline.Pending()
}

// ─── Record operations ───────────────────────────────────────────────────────

// GetRecording returns the recording with the given id, or a
// [clinerr.KindNotFound] error.
func (a *App) GetRecording(ctx context.Context, id string) (*record.Recording, error) {
	rec, err := a.store.GetRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, clinerr.New(clinerr.KindNotFound, "app: recording %q not found", id)
	}
	return rec, nil
}

// ListRecordings returns recordings matching the filter, newest first.
func (a *App) ListRecordings(ctx context.Context, f record.RecordingFilter) ([]record.Recording, error) {
	return a.store.ListRecordings(ctx, f)
}

// DeleteRecording removes a recording and every vector entry it produced.
// Index entries go first so a partial failure never leaves entries pointing
// at a deleted record; deleting an unknown id is not an error.
func (a *App) DeleteRecording(ctx context.Context, id string) error {
	if err := a.index.DeleteBySource(ctx, vecindex.SourceRecording, id); err != nil {
		return err
	}
	return a.store.DeleteRecording(ctx, id)
}

// GetDocument returns the document with the given id, or a
// [clinerr.KindNotFound] error.
func (a *App) GetDocument(ctx context.Context, id string) (*record.Document, error) {
	doc, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, clinerr.New(clinerr.KindNotFound, "app: document %q not found", id)
	}
	return doc, nil
}

// ListDocuments returns documents matching the filter, newest first.
func (a *App) ListDocuments(ctx context.Context, f record.DocumentFilter) ([]record.Document, error) {
	return a.store.ListDocuments(ctx, f)
}

// DeleteDocument removes a document and every vector entry it produced.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	if err := a.index.DeleteBySource(ctx, vecindex.SourceDocument, id); err != nil {
		return err
	}
	return a.store.DeleteDocument(ctx, id)
}

// ─── Query operations ────────────────────────────────────────────────────────

// ChatRequest carries one natural-language query and its options.
type ChatRequest struct {
	// Query is the user's question, in Spanish. Required; at most 1000
	// characters.
	Query string

	// MaxResults bounds the retrieved contexts. Zero means
	// [DefaultChatResults]; values above [MaxChatResults] are clamped down.
	MaxResults int

	// IncludeSources controls whether source attributions are returned.
	IncludeSources bool

	// Filters narrow retrieval by metadata before ranking.
	Filters ChatFilters
}

// ChatFilters are the metadata constraints a chat or search request may
// carry. Zero values mean no constraint.
type ChatFilters struct {
	// PatientName matches the normalized patient name exactly.
	PatientName string

	// DocType matches the document type exactly.
	DocType string

	// DateFrom and DateTo bound the clinical date, inclusive, in
	// YYYY-MM-DD form.
	DateFrom string
	DateTo   string

	// SourceKind restricts hits to "recording" or "document" entries.
	SourceKind string
}

// searchFilter validates the filters and converts them to the index form.
func (f ChatFilters) searchFilter() (vecindex.SearchFilter, error) {
	out := vecindex.SearchFilter{
		PatientName: f.PatientName,
		DocType:     f.DocType,
		DateFrom:    f.DateFrom,
		DateTo:      f.DateTo,
	}
	for _, d := range []string{f.DateFrom, f.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return out, clinerr.New(clinerr.KindInvalidInput, "app: date filter %q is not YYYY-MM-DD", d)
		}
	}
	if f.SourceKind != "" {
		kind := vecindex.SourceKind(f.SourceKind)
		if !kind.Valid() {
			return out, clinerr.New(clinerr.KindInvalidInput, "app: unknown source kind %q", f.SourceKind)
		}
		out.SourceKind = kind
	}
	return out, nil
}

// ChatResult is a generated answer plus processing metadata.
type ChatResult struct {
	rag.Answer

	// ProcessingMS is the wall time the query took, end to end.
	ProcessingMS int64 `json:"processing_time_ms"`
}

// Chat answers a natural-language question from the indexed corpus: the query
// is analyzed, contexts retrieved and ranked, and the answer generated with
// source attributions. With no matching context the result carries the
// fallback answer and low confidence rather than an error.
func (a *App) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	start := time.Now()

	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, clinerr.New(clinerr.KindInvalidInput, "app: chat query is required")
	}
	if utf8.RuneCountInString(q) > maxQueryRunes {
		return nil, clinerr.New(clinerr.KindInvalidInput, "app: chat query exceeds %d characters", maxQueryRunes)
	}
	k := clampResults(req.MaxResults)

	filter, err := req.Filters.searchFilter()
	if err != nil {
		return nil, err
	}

	plan := a.analyzer.Analyze(q)
	hits, err := a.retrieveHits(ctx, plan, retrieve.Options{K: k, Filter: filter})
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	ans, err := a.generator.Generate(genCtx, plan, hits)
	if err != nil {
		return nil, err
	}

	res := &ChatResult{
		Answer:       *ans,
		ProcessingMS: time.Since(start).Milliseconds(),
	}
	if !req.IncludeSources {
		res.Sources = nil
	}

	a.metrics.RecordStage(ctx, "query", time.Since(start).Seconds())
	slog.Info("chat answered",
		"intent", ans.Intent,
		"hits", len(hits),
		"confidence", ans.Confidence,
		"fallback", ans.Fallback,
		"processing_ms", res.ProcessingMS,
	)
	return res, nil
}

// SearchRequest asks for ranked context hits without answer generation.
type SearchRequest struct {
	// Query is the search text. Required; at most 1000 characters.
	Query string

	// K bounds the result count with the same clamping as chat.
	K int

	// Filters narrow the candidate entries.
	Filters ChatFilters
}

// SearchHit is one ranked result of [App.Search].
type SearchHit struct {
	SourceID    string              `json:"source_id"`
	Kind        vecindex.SourceKind `json:"kind"`
	PatientName string              `json:"patient_name,omitempty"`
	Diagnosis   string              `json:"diagnosis,omitempty"`
	DocType     string              `json:"doc_type,omitempty"`
	Date        string              `json:"date,omitempty"`
	Score       float64             `json:"score"`
	Excerpt     string              `json:"excerpt,omitempty"`
}

// Search runs retrieval for a query and returns the ranked hits with display
// excerpts. A query matching nothing returns an empty slice, not an error.
func (a *App) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, clinerr.New(clinerr.KindInvalidInput, "app: search query is required")
	}
	if utf8.RuneCountInString(q) > maxQueryRunes {
		return nil, clinerr.New(clinerr.KindInvalidInput, "app: search query exceeds %d characters", maxQueryRunes)
	}

	filter, err := req.Filters.searchFilter()
	if err != nil {
		return nil, err
	}

	plan := a.analyzer.Analyze(q)
	hits, err := a.retrieveHits(ctx, plan, retrieve.Options{K: clampResults(req.K), Filter: filter})
	if err != nil {
		return nil, err
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchHit{
			SourceID:    h.Entry.SourceID,
			Kind:        h.Entry.SourceKind,
			PatientName: h.Entry.Metadata.PatientName,
			Diagnosis:   h.Entry.Metadata.Diagnosis,
			DocType:     h.Entry.Metadata.DocType,
			Date:        h.Entry.Metadata.Date,
			Score:       h.Score,
			Excerpt:     h.Excerpt,
		})
	}
	return out, nil
}

// retrieveHits runs retrieval under its deadline.
func (a *App) retrieveHits(ctx context.Context, plan query.Plan, opts retrieve.Options) ([]retrieve.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, retrieveTimeout)
	defer cancel()
	return a.retriever.Retrieve(ctx, plan, opts)
}

// clampResults applies the chat result-count bounds.
func clampResults(k int) int {
	switch {
	case k <= 0:
		return DefaultChatResults
	case k > MaxChatResults:
		return MaxChatResults
	default:
		return k
	}
}

// ─── Status operations ───────────────────────────────────────────────────────

// VectorStatus reports the vector collection's entry count, dimensionality,
// embedding model and name.
func (a *App) VectorStatus(ctx context.Context) (vecindex.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	return a.index.Stats(ctx)
}

// Checkers returns the readiness checks for this app's dependencies, for
// registration with [health.New].
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{
			Name: "database",
			Check: func(ctx context.Context) error {
				_, err := a.store.ListRecordings(ctx, record.RecordingFilter{Limit: 1})
				return err
			},
		},
		{
			Name: "vector_store",
			Check: func(ctx context.Context) error {
				_, err := a.index.Stats(ctx)
				return err
			},
		},
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: the ingestion
// pipeline drains first, then the database pool closes. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers immediately, for cleanup when New fails partway.
func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("cleanup error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
