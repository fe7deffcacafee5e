package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clinvox/clinvox/internal/app"
	"github.com/clinvox/clinvox/internal/config"
	"github.com/clinvox/clinvox/internal/record"
	recmock "github.com/clinvox/clinvox/internal/record/mock"
	"github.com/clinvox/clinvox/internal/vecindex"
	vecmock "github.com/clinvox/clinvox/internal/vecindex/mock"
	"github.com/clinvox/clinvox/pkg/clinerr"
	asrmock "github.com/clinvox/clinvox/pkg/provider/asr/mock"
	embmock "github.com/clinvox/clinvox/pkg/provider/embeddings/mock"
	"github.com/clinvox/clinvox/pkg/provider/llm"
	llmmock "github.com/clinvox/clinvox/pkg/provider/llm/mock"
	ocrmock "github.com/clinvox/clinvox/pkg/provider/ocr/mock"
)

// testConfig returns a minimal config. Stores are injected in tests, so no
// DSN is needed.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			LogLevel:   config.LogInfo,
		},
		Ingest: config.IngestConfig{
			Workers:    2,
			QueueDepth: 4,
		},
	}
}

type fixture struct {
	store    *recmock.Store
	index    *vecmock.Index
	asr      *asrmock.Provider
	ocr      *ocrmock.Provider
	llm      *llmmock.Provider
	embedder *embmock.Provider
	app      *app.App
}

// newFixture wires an App onto fresh mocks. mutate may adjust the config or
// the mocks before the app is built.
func newFixture(t *testing.T, mutate func(*config.Config, *fixture)) *fixture {
	t.Helper()

	f := &fixture{
		store:    &recmock.Store{},
		index:    &vecmock.Index{},
		asr:      &asrmock.Provider{},
		ocr:      &ocrmock.Provider{},
		llm:      &llmmock.Provider{},
		embedder: &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}},
	}
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg, f)
	}

	application, err := app.New(context.Background(), cfg,
		&app.Providers{ASR: f.asr, LLM: f.llm, OCR: f.ocr, Embeddings: f.embedder},
		app.WithStore(f.store),
		app.WithIndex(f.index),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f.app = application

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.app.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})
	return f
}

// seedRecording puts a completed recording into the mock store.
func seedRecording(t *testing.T, store *recmock.Store, id, patient string) {
	t.Helper()
	rec := &record.Recording{
		ID:        id,
		Filename:  "consulta.wav",
		SizeBytes: 2048,
		Status:    record.StatusCompleted,
		Structured: map[string]any{
			"name": patient,
		},
	}
	if err := store.CreateRecording(context.Background(), rec); err != nil {
		t.Fatalf("seed recording %s: %v", id, err)
	}
}

// seedDocument puts a completed document into the mock store.
func seedDocument(t *testing.T, store *recmock.Store, id, patient string) {
	t.Helper()
	doc := &record.Document{
		ID:          id,
		Filename:    "informe.pdf",
		SizeBytes:   4096,
		FileKind:    record.FilePDF,
		Status:      record.StatusCompleted,
		PatientName: patient,
	}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed document %s: %v", id, err)
	}
}

// corpusEntry builds a recording-sourced index entry for retrieval tests.
func corpusEntry(vectorID, sourceID, patient, text string) vecindex.VectorEntry {
	return vecindex.VectorEntry{
		VectorID:    vectorID,
		SourceKind:  vecindex.SourceRecording,
		SourceID:    sourceID,
		Embedding:   []float32{0.1, 0.2, 0.3},
		PayloadText: text,
		Metadata: vecindex.Metadata{
			PatientName: patient,
			Diagnosis:   "gripe",
			Date:        "2026-03-14",
		},
	}
}

// ─── Construction ────────────────────────────────────────────────────────────

func TestNewMissingProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers *app.Providers
		want      []string
	}{
		{
			name:      "all missing",
			providers: nil,
			want:      []string{"asr", "llm", "ocr", "embeddings"},
		},
		{
			name: "llm missing",
			providers: &app.Providers{
				ASR:        &asrmock.Provider{},
				OCR:        &ocrmock.Provider{},
				Embeddings: &embmock.Provider{},
			},
			want: []string{"llm"},
		},
		{
			name: "embeddings missing",
			providers: &app.Providers{
				ASR: &asrmock.Provider{},
				LLM: &llmmock.Provider{},
				OCR: &ocrmock.Provider{},
			},
			want: []string{"embeddings"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := app.New(context.Background(), testConfig(), tt.providers,
				app.WithStore(&recmock.Store{}),
				app.WithIndex(&vecmock.Index{}),
			)
			if err == nil {
				t.Fatal("New() succeeded, want missing-provider error")
			}
			for _, name := range tt.want {
				if !strings.Contains(err.Error(), name) {
					t.Errorf("error %q does not name missing provider %q", err, name)
				}
			}
		})
	}
}

func TestNewRequiresDSNWithoutInjectedStores(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{
		ASR:        &asrmock.Provider{},
		LLM:        &llmmock.Provider{},
		OCR:        &ocrmock.Provider{},
		Embeddings: &embmock.Provider{},
	})
	if err == nil {
		t.Fatal("New() without stores or DSN succeeded")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error %q does not mention postgres_dsn", err)
	}
}

func TestNewRejectsUnknownCollection(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Collection = "other_things"

	_, err := app.New(context.Background(), cfg, &app.Providers{
		ASR:        &asrmock.Provider{},
		LLM:        &llmmock.Provider{},
		OCR:        &ocrmock.Provider{},
		Embeddings: &embmock.Provider{},
	},
		app.WithStore(&recmock.Store{}),
		app.WithIndex(&vecmock.Index{}),
	)
	if err == nil {
		t.Fatal("New() accepted an unsupported collection name")
	}
	if !strings.Contains(err.Error(), vecindex.Collection) {
		t.Errorf("error %q does not name the supported collection %q", err, vecindex.Collection)
	}
}

// ─── Record operations ───────────────────────────────────────────────────────

func TestGetRecording(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	seedRecording(t, f.store, "rec-1", "Pepito Gómez")

	rec, err := f.app.GetRecording(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetRecording() error: %v", err)
	}
	if rec.ID != "rec-1" {
		t.Errorf("recording id = %q, want rec-1", rec.ID)
	}

	_, err = f.app.GetRecording(context.Background(), "missing")
	if clinerr.KindOf(err) != clinerr.KindNotFound {
		t.Errorf("GetRecording(missing) kind = %v, want not_found", clinerr.KindOf(err))
	}
}

func TestGetDocument(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	seedDocument(t, f.store, "doc-1", "Ana Torres")

	doc, err := f.app.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if doc.PatientName != "Ana Torres" {
		t.Errorf("patient = %q, want Ana Torres", doc.PatientName)
	}

	_, err = f.app.GetDocument(context.Background(), "missing")
	if clinerr.KindOf(err) != clinerr.KindNotFound {
		t.Errorf("GetDocument(missing) kind = %v, want not_found", clinerr.KindOf(err))
	}
}

func TestDeleteRecordingCascades(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	seedRecording(t, f.store, "rec-1", "Pepito Gómez")
	f.index.MustUpsert(corpusEntry("v1", "rec-1", "Pepito Gómez", "consulta uno"))
	f.index.MustUpsert(corpusEntry("v2", "rec-1", "Pepito Gómez", "consulta dos"))
	f.index.MustUpsert(corpusEntry("v3", "rec-2", "Ana Torres", "otra consulta"))

	if err := f.app.DeleteRecording(context.Background(), "rec-1"); err != nil {
		t.Fatalf("DeleteRecording() error: %v", err)
	}

	if got := f.index.Len(); got != 1 {
		t.Errorf("index entries after delete = %d, want 1", got)
	}
	if _, ok := f.index.Entry("v3"); !ok {
		t.Error("entry of another recording was deleted")
	}
	if rec, _ := f.store.GetRecording(context.Background(), "rec-1"); rec != nil {
		t.Error("recording still present after delete")
	}

	var kind vecindex.SourceKind
	for _, c := range f.index.Calls() {
		if c.Method == "DeleteBySource" {
			kind = c.Args[0].(vecindex.SourceKind)
		}
	}
	if kind != vecindex.SourceRecording {
		t.Errorf("DeleteBySource kind = %q, want %q", kind, vecindex.SourceRecording)
	}
}

func TestDeleteRecordingKeepsRecordOnIndexFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	seedRecording(t, f.store, "rec-1", "Pepito Gómez")
	f.index.DeleteBySourceErr = clinerr.New(clinerr.KindProviderUnavailable, "index down")

	err := f.app.DeleteRecording(context.Background(), "rec-1")
	if err == nil {
		t.Fatal("DeleteRecording() succeeded despite index failure")
	}
	if got := f.store.CallCount("DeleteRecording"); got != 0 {
		t.Errorf("store delete ran %d times before the index was cleared, want 0", got)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	seedDocument(t, f.store, "doc-1", "Ana Torres")
	entry := corpusEntry("v1", "doc-1", "Ana Torres", "informe de laboratorio")
	entry.SourceKind = vecindex.SourceDocument
	f.index.MustUpsert(entry)

	if err := f.app.DeleteDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("DeleteDocument() error: %v", err)
	}
	if got := f.index.Len(); got != 0 {
		t.Errorf("index entries after delete = %d, want 0", got)
	}
	if doc, _ := f.store.GetDocument(context.Background(), "doc-1"); doc != nil {
		t.Error("document still present after delete")
	}
}

// ─── Chat ────────────────────────────────────────────────────────────────────

func TestChatValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  app.ChatRequest
	}{
		{"empty query", app.ChatRequest{Query: ""}},
		{"whitespace query", app.ChatRequest{Query: "   \t  "}},
		{"overlong query", app.ChatRequest{Query: strings.Repeat("a", 1001)}},
		{"bad date filter", app.ChatRequest{
			Query:   "tratamiento de la gripe",
			Filters: app.ChatFilters{DateFrom: "14/03/2026"},
		}},
		{"bad source kind", app.ChatRequest{
			Query:   "tratamiento de la gripe",
			Filters: app.ChatFilters{SourceKind: "email"},
		}},
	}

	f := newFixture(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.app.Chat(context.Background(), tt.req)
			if clinerr.KindOf(err) != clinerr.KindInvalidInput {
				t.Errorf("Chat() kind = %v, want invalid_input", clinerr.KindOf(err))
			}
		})
	}
}

func TestChatAnswersFromCorpus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *config.Config, f *fixture) {
		f.index.SearchResults = []vecindex.SearchResult{
			{Entry: corpusEntry("v1", "rec-1", "Pepito Gómez", "Paciente con gripe, se indicó paracetamol cada ocho horas."), Similarity: 0.92},
		}
		f.llm.Response = &llm.Response{Content: "Se indicó paracetamol cada ocho horas."}
	})

	res, err := f.app.Chat(context.Background(), app.ChatRequest{
		Query:          "tratamiento de la gripe",
		MaxResults:     3,
		IncludeSources: true,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if res.Fallback {
		t.Error("answer flagged as fallback despite matching context")
	}
	if !strings.Contains(res.Text, "paracetamol") {
		t.Errorf("answer %q does not carry the model text", res.Text)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(res.Sources))
	}
	if res.Sources[0].ID != "rec-1" {
		t.Errorf("source id = %q, want rec-1", res.Sources[0].ID)
	}
	if res.Confidence <= 0 {
		t.Errorf("confidence = %g, want > 0", res.Confidence)
	}
	if res.ProcessingMS < 0 {
		t.Errorf("processing ms = %d, want >= 0", res.ProcessingMS)
	}
	if f.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", f.llm.CallCount())
	}
}

func TestChatStripsSourcesWhenNotRequested(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *config.Config, f *fixture) {
		f.index.SearchResults = []vecindex.SearchResult{
			{Entry: corpusEntry("v1", "rec-1", "Pepito Gómez", "Paciente con gripe."), Similarity: 0.9},
		}
		f.llm.Response = &llm.Response{Content: "Diagnóstico de gripe."}
	})

	res, err := f.app.Chat(context.Background(), app.ChatRequest{
		Query:          "tratamiento de la gripe",
		IncludeSources: false,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if res.Sources != nil {
		t.Errorf("sources = %v, want nil when not requested", res.Sources)
	}
}

func TestChatFallsBackOnEmptyCorpus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil) // index starts empty

	res, err := f.app.Chat(context.Background(), app.ChatRequest{
		Query:          "tratamiento de la gripe",
		IncludeSources: true,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if !res.Fallback {
		t.Error("answer not flagged as fallback on empty corpus")
	}
	if res.Text == "" {
		t.Error("fallback answer has no text")
	}
	if f.llm.CallCount() != 0 {
		t.Errorf("llm calls = %d, want 0 without context", f.llm.CallCount())
	}
}

func TestChatClampsMaxResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		max   int
		wantK int
	}{
		{"zero means default", 0, app.DefaultChatResults},
		{"negative means default", -3, app.DefaultChatResults},
		{"in range passes through", 7, 7},
		{"above cap clamps", 50, app.MaxChatResults},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(_ *config.Config, f *fixture) {
				f.llm.Response = &llm.Response{Content: "respuesta"}
			})
			_, err := f.app.Chat(context.Background(), app.ChatRequest{
				Query:      "tratamiento de la gripe",
				MaxResults: tt.max,
			})
			if err != nil {
				t.Fatalf("Chat() error: %v", err)
			}

			var gotK int
			for _, c := range f.index.Calls() {
				if c.Method == "Search" {
					gotK = c.Args[0].(int)
				}
			}
			if gotK != tt.wantK {
				t.Errorf("search k = %d, want %d", gotK, tt.wantK)
			}
		})
	}
}

// ─── Search ──────────────────────────────────────────────────────────────────

func TestSearchMapsHits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *config.Config, f *fixture) {
		f.index.SearchResults = []vecindex.SearchResult{
			{Entry: corpusEntry("v1", "rec-1", "Pepito Gómez", "Paciente con gripe, tos persistente."), Similarity: 0.95},
			{Entry: corpusEntry("v2", "rec-2", "Ana Torres", "Control de gripe sin complicaciones."), Similarity: 0.70},
		}
	})

	hits, err := f.app.Search(context.Background(), app.SearchRequest{
		Query: "tratamiento de la gripe",
		K:     5,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	first := hits[0]
	if first.SourceID != "rec-1" || first.Kind != vecindex.SourceRecording {
		t.Errorf("first hit source = %s/%s, want recording/rec-1", first.Kind, first.SourceID)
	}
	if first.PatientName != "Pepito Gómez" {
		t.Errorf("first hit patient = %q, want Pepito Gómez", first.PatientName)
	}
	if first.Excerpt == "" {
		t.Error("first hit has no excerpt")
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits out of order: %g before %g", hits[0].Score, hits[1].Score)
	}
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, err := f.app.Search(context.Background(), app.SearchRequest{Query: "  "})
	if clinerr.KindOf(err) != clinerr.KindInvalidInput {
		t.Errorf("Search(empty) kind = %v, want invalid_input", clinerr.KindOf(err))
	}

	_, err = f.app.Search(context.Background(), app.SearchRequest{Query: strings.Repeat("q", 1001)})
	if clinerr.KindOf(err) != clinerr.KindInvalidInput {
		t.Errorf("Search(overlong) kind = %v, want invalid_input", clinerr.KindOf(err))
	}
}

func TestSearchEmptyCorpusReturnsNoHits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	hits, err := f.app.Search(context.Background(), app.SearchRequest{Query: "tratamiento de la gripe"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}
}

// ─── Status and health ───────────────────────────────────────────────────────

func TestVectorStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *config.Config, f *fixture) {
		f.index.ModelID = "test-embed-v1"
	})
	f.index.MustUpsert(corpusEntry("v1", "rec-1", "Pepito Gómez", "uno"))
	f.index.MustUpsert(corpusEntry("v2", "rec-2", "Ana Torres", "dos"))

	stats, err := f.app.VectorStatus(context.Background())
	if err != nil {
		t.Fatalf("VectorStatus() error: %v", err)
	}
	if stats.Count != 2 {
		t.Errorf("count = %d, want 2", stats.Count)
	}
	if stats.Collection != vecindex.Collection {
		t.Errorf("collection = %q, want %q", stats.Collection, vecindex.Collection)
	}
	if stats.ModelID != "test-embed-v1" {
		t.Errorf("model = %q, want test-embed-v1", stats.ModelID)
	}
}

func TestCheckersCoverDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	checkers := f.app.Checkers()
	byName := make(map[string]func(context.Context) error, len(checkers))
	for _, c := range checkers {
		byName[c.Name] = c.Check
	}
	for _, name := range []string{"database", "vector_store"} {
		check, ok := byName[name]
		if !ok {
			t.Fatalf("no %q checker", name)
		}
		if err := check(context.Background()); err != nil {
			t.Errorf("%s check on healthy mocks: %v", name, err)
		}
	}

	f.store.ListRecordingsErr = errors.New("connection refused")
	if err := byName["database"](context.Background()); err == nil {
		t.Error("database check passed despite store failure")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestShutdownHonorsDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired

	if err := f.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown(expired ctx) = %v, want context.Canceled", err)
	}
}
