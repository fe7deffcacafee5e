// Package ingest drives uploaded audio and documents through the processing
// pipeline: validation, transcription or OCR, medical field extraction,
// speaker diarization and vector indexing.
//
// The [Pipeline] owns a fixed-size worker pool fed by a bounded queue.
// Accepted uploads return immediately with a pending record; a worker then
// advances the record through its stages, fencing every write on the record
// store's compare-and-swap primitives, so a record is only ever touched by
// the worker that owns it. Diarization and indexing are soft stages: their
// failure is flagged on the record and the pipeline continues. Transcription,
// OCR and extraction failures move the record to Failed with a kind that
// tells malformed media apart from provider outages.
//
// Cancellation is cooperative. Every provider call carries a stage deadline,
// and cancelling the pipeline via [Pipeline.Shutdown] marks in-flight
// records Failed with a cancellation error instead of leaving them stuck in
// an intermediate status. Completed stages are never rolled back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/clinvox/clinvox/internal/diarize"
	"github.com/clinvox/clinvox/internal/extract"
	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
	"github.com/clinvox/clinvox/pkg/provider/embeddings"
	"github.com/clinvox/clinvox/pkg/provider/ocr"
)

// Pool sizing defaults. Workers bounds how many records process at once;
// QueueDepth bounds how many accepted uploads may wait for a worker beyond
// that. Submissions past workers+queue fail fast with [clinerr.KindBusy].
const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 16
)

// DefaultMinOCRConfidence is the floor below which image OCR output is
// rejected as unreadable.
const DefaultMinOCRConfidence = 0.60

// defaultLanguage is the transcription and OCR language hint.
const defaultLanguage = "es"

// transcribePrompt steers the ASR model towards clinical dialogue
// vocabulary before the first spoken word arrives.
const transcribePrompt = "Esta es una conversación médica entre doctor y paciente."

// maxPDFPages caps how many pages of a PDF are extracted.
const maxPDFPages = 50

// patientLinkThreshold is the fuzzy name score at or above which a document
// is linked to a recording of the same patient.
const patientLinkThreshold = 0.85

// Deadlines for external calls, per provider class.
const (
	asrTimeout    = 300 * time.Second
	ocrTimeout    = 120 * time.Second
	llmTimeout    = 60 * time.Second
	embedTimeout  = 30 * time.Second
	vectorTimeout = 10 * time.Second

	// failWriteTimeout bounds the terminal store write after a failure,
	// which must still land when the job context is already cancelled.
	failWriteTimeout = 5 * time.Second
)

// Config assembles the dependencies and tuning of a [Pipeline]. Store,
// Index, ASR, OCR, Extractor, Diarizer and Embedder are required.
type Config struct {
	// Store persists recordings and documents.
	Store record.Store

	// Index receives one vector entry per completed record.
	Index vecindex.Index

	// ASR transcribes uploaded audio.
	ASR asr.Provider

	// OCR extracts text from uploaded PDFs and images.
	OCR ocr.Provider

	// Extractor pulls structured medical fields out of transcripts and
	// document text.
	Extractor *extract.Extractor

	// Diarizer assigns speaker roles to transcript segments.
	Diarizer *diarize.Diarizer

	// Embedder turns payload text into vectors for the index.
	Embedder embeddings.Provider

	// Metrics receives stage durations and pool gauges. Nil means the
	// package default instance.
	Metrics *observe.Metrics

	// Workers is the worker pool size. Zero means [DefaultWorkers].
	Workers int

	// QueueDepth is how many accepted jobs may wait for a free worker.
	// Zero means [DefaultQueueDepth].
	QueueDepth int

	// Language hints the transcription and OCR language. Empty means "es".
	Language string

	// MinOCRConfidence rejects image OCR output scoring below it. Zero
	// means [DefaultMinOCRConfidence]; a negative value disables the floor.
	MinOCRConfidence float64
}

// Pipeline processes uploads in the background. Create one with [New] and
// release it with [Pipeline.Shutdown]. All methods are safe for concurrent
// use.
type Pipeline struct {
	store       record.Store
	index       vecindex.Index
	transcriber asr.Provider
	ocr         ocr.Provider
	extractor   *extract.Extractor
	diarizer    *diarize.Diarizer
	embedder    embeddings.Provider
	metrics     *observe.Metrics

	language         string
	minOCRConfidence float64

	// sem caps concurrently running jobs; pending counts running plus
	// queued jobs and is bounded by maxPending.
	sem        *semaphore.Weighted
	maxPending int64
	pending    atomic.Int64

	jobCtx   context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a [Pipeline] from cfg. It fails when a required dependency is
// missing.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil || cfg.Index == nil || cfg.ASR == nil || cfg.OCR == nil ||
		cfg.Extractor == nil || cfg.Diarizer == nil || cfg.Embedder == nil {
		return nil, errors.New("ingest: Store, Index, ASR, OCR, Extractor, Diarizer and Embedder are all required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queue := cfg.QueueDepth
	if queue <= 0 {
		queue = DefaultQueueDepth
	}
	minOCR := cfg.MinOCRConfidence
	if minOCR == 0 {
		minOCR = DefaultMinOCRConfidence
	}
	if minOCR < 0 {
		minOCR = 0
	}
	language := cfg.Language
	if language == "" {
		language = defaultLanguage
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:            cfg.Store,
		index:            cfg.Index,
		transcriber:      cfg.ASR,
		ocr:              cfg.OCR,
		extractor:        cfg.Extractor,
		diarizer:         cfg.Diarizer,
		embedder:         cfg.Embedder,
		metrics:          metrics,
		language:         language,
		minOCRConfidence: minOCR,
		sem:              semaphore.NewWeighted(int64(workers)),
		maxPending:       int64(workers + queue),
		jobCtx:           ctx,
		stop:             cancel,
	}, nil
}

// Shutdown cancels all in-flight jobs and waits for the workers to drain.
// In-flight records are marked Failed with a cancellation error. Shutdown
// returns ctx's error if the workers do not drain in time. Safe to call more
// than once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many jobs are currently queued or running.
func (p *Pipeline) Pending() int {
	return int(p.pending.Load())
}

// reserve claims a pool slot, failing fast with [clinerr.KindBusy] when the
// queue is full or the pipeline is shutting down. Every successful reserve
// must be paired with a spawn, which releases the slot when the job ends.
func (p *Pipeline) reserve() error {
	if p.jobCtx.Err() != nil {
		return clinerr.New(clinerr.KindBusy, "ingest: pipeline is shut down")
	}
	if p.pending.Add(1) > p.maxPending {
		p.pending.Add(-1)
		return clinerr.New(clinerr.KindBusy, "ingest: queue full (%d jobs pending)", p.maxPending)
	}
	p.metrics.QueueDepth.Add(context.Background(), 1)
	return nil
}

// spawn runs job on a pool worker. While all workers are busy the job waits
// in the queue; if the pipeline shuts down before a worker frees up, abort is
// called instead of job.
func (p *Pipeline) spawn(job func(ctx context.Context), abort func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.pending.Add(-1)
		if err := p.sem.Acquire(p.jobCtx, 1); err != nil {
			p.metrics.QueueDepth.Add(context.Background(), -1)
			abort()
			return
		}
		defer p.sem.Release(1)
		p.metrics.QueueDepth.Add(context.Background(), -1)
		p.metrics.ActiveJobs.Add(context.Background(), 1)
		defer p.metrics.ActiveJobs.Add(context.Background(), -1)
		job(p.jobCtx)
	}()
}

// failCtx derives a short-lived context for terminal writes. It survives
// cancellation of ctx so a cancelled job can still record its failure.
func failCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
}

// classifyStage maps a stage error onto the failure kind stored on the
// record. Media, availability, timeout and cancellation kinds pass through;
// everything else becomes Internal tagged with the stage name.
func classifyStage(stage string, err error) error {
	kind := clinerr.KindOf(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = clinerr.KindTimeout
	case errors.Is(err, context.Canceled):
		kind = clinerr.KindCancelled
	}
	switch kind {
	case clinerr.KindInvalidMedia, clinerr.KindProviderUnavailable, clinerr.KindTimeout, clinerr.KindCancelled:
	default:
		kind = clinerr.KindInternal
	}
	return clinerr.Wrap(kind, err, "ingest: "+stage)
}

// embedPayload embeds payload text under the embedding deadline.
func (p *Pipeline) embedPayload(ctx context.Context, payload string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	defer p.observeStage(ctx, "embed", time.Now())
	return p.embedder.Embed(ctx, payload)
}

// upsertEntry writes an index entry under the vector-store deadline.
func (p *Pipeline) upsertEntry(ctx context.Context, entry vecindex.VectorEntry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, vectorTimeout)
	defer cancel()
	defer p.observeStage(ctx, "index", time.Now())
	return p.index.Upsert(ctx, entry)
}

// observeStage records a stage duration measured from start.
func (p *Pipeline) observeStage(ctx context.Context, stage string, start time.Time) {
	p.metrics.RecordStage(ctx, stage, time.Since(start).Seconds())
}

// stringField reads a string value out of an extracted field map.
func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// stringListField reads a string list out of an extracted field map. Freshly
// extracted maps hold []string; maps reloaded from the store hold []any.
func stringListField(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// speakerMix names the speaker roles that carry time in the diarized
// conversation, e.g. "promotor+paciente".
func speakerMix(stats *record.SpeakerStats) string {
	if stats == nil {
		return ""
	}
	var parts []string
	if stats.PromotorTime > 0 {
		parts = append(parts, string(record.SpeakerPromotor))
	}
	if stats.PatientTime > 0 {
		parts = append(parts, string(record.SpeakerPatient))
	}
	if stats.UnknownTime > 0 {
		parts = append(parts, string(record.SpeakerUnknown))
	}
	return strings.Join(parts, "+")
}

// vectorIDFor returns the record's existing index entry id, or derives a
// fresh one from the source kind, the source id and an 8-hex disambiguator.
// Reusing the id keeps re-runs idempotent.
func vectorIDFor(kind, sourceID, current string) string {
	if current != "" {
		return current
	}
	return fmt.Sprintf("%s_%s_%s", kind, sourceID, uuid.NewString()[:8])
}
