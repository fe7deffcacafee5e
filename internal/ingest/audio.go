package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clinvox/clinvox/internal/diarize"
	"github.com/clinvox/clinvox/internal/extract"
	"github.com/clinvox/clinvox/internal/record"
	"github.com/clinvox/clinvox/internal/vecindex"
	"github.com/clinvox/clinvox/pkg/audio"
	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/asr"
)

// SubmitAudio validates an audio upload, persists a pending recording and
// schedules its pipeline run. It returns a snapshot of the freshly created
// recording; processing continues in the background.
//
// Invalid uploads fail with [clinerr.KindInvalidMedia] and a full queue with
// [clinerr.KindBusy]; in both cases no recording is created.
func (p *Pipeline) SubmitAudio(ctx context.Context, up AudioUpload) (*record.Recording, error) {
	mime, err := validateAudio(up)
	if err != nil {
		return nil, err
	}

	rec := &record.Recording{
		ID:           uuid.NewString(),
		Filename:     up.Filename,
		SizeBytes:    int64(len(up.Data)),
		MIME:         mime,
		Status:       record.StatusPending,
		Diarization:  record.DiarizationPending,
		VectorStored: record.VectorPending,
	}

	if err := p.reserve(); err != nil {
		return nil, err
	}
	if err := p.store.CreateRecording(ctx, rec); err != nil {
		p.pending.Add(-1)
		return nil, err
	}

	start := time.Now()
	data := up.Data
	lang := up.Language
	if lang == "" {
		lang = p.language
	}
	job := *rec
	p.spawn(
		func(ctx context.Context) { p.processRecording(ctx, &job, data, lang, start) },
		func() {
			p.failRecording(p.jobCtx, rec.ID,
				clinerr.New(clinerr.KindCancelled, "ingest: pipeline shut down before processing"), start)
		},
	)

	snapshot := *rec
	return &snapshot, nil
}

// processRecording runs the pipeline stages for one recording and settles
// the record into a terminal status.
func (p *Pipeline) processRecording(ctx context.Context, rec *record.Recording, data []byte, lang string, start time.Time) {
	err := p.runRecordingStages(ctx, rec, data, lang, start)
	if err == nil {
		slog.Info("ingest: recording completed",
			"id", rec.ID,
			"duration_s", rec.DurationS,
			"diarization", rec.Diarization,
			"vector", rec.VectorStored,
			"processing_ms", rec.ProcessingMS,
		)
		return
	}
	if clinerr.KindOf(err) == clinerr.KindNotFound {
		// The record was deleted mid-flight; there is nothing left to mark.
		slog.Debug("ingest: recording removed mid-pipeline", "id", rec.ID)
		return
	}
	p.failRecording(ctx, rec.ID, err, start)
}

// runRecordingStages advances a recording Pending through Completed. Each
// stage transitions the status first, does its work and persists the result
// under the store's compare-and-swap fence.
func (p *Pipeline) runRecordingStages(ctx context.Context, rec *record.Recording, data []byte, lang string, start time.Time) error {
	// Transcription. A failure here is fatal for the record.
	if err := p.advanceRecording(ctx, rec, record.StatusTranscribing); err != nil {
		return err
	}
	res, err := p.transcribe(ctx, data, lang)
	if err != nil {
		return classifyStage("transcription", err)
	}
	rec.Transcript = res.Text
	rec.Language = res.Language
	rec.DurationS = res.Duration
	rec.Confidence = res.Confidence
	if err := p.store.UpdateRecording(ctx, rec); err != nil {
		return err
	}

	// Medical field extraction, structured and contextual in parallel.
	// A malformed model reply degrades to empty maps; provider failures
	// are fatal.
	if err := p.advanceRecording(ctx, rec, record.StatusExtracting); err != nil {
		return err
	}
	structured, unstructured, err := p.extractFields(ctx, rec)
	if err != nil {
		return classifyStage("extraction", err)
	}
	rec.Structured = structured
	rec.Unstructured = unstructured
	if err := p.store.UpdateRecording(ctx, rec); err != nil {
		return err
	}

	// Diarization, soft: failure flags the record and the pipeline moves on.
	if err := p.advanceRecording(ctx, rec, record.StatusDiarizing); err != nil {
		return err
	}
	if err := p.diarizeRecording(ctx, rec, res.Segments, data); err != nil {
		return classifyStage("diarization", err)
	}
	if err := p.store.UpdateRecording(ctx, rec); err != nil {
		return err
	}

	// Vector indexing, soft as well.
	if err := p.advanceRecording(ctx, rec, record.StatusIndexing); err != nil {
		return err
	}
	if err := p.indexRecording(ctx, rec); err != nil {
		return classifyStage("indexing", err)
	}

	now := time.Now().UTC()
	rec.Status = record.StatusCompleted
	rec.ProcessingMS = time.Since(start).Milliseconds()
	rec.ProcessedAt = &now
	return p.store.UpdateRecording(ctx, rec)
}

// advanceRecording moves the recording to the next status and refreshes rec
// from the store, since the transition bumps the update fence.
func (p *Pipeline) advanceRecording(ctx context.Context, rec *record.Recording, to record.Status) error {
	if err := p.store.TransitionRecording(ctx, rec.ID, rec.Status, to); err != nil {
		return err
	}
	fresh, err := p.store.GetRecording(ctx, rec.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return clinerr.New(clinerr.KindNotFound, "ingest: recording %q vanished", rec.ID)
	}
	*rec = *fresh
	return nil
}

// transcribe calls the ASR provider under the transcription deadline.
func (p *Pipeline) transcribe(ctx context.Context, data []byte, lang string) (*asr.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, asrTimeout)
	defer cancel()
	defer p.observeStage(ctx, "transcribe", time.Now())
	return p.transcriber.Transcribe(ctx, data, asr.Hints{
		Language:      lang,
		InitialPrompt: transcribePrompt,
	})
}

// extractFields runs structured and contextual extraction concurrently. A
// reply the model never managed to shape into JSON leaves that side as an
// empty map; any other error aborts both sides.
func (p *Pipeline) extractFields(ctx context.Context, rec *record.Recording) (structured, unstructured map[string]any, err error) {
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()
	defer p.observeStage(ctx, "extract", time.Now())

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		m, err := p.extractor.ExtractStructured(egCtx, rec.Transcript)
		if err != nil {
			if !errors.Is(err, extract.ErrMalformedResponse) {
				return err
			}
			slog.Warn("ingest: structured extraction degraded", "id", rec.ID, "error", err)
		}
		structured = m
		return nil
	})
	eg.Go(func() error {
		m, err := p.extractor.ExtractUnstructured(egCtx, rec.Transcript)
		if err != nil {
			if !errors.Is(err, extract.ErrMalformedResponse) {
				return err
			}
			slog.Warn("ingest: contextual extraction degraded", "id", rec.ID, "error", err)
		}
		unstructured = m
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return structured, unstructured, nil
}

// diarizeRecording assigns speaker roles. WAV uploads contribute acoustic
// evidence; MP3s fall back to text-only classification. Only a cancellation
// escalates into an error; everything else flags the record and continues.
func (p *Pipeline) diarizeRecording(ctx context.Context, rec *record.Recording, segs []asr.Segment, data []byte) error {
	defer p.observeStage(ctx, "diarize", time.Now())
	in := diarize.Input{
		Transcript: rec.Transcript,
		Segments:   segs,
		Duration:   rec.DurationS,
	}
	if clip, err := audio.DecodeWAV(data); err == nil {
		in.Clip = clip
	}

	out, err := p.diarizer.Diarize(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("ingest: diarization failed", "id", rec.ID, "error", err)
		rec.Diarization = record.DiarizationFailed
		return nil
	}
	rec.SpeakerSegments = out.Segments
	rec.SpeakerStats = &out.Stats
	rec.Diarization = record.DiarizationDone
	return nil
}

// indexRecording embeds the recording's payload and upserts its index entry.
// A recording without any payload text is marked skipped; embed or upsert
// failures are flagged and the record still completes.
func (p *Pipeline) indexRecording(ctx context.Context, rec *record.Recording) error {
	md := recordingMetadata(rec)
	payload := vecindex.BuildPayload(rec.Transcript, md)
	if payload == "" {
		rec.VectorStored = record.VectorSkipped
		return nil
	}

	vectorID := vectorIDFor("conv", rec.ID, rec.VectorID)
	vec, err := p.embedPayload(ctx, payload)
	if err == nil {
		entry := vecindex.VectorEntry{
			VectorID:    vectorID,
			SourceKind:  vecindex.SourceRecording,
			SourceID:    rec.ID,
			Embedding:   vec,
			PayloadText: payload,
			Metadata:    md,
		}
		if _, err = p.upsertEntry(ctx, entry); err == nil {
			rec.VectorStored = record.VectorStored
			rec.VectorID = vectorID
			return nil
		}
	}
	if ctx.Err() != nil {
		return err
	}
	slog.Warn("ingest: vector indexing failed", "id", rec.ID, "error", err)
	rec.VectorStored = record.VectorFailed
	return nil
}

// recordingMetadata assembles index metadata from the extracted field maps.
func recordingMetadata(rec *record.Recording) vecindex.Metadata {
	return vecindex.Metadata{
		PatientName: stringField(rec.Structured, "name"),
		Diagnosis:   stringField(rec.Structured, "diagnosis"),
		Medications: stringListField(rec.Structured, "medications"),
		Date:        stringField(rec.Structured, "date"),
		Symptoms:    stringListField(rec.Unstructured, "symptoms"),
		Context:     stringField(rec.Unstructured, "context"),
		SpeakerMix:  speakerMix(rec.SpeakerStats),
	}
}

// failRecording settles a recording into Failed. The write happens on a
// detached context so it lands even when the job itself was cancelled.
func (p *Pipeline) failRecording(ctx context.Context, id string, cause error, start time.Time) {
	slog.Error("ingest: recording pipeline failed", "id", id, "error", cause)

	wctx, cancel := failCtx(ctx)
	defer cancel()

	rec, err := p.store.GetRecording(wctx, id)
	if err != nil {
		slog.Error("ingest: cannot load recording to mark it failed", "id", id, "error", err)
		return
	}
	if rec == nil || rec.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	rec.Status = record.StatusFailed
	rec.ErrorMessage = cause.Error()
	rec.ProcessingMS = time.Since(start).Milliseconds()
	rec.ProcessedAt = &now
	if err := p.store.UpdateRecording(wctx, rec); err != nil {
		slog.Error("ingest: cannot mark recording failed", "id", id, "error", err)
	}
}
