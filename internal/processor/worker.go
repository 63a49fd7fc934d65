package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
)

// Worker implements jobs.Processor: it drives one job through the extraction
// state machine. Whatever happens inside Process, the job ends in a terminal
// state; a job is never left stuck because of an unhandled fault.
type Worker struct {
	Log        *slog.Logger
	Cfg        *config.Config
	Store      jobs.Store
	Extractors *extract.Registry
}

// Ensure Worker implements jobs.Processor
var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, cfg *config.Config, store jobs.Store, reg *extract.Registry) *Worker {
	return &Worker{
		Log:        log,
		Cfg:        cfg,
		Store:      store,
		Extractors: reg,
	}
}

func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) (err error) {
	job := item.Job

	// Top-level fault boundary: a panic anywhere below still terminates the
	// job with internal_error.
	defer func() {
		if rec := recover(); rec != nil {
			w.finish(job.ID, jobs.StatusFailed,
				jobs.NewJobError(jobs.CodeInternalError, "extraction aborted unexpectedly").
					WithDetails(fmt.Sprint(rec)))
			err = fmt.Errorf("panic during extraction: %v", rec)
		}
	}()

	// Cosmetic settle delay so the first poll sees the detecting stage.
	if d := w.Cfg.Extraction.SettleDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}

	if err := w.Store.UpdateProgress(job.ID, jobs.StatusDetecting, jobs.StepDetectingPlatform, jobs.ProgressDetecting); err != nil {
		w.finish(job.ID, jobs.StatusFailed, jobs.NewJobError(jobs.CodeInternalError, "could not advance the job").WithDetails(err.Error()))
		return fmt.Errorf("update to detecting: %w", err)
	}

	ext, ok := w.Extractors.Get(job.Platform)
	if !ok {
		jerr := jobs.NewJobError(jobs.CodeUnsupportedPlatform,
			fmt.Sprintf("no extractor is registered for platform %q", job.Platform))
		w.finish(job.ID, jerr.TerminalStatus(), jerr)
		return jerr
	}

	if err := w.Store.UpdateProgress(job.ID, jobs.StatusMetadata, jobs.StepExtractingMetadata, jobs.ProgressMetadata); err != nil {
		w.finish(job.ID, jobs.StatusFailed, jobs.NewJobError(jobs.CodeInternalError, "could not advance the job").WithDetails(err.Error()))
		return fmt.Errorf("update to metadata: %w", err)
	}

	// Every provider call shares one timeout budget for the job.
	extractCtx, cancel := context.WithTimeout(ctx, w.Cfg.Extraction.Timeout)
	defer cancel()

	res, jerr := ext.Extract(extractCtx, job.NormalizedURL)
	if jerr != nil {
		w.finish(job.ID, jerr.TerminalStatus(), jerr)
		return jerr
	}
	if res == nil || res.Metadata == nil {
		jerr := jobs.NewJobError(jobs.CodeExtractionFailed, "the extractor returned no metadata")
		w.finish(job.ID, jerr.TerminalStatus(), jerr)
		return jerr
	}

	warnings := append([]string(nil), res.Warnings...)
	var transcript *string
	if job.IncludeTranscript {
		if err := w.Store.UpdateProgress(job.ID, jobs.StatusTranscript, jobs.StepExtractingTranscript, jobs.ProgressTranscript); err != nil {
			w.Log.Warn("update to transcript stage failed", "job_id", job.ID, "err", err)
		}
		// Metadata already succeeded: a transcript failure degrades to a
		// warning, it does not fail the job.
		text, terr := ext.Transcript(extractCtx, job.NormalizedURL)
		if terr != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %s", jobs.CodeTranscriptFailed, terr.Message))
			w.Log.Info("transcript unavailable", "job_id", job.ID, "reason", terr.Message)
		} else {
			transcript = &text
		}
	}

	if err := w.Store.SaveResult(job.ID, res.Metadata, transcript, warnings, time.Now().UTC()); err != nil {
		// The result is lost; record a terminal failure rather than leaving
		// the job mid-flight.
		w.finish(job.ID, jobs.StatusFailed, jobs.NewJobError(jobs.CodeInternalError, "could not persist the extraction result").WithDetails(err.Error()))
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// finish records a terminal error state, best-effort.
func (w *Worker) finish(jobID string, status jobs.Status, jerr *jobs.JobError) {
	if err := w.Store.SaveError(jobID, status, jerr, time.Now().UTC()); err != nil {
		w.Log.Error("failed to record terminal state", "job_id", jobID, "code", jerr.Code, "err", err)
	}
}
