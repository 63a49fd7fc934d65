// Package pipeline holds the submission orchestrator and the status service:
// the write and read halves of the extraction job protocol.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/util"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

// SubmitOptions are the caller-controlled extraction options.
type SubmitOptions struct {
	IncludeTranscript bool
	// ForceRefresh creates a new job even when a completed one exists for
	// the same (owner, normalized URL). Without it, completed jobs are
	// reused indefinitely.
	ForceRefresh bool
}

// SubmitResult is returned to the caller immediately; extraction continues
// in the background and is observed by polling.
type SubmitResult struct {
	JobID           string
	Status          jobs.Status
	EstimatedTimeMs int64
	PollIntervalMs  int64
	Message         string
	// Reused is true when an existing job satisfied the submission.
	Reused bool
}

// Orchestrator validates submissions, resolves idempotency and hands
// accepted jobs to the worker queue.
type Orchestrator struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Store jobs.Store
	Queue *jobs.Queue
}

func NewOrchestrator(log *slog.Logger, cfg *config.Config, store jobs.Store, queue *jobs.Queue) *Orchestrator {
	return &Orchestrator{Log: log, Cfg: cfg, Store: store, Queue: queue}
}

// Submit runs the synchronous half of the pipeline: validate, normalize,
// detect, dedupe, create, enqueue. It returns a typed JobError for
// rejections; accepted submissions return immediately while extraction runs
// detached from the caller.
func (o *Orchestrator) Submit(ctx context.Context, ownerID, rawURL string, opts SubmitOptions) (*SubmitResult, *jobs.JobError) {
	rawURL = strings.TrimSpace(rawURL)
	if jerr := validateSyntax(rawURL); jerr != nil {
		return nil, jerr
	}

	normalized, err := videourl.Normalize(rawURL)
	if err != nil {
		if errors.Is(err, videourl.ErrBadVideoID) {
			return nil, jobs.NewJobError(jobs.CodeInvalidURL, "the video id in the URL is malformed").WithDetails(err.Error())
		}
		return nil, jobs.NewJobError(jobs.CodeInvalidURL, "the URL could not be normalized").WithDetails(err.Error())
	}

	platform := videourl.Detect(normalized)
	if platform == videourl.PlatformUnknown {
		return nil, jobs.NewJobError(jobs.CodeUnsupportedPlatform,
			"only YouTube Shorts, TikTok and Instagram Reels are supported")
	}

	// Idempotency: one in-flight job per (owner, normalized URL), and
	// completed jobs are reused unless the caller forces a refresh.
	existing, err := o.Store.FindLatestByOwnerAndURL(ownerID, normalized)
	if err != nil {
		return nil, jobs.NewJobError(jobs.CodeInternalError, "could not check for an existing job").WithDetails(err.Error())
	}
	if existing != nil {
		if !existing.Status.Terminal() {
			return o.reuse(existing, "this video is already being processed"), nil
		}
		if existing.Status == jobs.StatusCompleted && !opts.ForceRefresh {
			return o.reuse(existing, "this video was already processed"), nil
		}
	}

	now := time.Now().UTC()
	job := &jobs.ProcessingJob{
		ID:                util.NewID(),
		OwnerID:           ownerID,
		OriginalURL:       rawURL,
		NormalizedURL:     normalized,
		Platform:          platform,
		IncludeTranscript: opts.IncludeTranscript,
		Status:            jobs.StatusCreated,
		CurrentStep:       jobs.StepValidatingURL,
		Progress:          jobs.ProgressCreated,
		MaxPollCount:      o.Cfg.Polling.MaxPollCount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.Store.CreateJob(job); err != nil {
		return nil, jobs.NewJobError(jobs.CodeInternalError, "could not create the job").WithDetails(err.Error())
	}
	o.Log.Info("job created", "job_id", job.ID, "owner", ownerID, "platform", platform)

	if err := o.Queue.Enqueue(jobs.WorkItem{Job: *job}); err != nil {
		// The record exists but nothing will ever run it: terminate it now so
		// it is not left stuck in a non-terminal state.
		jerr := jobs.NewJobError(jobs.CodeInternalError, "the processing queue is full, try again shortly")
		if saveErr := o.Store.SaveError(job.ID, jobs.StatusFailed, jerr, time.Now().UTC()); saveErr != nil {
			o.Log.Error("failed to terminate unqueued job", "job_id", job.ID, "err", saveErr)
		}
		return nil, jerr
	}

	return &SubmitResult{
		JobID:           job.ID,
		Status:          job.Status,
		EstimatedTimeMs: o.Cfg.Extraction.EstimatedTimeMs,
		PollIntervalMs:  o.Cfg.Polling.BaseIntervalMs,
		Message:         "processing started",
	}, nil
}

func (o *Orchestrator) reuse(job *jobs.ProcessingJob, message string) *SubmitResult {
	return &SubmitResult{
		JobID:           job.ID,
		Status:          job.Status,
		EstimatedTimeMs: o.Cfg.Extraction.EstimatedTimeMs,
		PollIntervalMs:  o.Cfg.Polling.BaseIntervalMs,
		Message:         message,
		Reused:          true,
	}
}

func validateSyntax(rawURL string) *jobs.JobError {
	if rawURL == "" {
		return jobs.NewJobError(jobs.CodeInvalidURL, "a video URL is required")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return jobs.NewJobError(jobs.CodeInvalidURL, "the URL is not valid").WithDetails(err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return jobs.NewJobError(jobs.CodeInvalidURL, "the URL must use http or https")
	}
	if u.Host == "" {
		return jobs.NewJobError(jobs.CodeInvalidURL, "the URL has no host")
	}
	return nil
}
