package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/common"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

// StatusError is the error object attached to failed/unsupported views.
type StatusError struct {
	Code               jobs.ErrorCode `json:"code"`
	Message            string         `json:"message"`
	Details            string         `json:"details,omitempty"`
	RetryAfterMs       int64          `json:"retryAfterMs,omitempty"`
	FallbackSuggestion string         `json:"fallbackSuggestion"`
}

// StatusView is the shaped polling response. Non-terminal views omit
// metadata and error; completed views carry the result; failed/unsupported
// views carry the error plus fallback guidance.
type StatusView struct {
	JobID          string              `json:"jobId"`
	Status         jobs.Status         `json:"status"`
	CurrentStep    jobs.Step           `json:"currentStep,omitempty"`
	Progress       int                 `json:"progress"`
	PollIntervalMs int64               `json:"pollIntervalMs"`
	PollCount      int                 `json:"pollCount"`
	MaxPollCount   int                 `json:"maxPollCount"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	Metadata       *jobs.VideoMetadata `json:"metadata,omitempty"`
	Transcript     *string             `json:"transcript,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
	Error          *StatusError        `json:"error,omitempty"`
}

// StatusService is the read path of the pipeline. Its only write is the
// best-effort poll-count increment.
type StatusService struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Store jobs.Store
}

func NewStatusService(log *slog.Logger, cfg *config.Config, store jobs.Store) *StatusService {
	return &StatusService{Log: log, Cfg: cfg, Store: store}
}

// Status fetches a job by id and shapes the polling response. A failed
// extraction is still a successful poll; only a missing job or a store
// fault surfaces as an error here.
func (s *StatusService) Status(jobID string) (*StatusView, error) {
	job, err := s.Store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	return s.view(job), nil
}

// StatusByURL resolves the caller's latest job for the URL. The lookup is
// owner-scoped because normalized URLs are shared across users.
func (s *StatusService) StatusByURL(ownerID, rawURL string) (*StatusView, error) {
	normalized, err := videourl.Normalize(rawURL)
	if err != nil {
		if errors.Is(err, videourl.ErrBadVideoID) {
			return nil, jobs.ErrNotFound
		}
		return nil, err
	}
	job, err := s.Store.FindLatestByOwnerAndURL(ownerID, normalized)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, jobs.ErrNotFound
	}
	return s.view(job), nil
}

func (s *StatusService) view(job *jobs.ProcessingJob) *StatusView {
	// Best-effort: a failed increment must not fail the read.
	if err := s.Store.IncrementPollCount(job.ID); err != nil {
		s.Log.Warn("poll count increment failed", "job_id", job.ID, "err", err)
	}

	v := &StatusView{
		JobID:          job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		PollIntervalMs: s.pollInterval(job),
		PollCount:      job.PollCount + 1,
		MaxPollCount:   job.MaxPollCount,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		CompletedAt:    job.CompletedAt,
	}

	switch {
	case job.Status == jobs.StatusCompleted:
		v.Metadata = job.Metadata
		v.Transcript = job.Transcript
		v.Warnings = job.Warnings
	case job.Status.Terminal():
		jerr := job.Error
		if jerr == nil {
			// Defensive shape: a terminal error status always reports a code.
			jerr = jobs.NewJobError(jobs.CodeInternalError, "the job failed")
		}
		v.Error = &StatusError{
			Code:               jerr.Code,
			Message:            jerr.Message,
			Details:            jerr.Details,
			RetryAfterMs:       jerr.RetryAfterMs,
			FallbackSuggestion: jobs.FallbackSuggestion(jerr.Code),
		}
	default:
		v.CurrentStep = job.CurrentStep
	}
	return v
}

// pollInterval computes the server-recommended interval: exponential backoff
// seeded from the base interval, doubling every DoubleEvery polls, capped at
// the max interval. Terminal jobs clamp straight to the cap; further polling
// is pointless but not forbidden.
func (s *StatusService) pollInterval(job *jobs.ProcessingJob) int64 {
	base := s.Cfg.Polling.BaseIntervalMs
	max := s.Cfg.Polling.MaxIntervalMs
	if job.Status.Terminal() {
		return max
	}
	doubleEvery := s.Cfg.Polling.DoubleEvery
	if doubleEvery <= 0 {
		doubleEvery = common.DefaultPollDoubleEvery
	}
	doublings := job.PollCount / doubleEvery
	interval := base
	for i := 0; i < doublings; i++ {
		interval *= 2
		if interval >= max {
			return max
		}
	}
	return interval
}
