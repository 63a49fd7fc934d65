package jobs

import (
	"errors"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

// Status represents the lifecycle state of a processing job.
type Status string

const (
	StatusCreated    Status = "created"
	StatusDetecting  Status = "detecting"
	StatusMetadata   Status = "metadata"
	StatusTranscript Status = "transcript"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnsupported Status = "unsupported"
)

// Terminal reports whether no further transitions occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusUnsupported
}

// Step is the finer-grained label shown to pollers within a status.
type Step string

const (
	StepValidatingURL        Step = "validating_url"
	StepDetectingPlatform    Step = "detecting_platform"
	StepExtractingMetadata   Step = "extracting_metadata"
	StepExtractingTranscript Step = "extracting_transcript"
	StepFinished             Step = "finished"
)

// Progress checkpoints for each stage of the state machine.
const (
	ProgressCreated    = 10
	ProgressDetecting  = 20
	ProgressMetadata   = 40
	ProgressTranscript = 80
	ProgressCompleted  = 100
)

// VideoMetadata is the structured extraction result stored on a completed job.
type VideoMetadata struct {
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	DurationSeconds  int       `json:"durationSeconds"`
	ThumbnailURL     string    `json:"thumbnailUrl,omitempty"`
	CreatorID        string    `json:"creatorId,omitempty"`
	CreatorName      string    `json:"creatorName,omitempty"`
	Hashtags         []string  `json:"hashtags,omitempty"`
	UploadDate       string    `json:"uploadDate,omitempty"`
	ViewCount        uint64    `json:"viewCount,omitempty"`
	ExtractionMethod string    `json:"extractionMethod"`
	ExtractedAt      time.Time `json:"extractedAt"`
}

// ProcessingJob describes a single asynchronous extraction attempt.
//
// Exactly one of Metadata and Error is populated, gated by Status: Metadata
// only when completed, Error only when failed or unsupported. Progress never
// decreases and reaches 100 exactly when the job completes. CompletedAt is
// written once, on the first transition into a terminal status.
type ProcessingJob struct {
	ID                string             // UUIDv4
	OwnerID           string             // submitting identity (trusted upstream)
	OriginalURL       string             // as submitted
	NormalizedURL     string             // canonical dedup key
	Platform          videourl.Platform  // detected platform
	IncludeTranscript bool               // transcript requested at submission
	Status            Status             // current state-machine status
	CurrentStep       Step               // sub-state within Status
	Progress          int                // 0-100, monotone while non-terminal
	Metadata          *VideoMetadata     // set only on completion
	Transcript        *string            // optional, set only on completion
	Warnings          []string           // ordered non-fatal notices
	Error             *JobError          // set only on failed/unsupported
	PollCount         int                // status reads observed so far
	MaxPollCount      int                // advisory polling budget
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// ErrNotFound is returned by Store lookups when no job matches.
var ErrNotFound = errors.New("job not found")

// Store defines persistence for ProcessingJobs and their lifecycle.
//
// Consistency contract: reads observe prior writes through the same Store
// (read-your-writes), and FindLatestByOwnerAndURL returns the most recently
// created job for the pair so at most one non-terminal job is ever visible
// to the idempotency check.
type Store interface {
	CreateJob(job *ProcessingJob) error
	// UpdateProgress advances status/step/progress. Progress is clamped so it
	// never decreases for a given job.
	UpdateProgress(id string, status Status, step Step, progress int) error
	// SaveResult marks the job completed and stores the extraction output.
	SaveResult(id string, md *VideoMetadata, transcript *string, warnings []string, completedAt time.Time) error
	// SaveError marks the job terminally failed or unsupported.
	SaveError(id string, status Status, jobErr *JobError, completedAt time.Time) error
	// FailUnfinished terminally fails every non-terminal job with the given
	// error and reports how many were affected. Run at startup so jobs
	// orphaned by a crash or restart never stay stuck.
	FailUnfinished(jobErr *JobError, completedAt time.Time) (int64, error)
	// IncrementPollCount bumps the poll counter. Best-effort: callers must not
	// fail a status read when it errors.
	IncrementPollCount(id string) error
	GetJob(id string) (*ProcessingJob, error)
	// FindLatestByOwnerAndURL returns the most recent job for the pair, or
	// (nil, nil) when none exists.
	FindLatestByOwnerAndURL(ownerID, normalizedURL string) (*ProcessingJob, error)
	Close() error
}
