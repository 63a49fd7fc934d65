// Package tiktok is the placeholder extractor for TikTok videos. No provider
// API is wired up yet, so every call returns a typed api_error in the same
// result shape a real failure would have.
package tiktok

import (
	"context"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
)

var _ extract.Extractor = (*Extractor)(nil)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, normalizedURL string) (*extract.Result, *jobs.JobError) {
	return nil, jobs.NewJobError(jobs.CodeAPIError,
		"TikTok metadata extraction is not yet available").
		WithDetails("no TikTok provider API is configured; create the resource manually and paste the video details")
}

func (e *Extractor) Transcript(ctx context.Context, normalizedURL string) (string, *jobs.JobError) {
	return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "TikTok transcripts are not yet available")
}
