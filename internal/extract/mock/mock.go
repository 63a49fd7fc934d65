// Package mock provides a configurable extractor for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
)

var _ extract.Extractor = (*Extractor)(nil)

// Extractor returns canned results or errors, optionally after a delay.
type Extractor struct {
	Result        *extract.Result
	Err           *jobs.JobError
	TranscriptTxt string
	TranscriptErr *jobs.JobError
	Delay         time.Duration

	extractCalls    atomic.Int32
	transcriptCalls atomic.Int32
}

func (e *Extractor) Extract(ctx context.Context, normalizedURL string) (*extract.Result, *jobs.JobError) {
	e.extractCalls.Add(1)
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, jobs.NewJobError(jobs.CodeAPIError, "extraction timed out").WithDetails(ctx.Err().Error())
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Result != nil {
		return e.Result, nil
	}
	return &extract.Result{
		Metadata: &jobs.VideoMetadata{
			Title:            "mock video",
			DurationSeconds:  42,
			ExtractionMethod: "mock",
			ExtractedAt:      time.Now().UTC(),
		},
	}, nil
}

func (e *Extractor) Transcript(ctx context.Context, normalizedURL string) (string, *jobs.JobError) {
	e.transcriptCalls.Add(1)
	if e.TranscriptErr != nil {
		return "", e.TranscriptErr
	}
	if e.TranscriptTxt != "" {
		return e.TranscriptTxt, nil
	}
	return "mock transcript", nil
}

// ExtractCalls reports how many times Extract ran.
func (e *Extractor) ExtractCalls() int { return int(e.extractCalls.Load()) }

// TranscriptCalls reports how many times Transcript ran.
func (e *Extractor) TranscriptCalls() int { return int(e.transcriptCalls.Load()) }
