// Package extract defines the provider extractor contract and the registry
// the orchestrator dispatches through.
package extract

import (
	"context"
	"sync"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

// Result is the success half of the extractor union.
type Result struct {
	Metadata *jobs.VideoMetadata
	Warnings []string
}

// Extractor is the per-platform capability contract. Failures come back as
// typed JobError values, never as raw errors or panics, so the state machine
// needs no catch-all beyond its top-level fault boundary.
//
// Transcript is a secondary, independently-failable operation; callers invoke
// it only after Extract succeeded, and treat its failure as a warning.
type Extractor interface {
	Extract(ctx context.Context, normalizedURL string) (*Result, *jobs.JobError)
	Transcript(ctx context.Context, normalizedURL string) (string, *jobs.JobError)
}

// Registry maps platforms to extractors. Adding a platform is one Add call
// plus one Extractor implementation; the orchestrator is untouched.
type Registry struct {
	mu sync.RWMutex
	m  map[videourl.Platform]Extractor
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[videourl.Platform]Extractor)}
}

func (r *Registry) Add(p videourl.Platform, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p] = e
}

func (r *Registry) Get(p videourl.Platform) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[p]
	return e, ok
}
