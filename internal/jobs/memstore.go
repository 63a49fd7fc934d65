package jobs

import (
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used in tests and local development. It
// enforces the same lifecycle guards as the SQLite store: monotone progress
// and a write-once completed_at.
type MemStore struct {
	mu   sync.Mutex
	data map[string]*ProcessingJob
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]*ProcessingJob)}
}

func (s *MemStore) CreateJob(job *ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	cpy := *job
	s.data[job.ID] = &cpy
	return nil
}

func (s *MemStore) UpdateProgress(id string, status Status, step Step, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.CurrentStep = step
	if progress > j.Progress {
		j.Progress = progress
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SaveResult(id string, md *VideoMetadata, transcript *string, warnings []string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = StatusCompleted
	j.CurrentStep = StepFinished
	j.Progress = ProgressCompleted
	j.Metadata = md
	j.Transcript = transcript
	j.Warnings = warnings
	j.Error = nil
	if j.CompletedAt == nil {
		ct := completedAt
		j.CompletedAt = &ct
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SaveError(id string, status Status, jobErr *JobError, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.Error = jobErr
	j.Metadata = nil
	if j.CompletedAt == nil {
		ct := completedAt
		j.CompletedAt = &ct
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) FailUnfinished(jobErr *JobError, completedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.data {
		if j.Status.Terminal() {
			continue
		}
		j.Status = StatusFailed
		j.Error = jobErr
		j.Metadata = nil
		if j.CompletedAt == nil {
			ct := completedAt
			j.CompletedAt = &ct
		}
		j.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *MemStore) IncrementPollCount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	j.PollCount++
	return nil
}

func (s *MemStore) GetJob(id string) (*ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *j
	return &cpy, nil
}

func (s *MemStore) FindLatestByOwnerAndURL(ownerID, normalizedURL string) (*ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*ProcessingJob
	for _, j := range s.data {
		if j.OwnerID == ownerID && j.NormalizedURL == normalizedURL {
			matches = append(matches, j)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(a, b int) bool {
		return matches[a].CreatedAt.After(matches[b].CreatedAt)
	})
	cpy := *matches[0]
	return &cpy, nil
}

func (s *MemStore) Close() error {
	return nil
}
