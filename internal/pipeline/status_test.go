package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

func seedJob(t *testing.T, store *jobs.MemStore, id, owner, url string) *jobs.ProcessingJob {
	t.Helper()
	job := &jobs.ProcessingJob{
		ID:            id,
		OwnerID:       owner,
		OriginalURL:   url,
		NormalizedURL: url,
		Platform:      videourl.PlatformYouTubeShort,
		Status:        jobs.StatusCreated,
		CurrentStep:   jobs.StepValidatingURL,
		Progress:      jobs.ProgressCreated,
		MaxPollCount:  120,
	}
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestStatus_NotFound(t *testing.T) {
	svc := NewStatusService(testLogger(), testConfig(), jobs.NewMemStore())
	if _, err := svc.Status("missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStatus_InProgressShapeAndPollIncrement(t *testing.T) {
	store := jobs.NewMemStore()
	svc := NewStatusService(testLogger(), testConfig(), store)
	seedJob(t, store, "job-1", "owner-1", "https://youtube.com/shorts/dQw4w9WgXcQ")

	view, err := svc.Status("job-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Status != jobs.StatusCreated || view.CurrentStep != jobs.StepValidatingURL {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Metadata != nil || view.Error != nil {
		t.Fatalf("in-progress view must omit metadata and error: %+v", view)
	}
	if view.PollIntervalMs != 2000 {
		t.Fatalf("first poll interval = %d, want base 2000", view.PollIntervalMs)
	}

	job, _ := store.GetJob("job-1")
	if job.PollCount != 1 {
		t.Fatalf("pollCount = %d, want 1 after a read", job.PollCount)
	}
}

func TestStatus_BackoffDoublesAndCaps(t *testing.T) {
	store := jobs.NewMemStore()
	svc := NewStatusService(testLogger(), testConfig(), store)
	seedJob(t, store, "job-1", "owner-1", "https://youtube.com/shorts/dQw4w9WgXcQ")

	// base 2000, doubling every 3 polls, cap 30000:
	// polls 1-3 → 2000, 4-6 → 4000, 7-9 → 8000 ... then capped.
	want := []int64{2000, 2000, 2000, 4000, 4000, 4000, 8000, 8000, 8000, 16000}
	for i, w := range want {
		view, err := svc.Status("job-1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.PollIntervalMs != w {
			t.Fatalf("poll %d interval = %d, want %d", i+1, view.PollIntervalMs, w)
		}
	}
	for i := 0; i < 10; i++ {
		view, _ := svc.Status("job-1")
		if view.PollIntervalMs > 30000 {
			t.Fatalf("interval exceeded cap: %d", view.PollIntervalMs)
		}
	}
}

func TestStatus_ZeroDoubleEveryFallsBackToDefault(t *testing.T) {
	store := jobs.NewMemStore()
	cfg := testConfig()
	cfg.Polling.DoubleEvery = 0
	svc := NewStatusService(testLogger(), cfg, store)
	seedJob(t, store, "job-1", "owner-1", "https://youtube.com/shorts/dQw4w9WgXcQ")

	// Must not divide by zero; the default doubling cadence (every 3 polls)
	// applies, so the fourth poll sees the first doubling.
	var last int64
	for i := 0; i < 4; i++ {
		view, err := svc.Status("job-1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		last = view.PollIntervalMs
	}
	if last != 4000 {
		t.Fatalf("fourth poll interval = %d, want 4000", last)
	}
}

func TestStatus_CompletedViewIsStableAndClamped(t *testing.T) {
	store := jobs.NewMemStore()
	svc := NewStatusService(testLogger(), testConfig(), store)
	seedJob(t, store, "job-1", "owner-1", "https://youtube.com/shorts/dQw4w9WgXcQ")

	transcript := "words"
	md := &jobs.VideoMetadata{Title: "done", DurationSeconds: 30, ExtractionMethod: "mock", ExtractedAt: time.Now().UTC()}
	if err := store.SaveResult("job-1", md, &transcript, []string{"note"}, time.Now().UTC()); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	var first *StatusView
	for i := 0; i < 5; i++ {
		view, err := svc.Status("job-1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.Status != jobs.StatusCompleted || view.Progress != 100 {
			t.Fatalf("completed view wrong: %+v", view)
		}
		if view.Metadata == nil || view.Metadata.Title != "done" || view.Error != nil {
			t.Fatalf("completed view must carry metadata and no error: %+v", view)
		}
		if view.Transcript == nil || *view.Transcript != transcript {
			t.Fatalf("transcript missing: %+v", view)
		}
		if view.PollIntervalMs != 30000 {
			t.Fatalf("terminal poll interval = %d, want clamp 30000", view.PollIntervalMs)
		}
		if view.CompletedAt == nil {
			t.Fatalf("completedAt missing")
		}
		if first == nil {
			first = view
		} else if view.Metadata.Title != first.Metadata.Title || view.Status != first.Status || !view.CompletedAt.Equal(*first.CompletedAt) {
			t.Fatalf("terminal payload not stable across polls")
		}
	}
}

func TestStatus_FailedViewCarriesErrorAndFallback(t *testing.T) {
	store := jobs.NewMemStore()
	svc := NewStatusService(testLogger(), testConfig(), store)
	seedJob(t, store, "job-1", "owner-1", "https://youtube.com/shorts/dQw4w9WgXcQ")

	jerr := jobs.NewJobError(jobs.CodePrivacyBlocked, "restricted").WithDetails("age gate")
	if err := store.SaveError("job-1", jobs.StatusFailed, jerr, time.Now().UTC()); err != nil {
		t.Fatalf("SaveError: %v", err)
	}

	view, err := svc.Status("job-1")
	if err != nil {
		t.Fatalf("a failed extraction must still be a successful poll: %v", err)
	}
	if view.Error == nil || view.Error.Code != jobs.CodePrivacyBlocked {
		t.Fatalf("error missing from failed view: %+v", view)
	}
	if view.Error.FallbackSuggestion == "" {
		t.Fatalf("failed view must carry a fallback suggestion")
	}
	if view.Metadata != nil {
		t.Fatalf("failed view must not carry metadata")
	}
}

func TestStatusByURL(t *testing.T) {
	store := jobs.NewMemStore()
	svc := NewStatusService(testLogger(), testConfig(), store)
	seedJob(t, store, "job-1", "owner-1", "https://youtube.com/shorts/dQw4w9WgXcQ")

	// Unnormalized spelling resolves through normalization.
	view, err := svc.StatusByURL("owner-1", "https://www.youtube.com/shorts/dQw4w9WgXcQ?feature=share")
	if err != nil {
		t.Fatalf("StatusByURL: %v", err)
	}
	if view.JobID != "job-1" {
		t.Fatalf("resolved wrong job: %+v", view)
	}

	if _, err := svc.StatusByURL("owner-2", "https://youtube.com/shorts/dQw4w9WgXcQ"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("other owner must not see the job, got err=%v", err)
	}
}
