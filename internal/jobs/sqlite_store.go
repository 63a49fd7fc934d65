package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/common"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		original_url TEXT NOT NULL,
		normalized_url TEXT NOT NULL,
		platform TEXT NOT NULL,
		include_transcript INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		current_step TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		metadata_json TEXT,
		transcript TEXT,
		warnings_json TEXT,
		error_json TEXT,
		poll_count INTEGER NOT NULL DEFAULT 0,
		max_poll_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner_url ON jobs (owner_id, normalized_url, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(job *ProcessingJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, owner_id, original_url, normalized_url, platform, include_transcript,
			status, current_step, progress, poll_count, max_poll_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.OriginalURL, job.NormalizedURL, string(job.Platform), boolToInt(job.IncludeTranscript),
		string(job.Status), string(job.CurrentStep), job.Progress, job.PollCount, job.MaxPollCount,
		job.CreatedAt.UTC().Format(time.RFC3339Nano), job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateProgress advances the state machine fields. MAX() keeps progress
// monotone even if an out-of-order update sneaks in.
func (s *SQLiteStore) UpdateProgress(id string, status Status, step Step, progress int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, current_step = ?, progress = MAX(progress, ?), updated_at = ? WHERE id = ?`,
		string(status), string(step), progress, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveResult(id string, md *VideoMetadata, transcript *string, warnings []string, completedAt time.Time) error {
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var warnJSON *string
	if len(warnings) > 0 {
		b, err := json.Marshal(warnings)
		if err != nil {
			return fmt.Errorf("marshal warnings: %w", err)
		}
		v := string(b)
		warnJSON = &v
	}
	// COALESCE keeps completed_at immutable once set.
	_, err = s.db.Exec(
		`UPDATE jobs SET status = ?, current_step = ?, progress = ?, metadata_json = ?, transcript = ?,
			warnings_json = ?, error_json = NULL, updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		 WHERE id = ?`,
		string(StatusCompleted), string(StepFinished), ProgressCompleted, string(mdJSON), transcript,
		warnJSON, nowString(), completedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveError(id string, status Status, jobErr *JobError, completedAt time.Time) error {
	if status != StatusFailed && status != StatusUnsupported {
		return fmt.Errorf("save error: status %q is not an error status", status)
	}
	if jobErr == nil {
		return errors.New("save error: jobErr is nil")
	}
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE jobs SET status = ?, error_json = ?, metadata_json = NULL, updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		 WHERE id = ?`,
		string(status), string(errJSON), nowString(), completedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("save error: %w", err)
	}
	return nil
}

// FailUnfinished sweeps every non-terminal job into failed. The queue is
// in-memory, so after a restart nothing will ever run these; failing them
// unblocks the (owner, url) idempotency check for resubmission.
func (s *SQLiteStore) FailUnfinished(jobErr *JobError, completedAt time.Time) (int64, error) {
	if jobErr == nil {
		return 0, errors.New("fail unfinished: jobErr is nil")
	}
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return 0, fmt.Errorf("marshal error: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error_json = ?, metadata_json = NULL, updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		 WHERE status NOT IN (?, ?, ?)`,
		string(StatusFailed), string(errJSON), nowString(), completedAt.UTC().Format(time.RFC3339Nano),
		string(StatusCompleted), string(StatusFailed), string(StatusUnsupported),
	)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail unfinished: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) IncrementPollCount(id string) error {
	_, err := s.db.Exec(`UPDATE jobs SET poll_count = poll_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment poll count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(id string) (*ProcessingJob, error) {
	row := s.db.QueryRow(selectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) FindLatestByOwnerAndURL(ownerID, normalizedURL string) (*ProcessingJob, error) {
	row := s.db.QueryRow(
		selectColumns+` FROM jobs WHERE owner_id = ? AND normalized_url = ?
		 ORDER BY created_at DESC LIMIT 1`,
		ownerID, normalizedURL,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, owner_id, original_url, normalized_url, platform, include_transcript,
	status, current_step, progress, metadata_json, transcript, warnings_json, error_json,
	poll_count, max_poll_count, created_at, updated_at, completed_at`

func scanJob(row *sql.Row) (*ProcessingJob, error) {
	var job ProcessingJob
	var platform, status, step string
	var includeTranscript int
	var mdJSON, transcript, warnJSON, errJSON, created, updated, completed sql.NullString

	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.OriginalURL,
		&job.NormalizedURL,
		&platform,
		&includeTranscript,
		&status,
		&step,
		&job.Progress,
		&mdJSON,
		&transcript,
		&warnJSON,
		&errJSON,
		&job.PollCount,
		&job.MaxPollCount,
		&created,
		&updated,
		&completed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Platform = videourl.Platform(platform)
	job.IncludeTranscript = includeTranscript != 0
	job.Status = Status(status)
	job.CurrentStep = Step(step)

	if mdJSON.Valid && mdJSON.String != "" {
		var md VideoMetadata
		if err := json.Unmarshal([]byte(mdJSON.String), &md); err == nil {
			job.Metadata = &md
		}
	}
	if transcript.Valid {
		v := transcript.String
		job.Transcript = &v
	}
	if warnJSON.Valid && warnJSON.String != "" {
		var w []string
		if err := json.Unmarshal([]byte(warnJSON.String), &w); err == nil {
			job.Warnings = w
		}
	}
	if errJSON.Valid && errJSON.String != "" {
		var je JobError
		if err := json.Unmarshal([]byte(errJSON.String), &je); err == nil {
			job.Error = &je
		}
	}
	if created.Valid {
		if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
			job.CreatedAt = t
		}
	}
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339Nano, updated.String); err == nil {
			job.UpdatedAt = t
		}
	}
	if completed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			job.CompletedAt = &t
		}
	}
	return &job, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
