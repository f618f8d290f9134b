// package history persists the append-only download log backing the UI's
// job, history, and stats views.
//
// Every job state transition becomes one immutable job_events row. A job's
// current state is simply its most recent event, which is what makes
// concurrent appends safe without coordination.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// DefaultQueryLimit caps history listings for UI display.
const DefaultQueryLimit = 100

// Store provides append and query access to the job event log.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// NewStore creates a Store over an already-migrated database.
func NewStore(db *sql.DB, logger *log.Logger) *Store {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Store{db: db, logger: shared.WithLogger(logger, "component", "history")}
}

// Append writes one event row. The id and timestamp are filled in when the
// caller leaves them zero.
func (s *Store) Append(event models.JobEvent) error {
	if event.ID == "" {
		event.ID = shared.GenerateID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO job_events (id, job_id, batch_id, kind, state, source_ref, attempt, error_kind, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.JobID,
		event.BatchID,
		string(event.Kind),
		string(event.State),
		event.SourceRef,
		event.Attempt,
		event.ErrorKind,
		event.ErrorMsg,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

const eventColumns = "id, job_id, batch_id, kind, state, source_ref, attempt, error_kind, error_msg, created_at"

// ByJob returns all events for one job, oldest first.
func (s *Store) ByJob(jobID string) ([]models.JobEvent, error) {
	return s.query(
		"SELECT "+eventColumns+" FROM job_events WHERE job_id = ? ORDER BY rowid ASC",
		jobID,
	)
}

// ByBatch returns all events for one batch, oldest first.
func (s *Store) ByBatch(batchID string) ([]models.JobEvent, error) {
	return s.query(
		"SELECT "+eventColumns+" FROM job_events WHERE batch_id = ? ORDER BY rowid ASC",
		batchID,
	)
}

// Recent returns the newest events, capped at limit (DefaultQueryLimit when
// limit <= 0).
func (s *Store) Recent(limit int) ([]models.JobEvent, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return s.query(
		"SELECT "+eventColumns+" FROM job_events ORDER BY rowid DESC LIMIT ?",
		limit,
	)
}

// Range returns events within [from, to), oldest first.
func (s *Store) Range(from, to time.Time) ([]models.JobEvent, error) {
	return s.query(
		"SELECT "+eventColumns+" FROM job_events WHERE created_at >= ? AND created_at < ? ORDER BY rowid ASC",
		from, to,
	)
}

// LatestByJob returns the most recent event per job, for every job.
func (s *Store) LatestByJob() ([]models.JobEvent, error) {
	return s.query(`
		SELECT ` + eventColumns + ` FROM job_events
		WHERE rowid IN (SELECT MAX(rowid) FROM job_events GROUP BY job_id)
		ORDER BY rowid ASC
	`)
}

// OpenJobs returns the latest event of every job whose state is not
// terminal. After a restart these are the jobs that were in flight and need
// reconciling: requeue the queued ones, fail the running ones.
func (s *Store) OpenJobs() ([]models.JobEvent, error) {
	latest, err := s.LatestByJob()
	if err != nil {
		return nil, err
	}

	var open []models.JobEvent
	for _, e := range latest {
		if !e.State.Terminal() {
			open = append(open, e)
		}
	}
	return open, nil
}

func (s *Store) query(q string, args ...any) ([]models.JobEvent, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job events: %w", err)
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var e models.JobEvent
		var kind, state string
		if err := rows.Scan(&e.ID, &e.JobID, &e.BatchID, &kind, &state, &e.SourceRef, &e.Attempt, &e.ErrorKind, &e.ErrorMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}
		e.Kind = models.JobKind(kind)
		e.State = models.JobState(state)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats summarizes the log for the UI dashboard.
type Stats struct {
	ActiveJobs     int     `json:"active_jobs"`
	FailedJobs     int     `json:"failed_jobs"`
	TotalDownloads int     `json:"total_downloads"`
	Succeeded      int     `json:"successful_downloads"`
	SuccessRate    float64 `json:"success_rate"`
	TodayDownloads int     `json:"today_downloads"`
}

// Stats computes aggregate counts from the latest event of each job.
func (s *Store) Stats() (Stats, error) {
	latest, err := s.LatestByJob()
	if err != nil {
		return Stats{}, err
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var stats Stats
	for _, e := range latest {
		switch e.State {
		case models.StateSucceeded:
			stats.TotalDownloads++
			stats.Succeeded++
			if !e.CreatedAt.Before(midnight) {
				stats.TodayDownloads++
			}
		case models.StateFailed:
			stats.TotalDownloads++
			stats.FailedJobs++
			if !e.CreatedAt.Before(midnight) {
				stats.TodayDownloads++
			}
		default:
			stats.ActiveJobs++
		}
	}

	if stats.TotalDownloads > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalDownloads) * 100
	}
	return stats, nil
}

// Cleanup removes events of jobs that settled before the cutoff. Events of
// active jobs are always kept. Returns the number of rows removed.
func (s *Store) Cleanup(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	result, err := s.db.Exec(`
		DELETE FROM job_events WHERE job_id IN (
			SELECT job_id FROM job_events
			GROUP BY job_id
			HAVING MAX(created_at) < ?
			   AND MAX(CASE WHEN state IN ('succeeded', 'failed') THEN 1 ELSE 0 END) = 1
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up job events: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("pruned settled job history", "rows", removed)
	}
	return removed, nil
}
