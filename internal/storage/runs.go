package storage

import (
	"fmt"
	"time"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// SyncRun records the outcome of one sync invocation.
type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	DaysBack   int
	Projects   int
	Fetched    int
	Inserted   int
	Skipped    int
	Published  int
	Status     string
	Error      *string
}

func (r *SyncRun) record() Record {
	return Record{
		"id":          r.ID,
		"started_at":  r.StartedAt,
		"finished_at": r.FinishedAt,
		"days_back":   r.DaysBack,
		"projects":    r.Projects,
		"fetched":     r.Fetched,
		"inserted":    r.Inserted,
		"skipped":     r.Skipped,
		"published":   r.Published,
		"status":      r.Status,
		"error":       r.Error,
	}
}

// RecordRun persists a run summary.
func (s *Store) RecordRun(run *SyncRun) error {
	if run.ID == "" {
		return fmt.Errorf("record run: empty id")
	}
	if _, err := s.Create(RunsTable, run.record()); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, days_back, projects, fetched,
		        inserted, skipped, published, status, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.DaysBack, &r.Projects,
			&r.Fetched, &r.Inserted, &r.Skipped, &r.Published, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timestampLayout, started); err != nil {
			return nil, fmt.Errorf("failed to parse run start %q: %w", started, err)
		}
		if r.FinishedAt, err = time.Parse(timestampLayout, finished); err != nil {
			return nil, fmt.Errorf("failed to parse run finish %q: %w", finished, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
