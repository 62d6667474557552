// Package persistence holds the Postgres and Redis adapters.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// SyncRunAdapter - run audit log
// =============================================================================

const syncRunsSchema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id                 TEXT PRIMARY KEY,
	trigger            TEXT NOT NULL,
	provider           TEXT,
	user_id            TEXT,
	processed_count    INTEGER NOT NULL DEFAULT 0,
	skipped_duplicates INTEGER NOT NULL DEFAULT 0,
	new_pending_items  INTEGER NOT NULL DEFAULT 0,
	auto_applied_jobs  INTEGER NOT NULL DEFAULT 0,
	accounts           INTEGER NOT NULL DEFAULT 0,
	error_codes        TEXT[] NOT NULL DEFAULT '{}',
	errors             JSONB NOT NULL DEFAULT '[]',
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_user_started ON sync_runs (user_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs (started_at DESC);
`

type SyncRunAdapter struct {
	db *sqlx.DB
}

func NewSyncRunAdapter(db *sqlx.DB) *SyncRunAdapter {
	return &SyncRunAdapter{db: db}
}

// EnsureSchema creates the sync_runs table if it does not exist.
func (a *SyncRunAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, syncRunsSchema); err != nil {
		return fmt.Errorf("failed to create sync_runs: %w", err)
	}
	return nil
}

// =============================================================================
// Entity
// =============================================================================

type syncRunEntity struct {
	ID                string         `db:"id"`
	Trigger           string         `db:"trigger"`
	Provider          sql.NullString `db:"provider"`
	UserID            sql.NullString `db:"user_id"`
	ProcessedCount    int            `db:"processed_count"`
	SkippedDuplicates int            `db:"skipped_duplicates"`
	NewPendingItems   int            `db:"new_pending_items"`
	AutoAppliedJobs   int            `db:"auto_applied_jobs"`
	Accounts          int            `db:"accounts"`
	ErrorCodes        pq.StringArray `db:"error_codes"`
	Errors            string         `db:"errors"`
	StartedAt         time.Time      `db:"started_at"`
	FinishedAt        time.Time      `db:"finished_at"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toSyncRunEntity(run *domain.SyncRun) (*syncRunEntity, error) {
	errs := run.PerAccountErrors
	if errs == nil {
		errs = []domain.AccountError{}
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run errors: %w", err)
	}

	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}

	return &syncRunEntity{
		ID:                run.RunID,
		Trigger:           run.Trigger,
		Provider:          nullString(string(run.Provider)),
		UserID:            nullString(run.UserID),
		ProcessedCount:    run.ProcessedCount,
		SkippedDuplicates: run.SkippedDuplicates,
		NewPendingItems:   run.NewPendingItems,
		AutoAppliedJobs:   run.AutoAppliedJobs,
		Accounts:          run.Accounts,
		ErrorCodes:        codes,
		Errors:            string(payload),
		StartedAt:         run.StartedAt,
		FinishedAt:        run.FinishedAt,
	}, nil
}

func (e *syncRunEntity) toDomain() (*domain.SyncRun, error) {
	run := &domain.SyncRun{
		RunResult: domain.RunResult{
			RunID:             e.ID,
			ProcessedCount:    e.ProcessedCount,
			SkippedDuplicates: e.SkippedDuplicates,
			NewPendingItems:   e.NewPendingItems,
			AutoAppliedJobs:   e.AutoAppliedJobs,
			Accounts:          e.Accounts,
			PerAccountErrors:  []domain.AccountError{},
			StartedAt:         e.StartedAt,
			FinishedAt:        e.FinishedAt,
		},
		Trigger: e.Trigger,
	}
	if e.Provider.Valid {
		run.Provider = domain.Provider(e.Provider.String)
	}
	if e.UserID.Valid {
		run.UserID = e.UserID.String
	}
	if len(e.Errors) > 0 {
		if err := json.Unmarshal([]byte(e.Errors), &run.PerAccountErrors); err != nil {
			return nil, fmt.Errorf("failed to decode run errors: %w", err)
		}
	}
	return run, nil
}

// =============================================================================
// CRUD
// =============================================================================

func (a *SyncRunAdapter) Save(ctx context.Context, run *domain.SyncRun) error {
	entity, err := toSyncRunEntity(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_runs (
			id, trigger, provider, user_id,
			processed_count, skipped_duplicates, new_pending_items, auto_applied_jobs,
			accounts, error_codes, errors, started_at, finished_at
		) VALUES (
			:id, :trigger, :provider, :user_id,
			:processed_count, :skipped_duplicates, :new_pending_items, :auto_applied_jobs,
			:accounts, :error_codes, :errors, :started_at, :finished_at
		)
		ON CONFLICT (id) DO NOTHING`

	if _, err := a.db.NamedExecContext(ctx, query, entity); err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// ListRecent returns the newest runs first. An empty userID lists runs of
// every trigger, including cron runs that span all users.
func (a *SyncRunAdapter) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var entities []syncRunEntity
	var err error
	if userID == "" {
		err = a.db.SelectContext(ctx, &entities,
			`SELECT * FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	} else {
		err = a.db.SelectContext(ctx, &entities,
			`SELECT * FROM sync_runs WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	runs := make([]*domain.SyncRun, 0, len(entities))
	for i := range entities {
		run, err := entities[i].toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

var _ out.SyncRunRepository = (*SyncRunAdapter)(nil)
