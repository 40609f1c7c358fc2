package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/gitmesh/syncrun"
)

// RunStore is the MySQL implementation of syncrun.RunStore.
type RunStore struct {
	db         *sql.DB
	maxRetries int
}

func NewRunStore(db *sql.DB, maxStreamRetries int) *RunStore {
	if maxStreamRetries <= 0 {
		maxStreamRetries = syncrun.DefaultMaxStreamRetries
	}
	return &RunStore{db: db, maxRetries: maxStreamRetries}
}

func (s *RunStore) Create(ctx context.Context, run *syncrun.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.State == "" {
		run.State = syncrun.RunStatePending
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into sync_runs (id, tenant_id, integration_id, microservice_id, onboarding, state, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, nullString(run.IntegrationID), nullString(run.MicroserviceID),
		run.Onboarding, string(run.State), now, now)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "insert run failed", err)
	}
	run.CreatedAt, run.UpdatedAt = now, now
	return nil
}

func (s *RunStore) FindByID(ctx context.Context, id string) (*syncrun.Run, error) {
	row := s.db.QueryRowContext(ctx, `select `+runColumns+` from sync_runs where id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeGeneral, "run '%v' not found", id)
	}
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select run failed", err)
	}
	return run, nil
}

// FindLastProcessingRun implements the best-effort mutual-exclusion guard.
// It is a plain check-then-act query: two invocations racing through it can
// both miss each other, which downstream idempotent writes make harmless.
func (s *RunStore) FindLastProcessingRun(ctx context.Context, integrationID, microserviceID, ignoreRunID string) (*syncrun.Run, error) {
	var (
		condition string
		args      []interface{}
	)
	switch {
	case integrationID != "":
		condition = `integration_id = ?`
		args = append(args, integrationID)
	case microserviceID != "":
		condition = `microservice_id = ?`
		args = append(args, microserviceID)
	default:
		return nil, syncrun.NewSyncError(syncrun.ErrCodeGeneral, "either integrationId or microserviceId must be provided")
	}
	if ignoreRunID != "" {
		condition += ` and id <> ?`
		args = append(args, ignoreRunID)
	}
	row := s.db.QueryRowContext(ctx, `
		select `+runColumns+` from sync_runs
		where state in (?, ?, ?) and `+condition+`
		order by created_at desc
		limit 1`,
		append([]interface{}{
			string(syncrun.RunStatePending), string(syncrun.RunStateProcessing), string(syncrun.RunStateDelayed),
		}, args...)...)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select last processing run failed", err)
	}
	return run, nil
}

func (s *RunStore) FindDelayedRuns(ctx context.Context, now time.Time) ([]*syncrun.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+runColumns+` from sync_runs
		where state = ? and delayed_until <= ?
		order by created_at asc`,
		string(syncrun.RunStateDelayed), now)
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select delayed runs failed", err)
	}
	defer rows.Close()
	var runs []*syncrun.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "scan delayed run failed", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *RunStore) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, `
		update sync_runs
		set state = ?, delayed_until = null, updated_at = now(6)
		where id = ?`,
		string(syncrun.RunStateProcessing), id)
}

func (s *RunStore) MarkError(ctx context.Context, id string, detail *syncrun.ErrorDetail) error {
	det, err := errorJSON(detail)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "encode error detail failed", err)
	}
	return s.update(ctx, `
		update sync_runs
		set state = ?, error = ?, updated_at = now(6)
		where id = ?`,
		string(syncrun.RunStateError), det, id)
}

func (s *RunStore) Delay(ctx context.Context, id string, until time.Time) error {
	return s.update(ctx, `
		update sync_runs
		set state = ?, delayed_until = ?, updated_at = now(6)
		where id = ?`,
		string(syncrun.RunStateDelayed), until.UTC(), id)
}

func (s *RunStore) Restart(ctx context.Context, id string) error {
	return s.update(ctx, `
		update sync_runs
		set state = ?, delayed_until = null, processed_at = null, error = null, updated_at = now(6)
		where id = ?`,
		string(syncrun.RunStatePending), id)
}

func (s *RunStore) Touch(ctx context.Context, id string) error {
	// no affected-rows assertion: MySQL reports zero rows when the
	// microsecond timestamp happens not to change
	_, err := s.db.ExecContext(ctx, `update sync_runs set updated_at = now(6) where id = ?`, id)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "touch run failed", err)
	}
	return nil
}

func (s *RunStore) TouchState(ctx context.Context, id string) (syncrun.RunState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "start transaction failed", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `select state from sync_runs where id = ? for update`, id).Scan(&current); err != nil {
		return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select run state failed", err)
	}

	rows, err := tx.QueryContext(ctx, `select state, coalesce(retries, 0) from sync_streams where run_id = ?`, id)
	if err != nil {
		return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select run streams failed", err)
	}
	var streams []*syncrun.Stream
	for rows.Next() {
		var (
			state   string
			retries int
		)
		if err := rows.Scan(&state, &retries); err != nil {
			rows.Close()
			return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "scan stream state failed", err)
		}
		streams = append(streams, &syncrun.Stream{State: syncrun.StreamState(state), Retries: retries})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "scan stream states failed", err)
	}

	newState := syncrun.DeriveRunState(syncrun.RunState(current), streams, s.maxRetries)
	_, err = tx.ExecContext(ctx, `
		update sync_runs
		set state = ?,
		    processed_at = case when ? = 'processed' and processed_at is null then now(6) else processed_at end,
		    updated_at = now(6)
		where id = ?`,
		string(newState), string(newState), id)
	if err != nil {
		return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "update run state failed", err)
	}
	if err := tx.Commit(); err != nil {
		return "", syncrun.NewSyncError(syncrun.ErrCodeDbFail, "commit run state failed", err)
	}
	return newState, nil
}

func (s *RunStore) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "update run failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "update run failed", err)
	}
	if affected != 1 {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "expected 1 row to be updated, got %v", affected)
	}
	return nil
}
