package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitmesh/syncrun"
)

// StreamStore is the MySQL implementation of syncrun.StreamStore.
type StreamStore struct {
	db             *sql.DB
	maxRetries     int
	backoffMinutes int
}

func NewStreamStore(db *sql.DB, maxStreamRetries int, retryBackoff time.Duration) *StreamStore {
	if maxStreamRetries <= 0 {
		maxStreamRetries = syncrun.DefaultMaxStreamRetries
	}
	if retryBackoff <= 0 {
		retryBackoff = syncrun.DefaultStreamRetryBackoff
	}
	return &StreamStore{
		db:             db,
		maxRetries:     maxStreamRetries,
		backoffMinutes: int(retryBackoff / time.Minute),
	}
}

func (s *StreamStore) Create(ctx context.Context, stream *syncrun.Stream) error {
	return s.insert(ctx, s.db, stream)
}

func (s *StreamStore) BulkCreate(ctx context.Context, streams []*syncrun.Stream) error {
	if len(streams) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "start transaction failed", err)
	}
	defer tx.Rollback()
	for _, stream := range streams {
		if err := s.insert(ctx, tx, stream); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "commit streams failed", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *StreamStore) insert(ctx context.Context, db execer, stream *syncrun.Stream) error {
	if stream.ID == "" {
		stream.ID = uuid.NewString()
	}
	if stream.State == "" {
		stream.State = syncrun.StreamStatePending
	}
	now := time.Now().UTC()
	var metadata sql.NullString
	if stream.Metadata.Typed != nil {
		metadata = sql.NullString{String: stream.Metadata.ToString(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		insert into sync_streams (id, run_id, tenant_id, integration_id, microservice_id, name, metadata, state, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stream.ID, stream.RunID, stream.TenantID, nullString(stream.IntegrationID), nullString(stream.MicroserviceID),
		stream.Name, metadata, string(stream.State), now, now)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "insert stream failed", err)
	}
	stream.CreatedAt, stream.UpdatedAt = now, now
	return nil
}

func (s *StreamStore) FindByID(ctx context.Context, id string) (*syncrun.Stream, error) {
	row := s.db.QueryRowContext(ctx, `select `+streamColumns+` from sync_streams where id = ?`, id)
	stream, err := scanStream(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select stream failed", err)
	}
	return stream, nil
}

func (s *StreamStore) FindByRunID(ctx context.Context, runID string, states ...syncrun.StreamState) ([]*syncrun.Stream, error) {
	query := `select ` + streamColumns + ` from sync_streams where run_id = ?`
	args := []interface{}{runID}
	if len(states) > 0 {
		query += ` and state in (?` + strings.Repeat(", ?", len(states)-1) + `)`
		for _, state := range states {
			args = append(args, string(state))
		}
	}
	query += ` order by created_at asc`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select streams failed", err)
	}
	defer rows.Close()
	var streams []*syncrun.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "scan stream failed", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// NextPending picks the oldest pending stream, letting error streams rejoin
// the queue after their linear backoff window while they have budget left.
// Creation order keeps pagination chains causal.
func (s *StreamStore) NextPending(ctx context.Context, runID string) (*syncrun.Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+streamColumns+` from sync_streams
		where run_id = ?
		  and (state = ?
		   or (state = ? and coalesce(retries, 0) < ? and updated_at < date_sub(now(6), interval coalesce(retries, 0) * ? minute)))
		order by created_at asc
		limit 1`,
		runID, string(syncrun.StreamStatePending), string(syncrun.StreamStateError), s.maxRetries, s.backoffMinutes)
	stream, err := scanStream(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select next pending stream failed", err)
	}
	return stream, nil
}

func (s *StreamStore) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, `
		update sync_streams set state = ?, updated_at = now(6) where id = ?`,
		string(syncrun.StreamStateProcessing), id)
}

func (s *StreamStore) MarkProcessed(ctx context.Context, id string) error {
	return s.update(ctx, `
		update sync_streams set state = ?, processed_at = now(6), updated_at = now(6) where id = ?`,
		string(syncrun.StreamStateProcessed), id)
}

func (s *StreamStore) MarkError(ctx context.Context, id string, detail *syncrun.ErrorDetail) (int, error) {
	det, err := errorJSON(detail)
	if err != nil {
		return 0, syncrun.NewSyncError(syncrun.ErrCodeGeneral, "encode error detail failed", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "start transaction failed", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		update sync_streams
		set state = ?, error = ?, retries = coalesce(retries, 0) + 1, updated_at = now(6)
		where id = ?`,
		string(syncrun.StreamStateError), det, id)
	if err != nil {
		return 0, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "mark stream error failed", err)
	}
	var retries int
	if err := tx.QueryRowContext(ctx, `select retries from sync_streams where id = ?`, id).Scan(&retries); err != nil {
		return 0, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select stream retries failed", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "commit stream error failed", err)
	}
	return retries, nil
}

// Reset returns a stream to pending after a rate-limit suspension. The retry
// count is left as is: being throttled is not a failure of the stream.
func (s *StreamStore) Reset(ctx context.Context, id string) error {
	return s.update(ctx, `
		update sync_streams set state = ?, error = null, updated_at = now(6) where id = ?`,
		string(syncrun.StreamStatePending), id)
}

func (s *StreamStore) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "update stream failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "update stream failed", err)
	}
	if affected != 1 {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "expected 1 row to be updated, got %v", affected)
	}
	return nil
}
