// Package dispatch persists extracted record batches into MySQL.
package dispatch

import (
	"context"
	"database/sql"

	"github.com/gitmesh/syncrun"
)

// SideEffectFunc is invoked after a batch lands, once per dispatch, when the
// caller asked for side effects to be forwarded. Webhook fan-out hangs off
// this hook.
type SideEffectFunc func(ctx context.Context, typ syncrun.OperationType, records []syncrun.Metadata) error

// SQLDispatcher is the MySQL implementation of syncrun.Dispatcher. Records
// are keyed by their sourceId, so replaying a batch after a crashed or
// duplicated run rewrites the same rows instead of duplicating them.
type SQLDispatcher struct {
	txMgr       syncrun.TransactionManager
	sideEffects SideEffectFunc
}

func NewSQLDispatcher(txMgr syncrun.TransactionManager, sideEffects SideEffectFunc) *SQLDispatcher {
	return &SQLDispatcher{txMgr: txMgr, sideEffects: sideEffects}
}

func (d *SQLDispatcher) Dispatch(ctx context.Context, typ syncrun.OperationType, records []syncrun.Metadata, forwardSideEffects bool) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.txMgr.BeginTx()
	if err != nil {
		return err
	}
	sqlTx := tx.(*sql.Tx)
	if err := d.writeAll(ctx, sqlTx, typ, records); err != nil {
		d.txMgr.Rollback(tx)
		return err
	}
	if err := d.txMgr.Commit(tx); err != nil {
		return err
	}

	if forwardSideEffects && d.sideEffects != nil {
		if err := d.sideEffects(ctx, typ, records); err != nil {
			return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "forward side effects failed", err)
		}
	}
	return nil
}

func (d *SQLDispatcher) writeAll(ctx context.Context, tx *sql.Tx, typ syncrun.OperationType, records []syncrun.Metadata) error {
	for _, record := range records {
		key := recordKey(record)
		payload := record.ToString()
		var err error
		switch typ {
		case syncrun.OperationUpsertMembers, syncrun.OperationUpsertActivities:
			_, err = tx.ExecContext(ctx, `
				insert into sync_records (operation, source_id, payload, created_at, updated_at)
				values (?, ?, ?, now(6), now(6))
				on duplicate key update payload = values(payload), updated_at = now(6)`,
				string(typ), key, payload)
		case syncrun.OperationUpdateMembers:
			// update-only: unknown members are skipped, not created
			_, err = tx.ExecContext(ctx, `
				update sync_records set payload = ?, updated_at = now(6)
				where operation = ? and source_id = ?`,
				payload, string(syncrun.OperationUpsertMembers), key)
		default:
			return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "unknown operation type '%v'", typ)
		}
		if err != nil {
			return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "write record failed", err)
		}
	}
	return nil
}

// recordKey prefers the connector-assigned sourceId and falls back to a
// content hash so keyless records still upsert deterministically.
func recordKey(record syncrun.Metadata) string {
	if id := record.String("sourceId"); id != "" {
		return id
	}
	return record.Footprint()
}
