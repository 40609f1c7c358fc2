// Package txn provides the database/sql transaction manager used by the
// bulk-write dispatcher.
package txn

import (
	"database/sql"

	"github.com/gitmesh/syncrun"
)

type txManager struct {
	db *sql.DB
}

// NewTransactionManager wraps db so record batches can be applied atomically.
// The tx handles it hands out are *sql.Tx.
func NewTransactionManager(db *sql.DB) syncrun.TransactionManager {
	return &txManager{db: db}
}

func (tm *txManager) BeginTx() (interface{}, error) {
	tx, err := tm.db.Begin()
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "start transaction failed", err)
	}
	return tx, nil
}

func (tm *txManager) Commit(tx interface{}) error {
	if err := tx.(*sql.Tx).Commit(); err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

func (tm *txManager) Rollback(tx interface{}) error {
	if err := tx.(*sql.Tx).Rollback(); err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}
