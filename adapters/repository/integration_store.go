package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gitmesh/syncrun"
)

// IntegrationStore is the MySQL implementation of syncrun.IntegrationStore.
type IntegrationStore struct {
	db *sql.DB
}

func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

func (s *IntegrationStore) FindByID(ctx context.Context, id string) (*syncrun.Integration, error) {
	row := s.db.QueryRowContext(ctx, `select `+integrationColumns+` from integrations where id = ?`, id)
	integration, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeGeneral, "integration '%v' not found", id)
	}
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select integration failed", err)
	}
	return integration, nil
}

func (s *IntegrationStore) FindByPlatform(ctx context.Context, tenantID string, platform syncrun.Platform) (*syncrun.Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+integrationColumns+` from integrations
		where tenant_id = ? and platform = ?
		limit 1`,
		tenantID, string(platform))
	integration, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeGeneral, "no '%v' integration for tenant '%v'", platform, tenantID)
	}
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select integration failed", err)
	}
	return integration, nil
}

func (s *IntegrationStore) FindAllActive(ctx context.Context, platform syncrun.Platform, page, perPage int) ([]*syncrun.Integration, error) {
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+integrationColumns+` from integrations
		where platform = ? and status in (?, ?)
		order by id
		limit ? offset ?`,
		string(platform), syncrun.IntegrationStatusDone, syncrun.IntegrationStatusInProgress,
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "select active integrations failed", err)
	}
	defer rows.Close()
	var integrations []*syncrun.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, syncrun.NewSyncError(syncrun.ErrCodeDbFail, "scan integration failed", err)
		}
		integrations = append(integrations, integration)
	}
	return integrations, rows.Err()
}

func (s *IntegrationStore) Update(ctx context.Context, id string, fields syncrun.IntegrationUpdate) error {
	var (
		sets []string
		args []interface{}
	)
	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *fields.Status)
	}
	if fields.Settings != nil {
		sets = append(sets, "settings = ?")
		args = append(args, fields.Settings.ToString())
	}
	if fields.Token != nil {
		sets = append(sets, "token = ?")
		args = append(args, *fields.Token)
	}
	if fields.RefreshToken != nil {
		sets = append(sets, "refresh_token = ?")
		args = append(args, *fields.RefreshToken)
	}
	if fields.LimitCount != nil {
		sets = append(sets, "limit_count = ?")
		args = append(args, *fields.LimitCount)
	}
	if fields.LimitLastResetAt != nil {
		sets = append(sets, "limit_last_reset_at = ?")
		args = append(args, fields.LimitLastResetAt.UTC())
	}
	if fields.EmailSentAt != nil {
		sets = append(sets, "email_sent_at = ?")
		args = append(args, fields.EmailSentAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, `update integrations set `+strings.Join(sets, ", ")+` where id = ?`, args...)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeDbFail, "update integration failed", err)
	}
	return nil
}
