package repository

import (
	"database/sql"

	"github.com/gitmesh/syncrun"
	"github.com/gitmesh/syncrun/util"
)

const runColumns = `id, tenant_id, integration_id, microservice_id, onboarding, state, delayed_until, processed_at, error, created_at, updated_at`

const streamColumns = `id, run_id, tenant_id, integration_id, microservice_id, name, metadata, state, processed_at, error, retries, created_at, updated_at`

const integrationColumns = `id, tenant_id, segment_id, platform, status, settings, token, refresh_token, limit_count, limit_last_reset_at, email_sent_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*syncrun.Run, error) {
	var (
		run                                syncrun.Run
		state                              string
		integrationID, microserviceID, det sql.NullString
		delayedUntil, processedAt          sql.NullTime
	)
	err := row.Scan(&run.ID, &run.TenantID, &integrationID, &microserviceID, &run.Onboarding,
		&state, &delayedUntil, &processedAt, &det, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.IntegrationID = integrationID.String
	run.MicroserviceID = microserviceID.String
	run.State = syncrun.RunState(state)
	if delayedUntil.Valid {
		run.DelayedUntil = &delayedUntil.Time
	}
	if processedAt.Valid {
		run.ProcessedAt = &processedAt.Time
	}
	if det.Valid {
		detail := &syncrun.ErrorDetail{}
		if err := util.ParseJson(det.String, detail); err != nil {
			return nil, err
		}
		run.Error = detail
	}
	return &run, nil
}

func scanStream(row scanner) (*syncrun.Stream, error) {
	var (
		stream                                       syncrun.Stream
		state                                        string
		integrationID, microserviceID, metadata, det sql.NullString
		processedAt                                  sql.NullTime
		retries                                      sql.NullInt64
	)
	err := row.Scan(&stream.ID, &stream.RunID, &stream.TenantID, &integrationID, &microserviceID,
		&stream.Name, &metadata, &state, &processedAt, &det, &retries, &stream.CreatedAt, &stream.UpdatedAt)
	if err != nil {
		return nil, err
	}
	stream.IntegrationID = integrationID.String
	stream.MicroserviceID = microserviceID.String
	stream.State = syncrun.StreamState(state)
	if metadata.Valid {
		if err := stream.Metadata.FromString(metadata.String); err != nil {
			return nil, err
		}
	}
	if processedAt.Valid {
		stream.ProcessedAt = &processedAt.Time
	}
	if det.Valid {
		detail := &syncrun.ErrorDetail{}
		if err := util.ParseJson(det.String, detail); err != nil {
			return nil, err
		}
		stream.Error = detail
	}
	stream.Retries = int(retries.Int64)
	return &stream, nil
}

func scanIntegration(row scanner) (*syncrun.Integration, error) {
	var (
		integration                     syncrun.Integration
		platform                        string
		settings                        sql.NullString
		limitLastResetAt, emailSentAt   sql.NullTime
		segmentID, token, refresh, stat sql.NullString
	)
	err := row.Scan(&integration.ID, &integration.TenantID, &segmentID, &platform, &stat,
		&settings, &token, &refresh, &integration.LimitCount, &limitLastResetAt, &emailSentAt)
	if err != nil {
		return nil, err
	}
	integration.SegmentID = segmentID.String
	integration.Platform = syncrun.Platform(platform)
	integration.Status = stat.String
	integration.Token = token.String
	integration.RefreshToken = refresh.String
	if settings.Valid {
		if err := integration.Settings.FromString(settings.String); err != nil {
			return nil, err
		}
	}
	if limitLastResetAt.Valid {
		integration.LimitLastResetAt = &limitLastResetAt.Time
	}
	if emailSentAt.Valid {
		integration.EmailSentAt = &emailSentAt.Time
	}
	return &integration, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func errorJSON(detail *syncrun.ErrorDetail) (sql.NullString, error) {
	if detail == nil {
		return sql.NullString{}, nil
	}
	str, err := util.JsonString(detail)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: str, Valid: true}, nil
}
