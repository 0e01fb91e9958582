package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"medipredict-backend/internal/domain"
)

// DBTX is the subset of pgxpool.Pool used by the repositories
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const callRecordsSchema = `
	CREATE TABLE IF NOT EXISTS call_records (
		record_id     UUID PRIMARY KEY,
		caller_id     STRING NOT NULL,
		caller_role   STRING NOT NULL DEFAULT '',
		receiver_id   STRING NOT NULL,
		receiver_role STRING NOT NULL DEFAULT '',
		medium        STRING NOT NULL,
		outcome       STRING NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		ended_at      TIMESTAMPTZ NOT NULL,
		duration      INT NOT NULL,
		INDEX call_records_caller_idx (caller_id, started_at DESC),
		INDEX call_records_receiver_idx (receiver_id, started_at DESC)
	)
`

// CallRepository is the durable call log. It implements signaling.CallRecordSink.
type CallRepository struct {
	db DBTX
}

// NewCallRepository creates a new call repository
func NewCallRepository(db DBTX) *CallRepository {
	return &CallRepository{db: db}
}

// EnsureSchema creates the call_records table when missing
func (r *CallRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, callRecordsSchema); err != nil {
		return fmt.Errorf("failed to create call_records table: %w", err)
	}
	return nil
}

// Append stores a finished call. Replaying the same record is a no-op.
func (r *CallRepository) Append(ctx context.Context, record *domain.CallRecord) error {
	query := `
		INSERT INTO call_records (
			record_id, caller_id, caller_role, receiver_id, receiver_role,
			medium, outcome, started_at, ended_at, duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (record_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		record.RecordID,
		record.CallerID,
		string(record.CallerRole),
		record.ReceiverID,
		string(record.ReceiverRole),
		string(record.Medium),
		string(record.Outcome),
		record.StartedAt,
		record.EndedAt,
		record.Duration,
	)
	if err != nil {
		return fmt.Errorf("failed to append call record: %w", err)
	}

	return nil
}

// GetByParticipant retrieves the calls participantID took part in, newest first
func (r *CallRepository) GetByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*domain.CallRecord, error) {
	query := `
		SELECT record_id, caller_id, caller_role, receiver_id, receiver_role,
		       medium, outcome, started_at, ended_at, duration
		FROM call_records
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, participantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get call records: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.CallRecord, 0)
	for rows.Next() {
		rec := &domain.CallRecord{}
		err := rows.Scan(
			&rec.RecordID,
			&rec.CallerID,
			&rec.CallerRole,
			&rec.ReceiverID,
			&rec.ReceiverRole,
			&rec.Medium,
			&rec.Outcome,
			&rec.StartedAt,
			&rec.EndedAt,
			&rec.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call records: %w", err)
	}

	return records, nil
}
