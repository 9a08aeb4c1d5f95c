package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/drvault/internal/model"
)

// ErrReasonRequired rejects restore runs created without a justification.
var ErrReasonRequired = errors.New("restore reason must not be empty")

const restoreColumns = `id, backup_id, initiator, mode, target_timestamp, tenant_ids,
	status, rows_restored, duration_seconds, error, reason, step_log, created_at, updated_at`

type RestoreLogService struct {
	db DB
}

func NewRestoreLogService(db DB) *RestoreLogService {
	return &RestoreLogService{db: db}
}

func scanRestoreLog(row pgx.Row) (*model.RestoreLog, error) {
	var r model.RestoreLog
	err := row.Scan(&r.ID, &r.BackupID, &r.Initiator, &r.Mode, &r.TargetTimestamp,
		&r.TenantIDs, &r.Status, &r.RowsRestored, &r.DurationSeconds, &r.Error,
		&r.Reason, &r.StepLog, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts the audit row for a restore run. The reason is
// mandatory: a run with an empty reason never starts.
func (s *RestoreLogService) Create(ctx context.Context, log *model.RestoreLog) error {
	if log.Reason == "" {
		return ErrReasonRequired
	}
	if log.TenantIDs == nil {
		log.TenantIDs = []string{}
	}
	if log.StepLog == nil {
		log.StepLog = []model.RestoreStep{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO restore_logs (id, backup_id, initiator, mode, target_timestamp, tenant_ids, status, reason, step_log, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		log.ID, log.BackupID, log.Initiator, log.Mode, log.TargetTimestamp,
		log.TenantIDs, model.RestoreInProgress, log.Reason, log.StepLog,
	)
	if err != nil {
		return fmt.Errorf("insert restore log: %w", err)
	}
	return nil
}

// AppendStep adds one step entry to the run's step log.
func (s *RestoreLogService) AppendStep(ctx context.Context, id string, step model.RestoreStep) error {
	_, err := s.db.Exec(ctx,
		`UPDATE restore_logs
		 SET step_log = step_log || $1::jsonb, updated_at = now()
		 WHERE id = $2`,
		step, id,
	)
	if err != nil {
		return fmt.Errorf("append step %s to restore %s: %w", step.Name, id, err)
	}
	return nil
}

// Complete records the run's terminal status together with its measured
// outcome.
func (s *RestoreLogService) Complete(ctx context.Context, id, status string, rowsRestored int64, durationSeconds float64, runErr *string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE restore_logs
		 SET status = $1, rows_restored = $2, duration_seconds = $3, error = $4, updated_at = now()
		 WHERE id = $5`,
		status, rowsRestored, durationSeconds, runErr, id,
	)
	if err != nil {
		return fmt.Errorf("complete restore log %s: %w", id, err)
	}
	return nil
}

func (s *RestoreLogService) GetByID(ctx context.Context, id string) (*model.RestoreLog, error) {
	log, err := scanRestoreLog(s.db.QueryRow(ctx,
		"SELECT "+restoreColumns+" FROM restore_logs WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("get restore log %s: %w", id, err)
	}
	return log, nil
}

// List returns restore logs newest-first with cursor pagination.
func (s *RestoreLogService) List(ctx context.Context, limit int, cursor string) ([]model.RestoreLog, bool, error) {
	query := "SELECT " + restoreColumns + " FROM restore_logs"
	var args []any
	argIdx := 1

	if cursor != "" {
		query += fmt.Sprintf(" WHERE id < $%d", argIdx)
		args = append(args, cursor)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list restore logs: %w", err)
	}
	defer rows.Close()

	var logs []model.RestoreLog
	for rows.Next() {
		log, err := scanRestoreLog(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan restore log: %w", err)
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate restore logs: %w", err)
	}

	hasMore := len(logs) > limit
	if hasMore {
		logs = logs[:limit]
	}
	return logs, hasMore, nil
}
