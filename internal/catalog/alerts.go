package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/drvault/internal/model"
)

// DedupeWindow is how long an active alert suppresses new rows for the
// same dedupe key. Re-triggers inside the window bump count and
// last_seen_at instead of inserting.
const DedupeWindow = 6 * time.Hour

const alertColumns = `id, dedupe_key, type, severity, backup_id, restore_id, message,
	details, channels, status, count, last_seen_at, acknowledged_at, resolved_at,
	created_at, updated_at`

type AlertService struct {
	db DB
}

func NewAlertService(db DB) *AlertService {
	return &AlertService{db: db}
}

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	err := row.Scan(&a.ID, &a.DedupeKey, &a.Type, &a.Severity, &a.BackupID, &a.RestoreID,
		&a.Message, &a.Details, &a.Channels, &a.Status, &a.Count, &a.LastSeenAt,
		&a.AcknowledgedAt, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DedupeKey builds the identity an alert is deduplicated under: its type
// plus the resource it concerns.
func DedupeKey(alertType, resource string) string {
	return alertType + ":" + resource
}

// Raise records an alert. If an active alert with the same dedupe key
// was seen inside the dedupe window the existing row is bumped and
// returned with deduped=true; the caller skips channel delivery then.
func (s *AlertService) Raise(ctx context.Context, alert *model.Alert) (*model.Alert, bool, error) {
	existing, err := scanAlert(s.db.QueryRow(ctx,
		`UPDATE alerts
		 SET count = count + 1, last_seen_at = now(), updated_at = now()
		 WHERE id = (
		   SELECT id FROM alerts
		   WHERE dedupe_key = $1 AND status = $2 AND last_seen_at > $3
		   ORDER BY last_seen_at DESC LIMIT 1
		 )
		 RETURNING `+alertColumns,
		alert.DedupeKey, model.AlertActive, time.Now().Add(-DedupeWindow),
	))
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("bump alert %s: %w", alert.DedupeKey, err)
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Details == nil {
		alert.Details = map[string]any{}
	}
	if alert.Channels == nil {
		alert.Channels = []model.ChannelResult{}
	}
	created, err := scanAlert(s.db.QueryRow(ctx,
		`INSERT INTO alerts (id, dedupe_key, type, severity, backup_id, restore_id, message, details, channels, status, count, last_seen_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, now(), now(), now())
		 RETURNING `+alertColumns,
		alert.ID, alert.DedupeKey, alert.Type, alert.Severity, alert.BackupID,
		alert.RestoreID, alert.Message, alert.Details, alert.Channels, model.AlertActive,
	))
	if err != nil {
		return nil, false, fmt.Errorf("insert alert %s: %w", alert.DedupeKey, err)
	}
	return created, false, nil
}

// RecordChannelResults stores the per-channel delivery outcomes for an
// alert.
func (s *AlertService) RecordChannelResults(ctx context.Context, id string, results []model.ChannelResult) error {
	_, err := s.db.Exec(ctx,
		"UPDATE alerts SET channels = $1, updated_at = now() WHERE id = $2",
		results, id,
	)
	if err != nil {
		return fmt.Errorf("record channel results for alert %s: %w", id, err)
	}
	return nil
}

func (s *AlertService) Acknowledge(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE alerts SET status = $1, acknowledged_at = now(), updated_at = now() WHERE id = $2 AND status = $3",
		model.AlertAcknowledged, id, model.AlertActive,
	)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s is not active", id)
	}
	return nil
}

func (s *AlertService) Resolve(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE alerts SET status = $1, resolved_at = now(), updated_at = now() WHERE id = $2 AND status <> $1",
		model.AlertResolved, id,
	)
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s is already resolved", id)
	}
	return nil
}

func (s *AlertService) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	alert, err := scanAlert(s.db.QueryRow(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return alert, nil
}

// List returns alerts newest-first, optionally filtered by status, with
// cursor pagination.
func (s *AlertService) List(ctx context.Context, status string, limit int, cursor string) ([]model.Alert, bool, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE 1=1"
	var args []any
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(" AND id < $%d", argIdx)
		args = append(args, cursor)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate alerts: %w", err)
	}

	hasMore := len(alerts) > limit
	if hasMore {
		alerts = alerts[:limit]
	}
	return alerts, hasMore, nil
}
