package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/drvault/internal/model"
)

// ErrNoRestorableBackup is returned when the catalog holds no completed
// or verified full backup to restore from.
var ErrNoRestorableBackup = errors.New("no restorable full backup in catalog")

const recordColumns = `id, type, tenant_id, filename, size_bytes, checksum,
	local_path, remote_a_path, remote_b_path, status, status_message,
	compression_ratio, duration_seconds, metadata, verified_at, created_at, updated_at`

type RecordService struct {
	db DB
}

func NewRecordService(db DB) *RecordService {
	return &RecordService{db: db}
}

func scanRecord(row pgx.Row) (*model.BackupRecord, error) {
	var b model.BackupRecord
	err := row.Scan(&b.ID, &b.Type, &b.TenantID, &b.Filename, &b.SizeBytes, &b.Checksum,
		&b.LocalPath, &b.RemoteAPath, &b.RemoteBPath, &b.Status, &b.StatusMessage,
		&b.CompressionRatio, &b.DurationSeconds, &b.Metadata, &b.VerifiedAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a new in_progress ledger row at run start.
func (s *RecordService) Create(ctx context.Context, rec *model.BackupRecord) error {
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_records (id, type, tenant_id, filename, status, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		rec.ID, rec.Type, rec.TenantID, rec.Filename, model.BackupInProgress, rec.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert backup record: %w", err)
	}
	return nil
}

// ArtifactInfo carries the measured outcome of the encode+upload phase.
type ArtifactInfo struct {
	Filename         string
	SizeBytes        int64
	Checksum         string
	CompressionRatio float64
	DurationSeconds  float64
	Paths            map[string]string
	UploadErrors     map[string]string
}

// Complete finalizes a run. A run with zero stored locations is never
// marked completed: it is recorded as failed instead and an error is
// returned so the caller raises the failure alert.
func (s *RecordService) Complete(ctx context.Context, id string, info ArtifactInfo) error {
	if len(info.Paths) == 0 {
		msg := "no storage location accepted the artifact"
		if err := s.SetStatus(ctx, id, model.BackupFailed, &msg); err != nil {
			return err
		}
		return fmt.Errorf("backup %s: %s", id, msg)
	}

	status := model.BackupCompleted
	var statusMessage *string
	if len(info.UploadErrors) > 0 {
		m := fmt.Sprintf("completed with %d of %d upload targets", len(info.Paths), len(info.Paths)+len(info.UploadErrors))
		statusMessage = &m
	}

	_, err := s.db.Exec(ctx,
		`UPDATE backup_records
		 SET filename = $1, size_bytes = $2, checksum = $3, compression_ratio = $4,
		     duration_seconds = $5, local_path = $6, remote_a_path = $7, remote_b_path = $8,
		     status = $9, status_message = $10, updated_at = now()
		 WHERE id = $11`,
		info.Filename, info.SizeBytes, info.Checksum, info.CompressionRatio,
		info.DurationSeconds,
		nullable(info.Paths[model.LocationLocal]),
		nullable(info.Paths[model.LocationRemoteA]),
		nullable(info.Paths[model.LocationRemoteB]),
		status, statusMessage, id,
	)
	if err != nil {
		return fmt.Errorf("complete backup record %s: %w", id, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *RecordService) SetStatus(ctx context.Context, id, status string, message *string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE backup_records SET status = $1, status_message = $2, updated_at = now() WHERE id = $3",
		status, message, id,
	)
	if err != nil {
		return fmt.Errorf("set backup %s status to %s: %w", id, status, err)
	}
	return nil
}

// MarkVerified promotes a completed record after its full checksum
// verification passed on every stored location.
func (s *RecordService) MarkVerified(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE backup_records SET status = $1, verified_at = now(), updated_at = now() WHERE id = $2",
		model.BackupVerified, id,
	)
	if err != nil {
		return fmt.Errorf("mark backup %s verified: %w", id, err)
	}
	return nil
}

// RecordIntegrityCheck merges the latest integrity check outcome into
// the record's metadata. The status column is never touched here: an
// integrity finding flags the record, it does not rewrite history.
func (s *RecordService) RecordIntegrityCheck(ctx context.Context, id string, result map[string]any) error {
	_, err := s.db.Exec(ctx,
		"UPDATE backup_records SET metadata = metadata || $1, updated_at = now() WHERE id = $2",
		map[string]any{"last_integrity_check": result}, id,
	)
	if err != nil {
		return fmt.Errorf("record integrity check on backup %s: %w", id, err)
	}
	return nil
}

// ClearPath removes one storage location from a record after the
// retention sweeper deleted the artifact there. Clearing the last path
// leaves an orphan row for PurgeOrphans.
func (s *RecordService) ClearPath(ctx context.Context, id, location string) error {
	var column string
	switch location {
	case model.LocationLocal:
		column = "local_path"
	case model.LocationRemoteA:
		column = "remote_a_path"
	case model.LocationRemoteB:
		column = "remote_b_path"
	default:
		return fmt.Errorf("unknown storage location %q", location)
	}
	_, err := s.db.Exec(ctx,
		fmt.Sprintf("UPDATE backup_records SET %s = NULL, updated_at = now() WHERE id = $1", column),
		id,
	)
	if err != nil {
		return fmt.Errorf("clear %s path on backup %s: %w", location, id, err)
	}
	return nil
}

// PurgeOrphans deletes catalog rows whose every storage path is gone.
// In-progress rows are never touched.
func (s *RecordService) PurgeOrphans(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM backup_records
		 WHERE local_path IS NULL AND remote_a_path IS NULL AND remote_b_path IS NULL
		   AND status <> $1`,
		model.BackupInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("purge orphan backup records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *RecordService) GetByID(ctx context.Context, id string) (*model.BackupRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM backup_records WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("get backup record %s: %w", id, err)
	}
	return rec, nil
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Type     string
	TenantID string
	Status   string
}

// List returns records newest-first with cursor pagination. The cursor
// is the last seen record ID.
func (s *RecordService) List(ctx context.Context, filter ListFilter, limit int, cursor string) ([]model.BackupRecord, bool, error) {
	query := "SELECT " + recordColumns + " FROM backup_records WHERE 1=1"
	var args []any
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
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
		return nil, false, fmt.Errorf("list backup records: %w", err)
	}
	defer rows.Close()

	var records []model.BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan backup record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate backup records: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return records, hasMore, nil
}

// LatestRestorable returns the newest full database backup that reached
// completed or verified and still holds at least one artifact copy.
func (s *RecordService) LatestRestorable(ctx context.Context) (*model.BackupRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM backup_records
		 WHERE type = $1 AND status IN ($2, $3)
		   AND (local_path IS NOT NULL OR remote_a_path IS NOT NULL OR remote_b_path IS NOT NULL)
		 ORDER BY created_at DESC LIMIT 1`,
		model.BackupTypeFullDB, model.BackupCompleted, model.BackupVerified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRestorableBackup
		}
		return nil, fmt.Errorf("get latest restorable backup: %w", err)
	}
	return rec, nil
}

// LatestByType returns the newest completed or verified record of the
// given backup type, or nil when none exists.
func (s *RecordService) LatestByType(ctx context.Context, backupType string) (*model.BackupRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM backup_records
		 WHERE type = $1 AND status IN ($2, $3)
		 ORDER BY created_at DESC LIMIT 1`,
		backupType, model.BackupCompleted, model.BackupVerified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest %s record: %w", backupType, err)
	}
	return rec, nil
}

// ListExpired returns records whose artifact at the given location has
// outlived the retention cutoff. Only completed and verified records
// expire; failures keep their evidence until purged by hand.
func (s *RecordService) ListExpired(ctx context.Context, location string, cutoff time.Time) ([]model.BackupRecord, error) {
	var column string
	switch location {
	case model.LocationLocal:
		column = "local_path"
	case model.LocationRemoteA:
		column = "remote_a_path"
	case model.LocationRemoteB:
		column = "remote_b_path"
	default:
		return nil, fmt.Errorf("unknown storage location %q", location)
	}

	rows, err := s.db.Query(ctx,
		"SELECT "+recordColumns+" FROM backup_records WHERE "+column+
			" IS NOT NULL AND created_at < $1 AND status IN ($2, $3) ORDER BY created_at",
		cutoff, model.BackupCompleted, model.BackupVerified,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired records for %s: %w", location, err)
	}
	defer rows.Close()

	var records []model.BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired records: %w", err)
	}
	return records, nil
}

// WALSegmentArchived reports whether a WAL segment with this filename is
// already cataloged as completed. The archiver uses it to skip segments
// an earlier run uploaded, making the five-minute schedule idempotent.
func (s *RecordService) WALSegmentArchived(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM backup_records
		   WHERE type = $1 AND filename = $2 AND status IN ($3, $4)
		 )`,
		model.BackupTypeWALSegment, filename, model.BackupCompleted, model.BackupVerified,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check wal segment %s: %w", filename, err)
	}
	return exists, nil
}

// ListWALSegmentsBetween returns completed WAL segment records created in
// (from, to], ordered by filename. Segment filenames are fixed-width hex
// so lexical order is sequence order.
func (s *RecordService) ListWALSegmentsBetween(ctx context.Context, from, to time.Time) ([]model.BackupRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM backup_records
		 WHERE type = $1 AND status IN ($2, $3) AND created_at > $4 AND created_at <= $5
		 ORDER BY filename`,
		model.BackupTypeWALSegment, model.BackupCompleted, model.BackupVerified, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list wal segments: %w", err)
	}
	defer rows.Close()

	var records []model.BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wal segment: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wal segments: %w", err)
	}
	return records, nil
}

// ListForSweep returns up to batch completed or verified records created
// inside the sweep window, oldest verification first, for the hourly
// integrity check.
func (s *RecordService) ListForSweep(ctx context.Context, since time.Time, batch int) ([]model.BackupRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM backup_records
		 WHERE status IN ($1, $2) AND created_at >= $3
		 ORDER BY verified_at ASC NULLS FIRST, created_at ASC
		 LIMIT $4`,
		model.BackupCompleted, model.BackupVerified, since, batch,
	)
	if err != nil {
		return nil, fmt.Errorf("list records for integrity sweep: %w", err)
	}
	defer rows.Close()

	var records []model.BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sweep record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sweep records: %w", err)
	}
	return records, nil
}

// RollingStats holds the moving averages the monitor compares new runs
// against.
type RollingStats struct {
	Runs        int64
	AvgSize     float64
	AvgDuration float64
}

// RollingStats averages size and duration over the last n completed runs
// of the given backup type.
func (s *RecordService) RollingStats(ctx context.Context, backupType string, n int) (RollingStats, error) {
	var stats RollingStats
	err := s.db.QueryRow(ctx,
		`SELECT count(*), coalesce(avg(size_bytes), 0), coalesce(avg(duration_seconds), 0)
		 FROM (
		   SELECT size_bytes, duration_seconds FROM backup_records
		   WHERE type = $1 AND status IN ($2, $3)
		   ORDER BY created_at DESC LIMIT $4
		 ) recent`,
		backupType, model.BackupCompleted, model.BackupVerified, n,
	).Scan(&stats.Runs, &stats.AvgSize, &stats.AvgDuration)
	if err != nil {
		return stats, fmt.Errorf("rolling stats for %s: %w", backupType, err)
	}
	return stats, nil
}

// ListCataloguedTenantIDs returns the distinct tenant IDs with backup
// records in the catalog. It requires an Elevated token because it
// spans every tenant.
func (s *RecordService) ListCataloguedTenantIDs(ctx context.Context, ev Elevated) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT DISTINCT tenant_id FROM backup_records WHERE tenant_id IS NOT NULL ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("list catalogued tenants (%s): %w", ev.Reason, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant ids: %w", err)
	}
	return ids, nil
}
