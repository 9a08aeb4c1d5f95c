// Package activity implements the Temporal activities the backup and
// disaster-recovery workflows are composed of: catalog bookkeeping,
// database dumps and restores, artifact encoding, storage transfers,
// integrity checks, notification delivery and the recovery runbook
// primitives.
package activity

import (
	"context"
	"time"

	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/metrics"
	"github.com/edvin/drvault/internal/model"
)

// Catalog contains activities that read from and update the backup
// catalog database.
type Catalog struct {
	services *catalog.Services
}

// NewCatalog creates a new Catalog activity struct.
func NewCatalog(services *catalog.Services) *Catalog {
	return &Catalog{services: services}
}

func (a *Catalog) CreateBackupRecord(ctx context.Context, rec model.BackupRecord) error {
	return a.services.Records.Create(ctx, &rec)
}

// CompleteBackupRecordParams holds the parameters for CompleteBackupRecord.
type CompleteBackupRecordParams struct {
	ID   string
	Type string
	Info catalog.ArtifactInfo
}

func (a *Catalog) CompleteBackupRecord(ctx context.Context, params CompleteBackupRecordParams) error {
	if err := a.services.Records.Complete(ctx, params.ID, params.Info); err != nil {
		metrics.BackupRuns.WithLabelValues(params.Type, model.BackupFailed).Inc()
		return err
	}
	metrics.BackupRuns.WithLabelValues(params.Type, model.BackupCompleted).Inc()
	return nil
}

// FailBackupRecordParams holds the parameters for FailBackupRecord.
type FailBackupRecordParams struct {
	ID      string
	Type    string
	Message string
}

func (a *Catalog) FailBackupRecord(ctx context.Context, params FailBackupRecordParams) error {
	metrics.BackupRuns.WithLabelValues(params.Type, model.BackupFailed).Inc()
	return a.services.Records.SetStatus(ctx, params.ID, model.BackupFailed, &params.Message)
}

// LatestRecordParams holds the parameters for LatestRecord.
type LatestRecordParams struct {
	Type string
}

// LatestRecord returns the newest completed or verified record of the
// given type, or nil when none exists.
func (a *Catalog) LatestRecord(ctx context.Context, params LatestRecordParams) (*model.BackupRecord, error) {
	return a.services.Records.LatestByType(ctx, params.Type)
}

func (a *Catalog) MarkBackupVerified(ctx context.Context, id string) error {
	return a.services.Records.MarkVerified(ctx, id)
}

// RecordIntegrityCheckParams holds the parameters for RecordIntegrityCheck.
type RecordIntegrityCheckParams struct {
	ID     string
	Result map[string]any
}

// RecordIntegrityCheck writes the latest verification outcome into the
// record's metadata without touching its status.
func (a *Catalog) RecordIntegrityCheck(ctx context.Context, params RecordIntegrityCheckParams) error {
	return a.services.Records.RecordIntegrityCheck(ctx, params.ID, params.Result)
}

// ClearBackupPathParams holds the parameters for ClearBackupPath.
type ClearBackupPathParams struct {
	ID       string
	Location string
}

func (a *Catalog) ClearBackupPath(ctx context.Context, params ClearBackupPathParams) error {
	return a.services.Records.ClearPath(ctx, params.ID, params.Location)
}

func (a *Catalog) PurgeOrphanRecords(ctx context.Context) (int64, error) {
	return a.services.Records.PurgeOrphans(ctx)
}

func (a *Catalog) GetBackupRecord(ctx context.Context, id string) (*model.BackupRecord, error) {
	return a.services.Records.GetByID(ctx, id)
}

func (a *Catalog) GetLatestRestorableBackup(ctx context.Context) (*model.BackupRecord, error) {
	return a.services.Records.LatestRestorable(ctx)
}

// ListExpiredRecordsParams holds the parameters for ListExpiredRecords.
type ListExpiredRecordsParams struct {
	Location string
	Cutoff   time.Time
}

func (a *Catalog) ListExpiredRecords(ctx context.Context, params ListExpiredRecordsParams) ([]model.BackupRecord, error) {
	return a.services.Records.ListExpired(ctx, params.Location, params.Cutoff)
}

func (a *Catalog) WALSegmentArchived(ctx context.Context, filename string) (bool, error) {
	return a.services.Records.WALSegmentArchived(ctx, filename)
}

// ListWALSegmentsParams holds the time window for ListWALSegmentRecords.
type ListWALSegmentsParams struct {
	From time.Time
	To   time.Time
}

func (a *Catalog) ListWALSegmentRecords(ctx context.Context, params ListWALSegmentsParams) ([]model.BackupRecord, error) {
	return a.services.Records.ListWALSegmentsBetween(ctx, params.From, params.To)
}

// ListSweepRecordsParams holds the parameters for ListSweepRecords.
type ListSweepRecordsParams struct {
	Since time.Time
	Batch int
}

func (a *Catalog) ListSweepRecords(ctx context.Context, params ListSweepRecordsParams) ([]model.BackupRecord, error) {
	return a.services.Records.ListForSweep(ctx, params.Since, params.Batch)
}

// RollingStatsParams holds the parameters for RollingStats.
type RollingStatsParams struct {
	Type string
	N    int
}

func (a *Catalog) RollingStats(ctx context.Context, params RollingStatsParams) (catalog.RollingStats, error) {
	return a.services.Records.RollingStats(ctx, params.Type, params.N)
}

func (a *Catalog) ListCataloguedTenantIDs(ctx context.Context, reason string) ([]string, error) {
	return a.services.Records.ListCataloguedTenantIDs(ctx, catalog.Elevated{Reason: reason})
}

func (a *Catalog) CreateRestoreLog(ctx context.Context, log model.RestoreLog) error {
	return a.services.Restores.Create(ctx, &log)
}

// AppendRestoreStepParams holds the parameters for AppendRestoreStep.
type AppendRestoreStepParams struct {
	RestoreID string
	Step      model.RestoreStep
}

func (a *Catalog) AppendRestoreStep(ctx context.Context, params AppendRestoreStepParams) error {
	return a.services.Restores.AppendStep(ctx, params.RestoreID, params.Step)
}

// CompleteRestoreLogParams holds the parameters for CompleteRestoreLog.
type CompleteRestoreLogParams struct {
	RestoreID       string
	Status          string
	RowsRestored    int64
	DurationSeconds float64
	Error           *string
}

func (a *Catalog) CompleteRestoreLog(ctx context.Context, params CompleteRestoreLogParams) error {
	return a.services.Restores.Complete(ctx, params.RestoreID, params.Status,
		params.RowsRestored, params.DurationSeconds, params.Error)
}

// RaiseAlertResult reports the stored alert and whether it was folded
// into an existing active alert.
type RaiseAlertResult struct {
	Alert   *model.Alert
	Deduped bool
}

func (a *Catalog) RaiseAlert(ctx context.Context, alert model.Alert) (RaiseAlertResult, error) {
	stored, deduped, err := a.services.Alerts.Raise(ctx, &alert)
	if err != nil {
		return RaiseAlertResult{}, err
	}
	return RaiseAlertResult{Alert: stored, Deduped: deduped}, nil
}

// RecordAlertChannelsParams holds the parameters for RecordAlertChannels.
type RecordAlertChannelsParams struct {
	AlertID string
	Results []model.ChannelResult
}

func (a *Catalog) RecordAlertChannels(ctx context.Context, params RecordAlertChannelsParams) error {
	return a.services.Alerts.RecordChannelResults(ctx, params.AlertID, params.Results)
}
