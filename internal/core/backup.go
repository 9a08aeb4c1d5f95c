package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/workflow"
)

// ErrNotRetryable is returned when a retry is requested for a record
// that is not in a failed state.
var ErrNotRetryable = errors.New("only failed backups can be retried")

type BackupService struct {
	cat  *catalog.Services
	tc   temporalclient.Client
	opts Options
}

func NewBackupService(cat *catalog.Services, tc temporalclient.Client, opts Options) *BackupService {
	return &BackupService{cat: cat, tc: tc, opts: opts}
}

// TriggerFull starts an on-demand full database backup and returns the
// workflow ID. Full backups run on the DR lane so a congested routine
// queue never delays them.
func (s *BackupService) TriggerFull(ctx context.Context) (string, error) {
	wfID := workflowID("full-backup", uuid.NewString())
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: workflow.TaskQueueDR,
	}, "FullBackupWorkflow", workflow.FullBackupParams{WorkDir: s.opts.WorkDir})
	if err != nil {
		return "", fmt.Errorf("start FullBackupWorkflow: %w", err)
	}
	return wfID, nil
}

// TriggerTenant starts an on-demand backup of a single tenant.
func (s *BackupService) TriggerTenant(ctx context.Context, tenantID string) (string, error) {
	wfID := workflowID("tenant-backup", uuid.NewString())
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: workflow.TaskQueueVault,
	}, "TenantBackupWorkflow", workflow.TenantBackupParams{
		WorkDir:  s.opts.WorkDir,
		TenantID: tenantID,
	})
	if err != nil {
		return "", fmt.Errorf("start TenantBackupWorkflow: %w", err)
	}
	return wfID, nil
}

// TriggerTenantBatch starts a backup of every tenant in the source
// database.
func (s *BackupService) TriggerTenantBatch(ctx context.Context) (string, error) {
	wfID := workflowID("tenant-batch", uuid.NewString())
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: workflow.TaskQueueVault,
	}, "TenantBatchBackupWorkflow", workflow.TenantBatchParams{WorkDir: s.opts.WorkDir})
	if err != nil {
		return "", fmt.Errorf("start TenantBatchBackupWorkflow: %w", err)
	}
	return wfID, nil
}

// TriggerConfig starts an on-demand configuration backup.
func (s *BackupService) TriggerConfig(ctx context.Context) (string, error) {
	wfID := workflowID("config-backup", uuid.NewString())
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: workflow.TaskQueueVault,
	}, "ConfigBackupWorkflow", workflow.ConfigBackupParams{
		WorkDir: s.opts.WorkDir,
		Paths:   s.opts.ConfigPaths,
	})
	if err != nil {
		return "", fmt.Errorf("start ConfigBackupWorkflow: %w", err)
	}
	return wfID, nil
}

// Retry starts a fresh run of the same kind as a failed record. The
// failed record stays in the catalog; the retry produces a new one.
func (s *BackupService) Retry(ctx context.Context, id string) (string, error) {
	rec, err := s.cat.Records.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.Status != model.BackupFailed {
		return "", fmt.Errorf("backup %s is %s: %w", id, rec.Status, ErrNotRetryable)
	}

	switch rec.Type {
	case model.BackupTypeFullDB:
		return s.TriggerFull(ctx)
	case model.BackupTypeTenant:
		if rec.TenantID == nil {
			return "", fmt.Errorf("tenant backup %s has no tenant id", id)
		}
		return s.TriggerTenant(ctx, *rec.TenantID)
	case model.BackupTypeConfig:
		return s.TriggerConfig(ctx)
	}
	// WAL segments are re-shipped by the next archiver run; a manual
	// retry has nothing to add.
	return "", fmt.Errorf("backup type %s cannot be retried manually", rec.Type)
}

func (s *BackupService) GetByID(ctx context.Context, id string) (*model.BackupRecord, error) {
	return s.cat.Records.GetByID(ctx, id)
}

func (s *BackupService) List(ctx context.Context, filter catalog.ListFilter, limit int, cursor string) ([]model.BackupRecord, bool, error) {
	return s.cat.Records.List(ctx, filter, limit, cursor)
}
