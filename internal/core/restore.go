package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/workflow"
)

// Validation errors for recovery triggers. Validation happens here,
// before any workflow starts, so a rejected request leaves no trace.
var (
	ErrReasonRequired     = errors.New("recovery requires a non-empty reason")
	ErrTargetTimeRequired = errors.New("pitr recovery requires a target timestamp")
	ErrInvalidMode        = errors.New("unknown restore mode")
)

type RestoreService struct {
	cat  *catalog.Services
	tc   temporalclient.Client
	opts Options
}

func NewRestoreService(cat *catalog.Services, tc temporalclient.Client, opts Options) *RestoreService {
	return &RestoreService{cat: cat, tc: tc, opts: opts}
}

// TriggerParams describes a requested recovery run.
type TriggerParams struct {
	// BackupID selects the backup to restore; empty picks the newest
	// restorable full backup.
	BackupID  string
	Mode      string
	Initiator string
	Reason    string
	// TargetTime is required for PITR mode.
	TargetTime *time.Time
	TenantIDs  []string
}

// Trigger validates and starts a disaster recovery run, returning the
// restore log ID the run will write to.
func (s *RestoreService) Trigger(ctx context.Context, params TriggerParams) (string, error) {
	if params.Reason == "" {
		return "", ErrReasonRequired
	}
	switch params.Mode {
	case model.RestoreModeFull, model.RestoreModeMerge:
	case model.RestoreModePITR:
		if params.TargetTime == nil {
			return "", ErrTargetTimeRequired
		}
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidMode, params.Mode)
	}

	restoreID := uuid.NewString()
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID("disaster-recovery", restoreID),
		TaskQueue: workflow.TaskQueueDR,
	}, "DisasterRecoveryWorkflow", workflow.DisasterRecoveryParams{
		RestoreID:  restoreID,
		BackupID:   params.BackupID,
		Mode:       params.Mode,
		Initiator:  params.Initiator,
		Reason:     params.Reason,
		TargetTime: params.TargetTime,
		TenantIDs:  params.TenantIDs,
		WorkDir:    s.opts.WorkDir,
		RTOTarget:  s.opts.RTOTarget,
	})
	if err != nil {
		return "", fmt.Errorf("start DisasterRecoveryWorkflow: %w", err)
	}
	return restoreID, nil
}

func (s *RestoreService) GetByID(ctx context.Context, id string) (*model.RestoreLog, error) {
	return s.cat.Restores.GetByID(ctx, id)
}

func (s *RestoreService) List(ctx context.Context, limit int, cursor string) ([]model.RestoreLog, bool, error) {
	return s.cat.Restores.List(ctx, limit, cursor)
}
