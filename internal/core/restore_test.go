package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/workflow"
)

func newTestRestoreService(db *mockDB, tc *temporalmocks.Client) *RestoreService {
	return NewRestoreService(catalog.NewServices(db), tc, testOptions())
}

func TestRestoreService_Trigger_Success(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := newTestRestoreService(db, tc)
	ctx := context.Background()

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", ctx, mock.MatchedBy(func(opts temporalclient.StartWorkflowOptions) bool {
		return opts.TaskQueue == workflow.TaskQueueDR
	}), "DisasterRecoveryWorkflow", mock.MatchedBy(func(params workflow.DisasterRecoveryParams) bool {
		return params.Mode == model.RestoreModeFull &&
			params.Reason == "primary database lost" &&
			params.RestoreID != "" &&
			params.RTOTarget == 4*time.Hour
	})).Return(wfRun, nil)

	restoreID, err := svc.Trigger(ctx, TriggerParams{
		Mode:      model.RestoreModeFull,
		Initiator: "ops@example.com",
		Reason:    "primary database lost",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, restoreID)
	tc.AssertExpectations(t)
}

func TestRestoreService_Trigger_RejectsEmptyReason(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := newTestRestoreService(db, tc)

	_, err := svc.Trigger(context.Background(), TriggerParams{
		Mode:      model.RestoreModeFull,
		Initiator: "ops@example.com",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReasonRequired)
	// A rejected request never reaches Temporal.
	tc.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreService_Trigger_RejectsPITRWithoutTargetTime(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := newTestRestoreService(db, tc)

	_, err := svc.Trigger(context.Background(), TriggerParams{
		Mode:      model.RestoreModePITR,
		Initiator: "ops@example.com",
		Reason:    "drill",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetTimeRequired)
}

func TestRestoreService_Trigger_RejectsUnknownMode(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := newTestRestoreService(db, tc)

	_, err := svc.Trigger(context.Background(), TriggerParams{
		Mode:      "partial",
		Initiator: "ops@example.com",
		Reason:    "drill",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestRestoreService_Trigger_PITRCarriesTargetTime(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := newTestRestoreService(db, tc)
	ctx := context.Background()
	target := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", ctx, mock.Anything, "DisasterRecoveryWorkflow",
		mock.MatchedBy(func(params workflow.DisasterRecoveryParams) bool {
			return params.Mode == model.RestoreModePITR &&
				params.TargetTime != nil && params.TargetTime.Equal(target)
		})).Return(wfRun, nil)

	_, err := svc.Trigger(ctx, TriggerParams{
		BackupID:   "bk-1",
		Mode:       model.RestoreModePITR,
		Initiator:  "ops@example.com",
		Reason:     "corruption detected",
		TargetTime: &target,
	})
	require.NoError(t, err)
	tc.AssertExpectations(t)
}

func TestRestoreService_Trigger_WorkflowError(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := newTestRestoreService(db, tc)
	ctx := context.Background()

	tc.On("ExecuteWorkflow", ctx, mock.Anything, "DisasterRecoveryWorkflow", mock.Anything).
		Return(nil, errors.New("temporal down"))

	_, err := svc.Trigger(ctx, TriggerParams{
		Mode:      model.RestoreModeFull,
		Initiator: "ops@example.com",
		Reason:    "primary database lost",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start DisasterRecoveryWorkflow")
	tc.AssertExpectations(t)
}
