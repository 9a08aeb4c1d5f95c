package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/drvault/internal/model"
)

func restoreLogScanFunc(r model.RestoreLog) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = r.ID
		*(dest[1].(*string)) = r.BackupID
		*(dest[2].(*string)) = r.Initiator
		*(dest[3].(*string)) = r.Mode
		*(dest[4].(**time.Time)) = r.TargetTimestamp
		*(dest[5].(*[]string)) = r.TenantIDs
		*(dest[6].(*string)) = r.Status
		*(dest[7].(*int64)) = r.RowsRestored
		*(dest[8].(*float64)) = r.DurationSeconds
		*(dest[9].(**string)) = r.Error
		*(dest[10].(*string)) = r.Reason
		*(dest[11].(*[]model.RestoreStep)) = r.StepLog
		*(dest[12].(*time.Time)) = r.CreatedAt
		*(dest[13].(*time.Time)) = r.UpdatedAt
		return nil
	}
}

// ---------- Create ----------

func TestRestoreLogService_Create_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Create(ctx, &model.RestoreLog{
		ID:        "rs-1",
		BackupID:  "bk-1",
		Initiator: "oncall@example.com",
		Mode:      model.RestoreModeFull,
		Reason:    "primary database lost after storage failure",
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRestoreLogService_Create_EmptyReason(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)

	err := svc.Create(context.Background(), &model.RestoreLog{
		ID:       "rs-1",
		BackupID: "bk-1",
		Mode:     model.RestoreModeFull,
	})
	require.ErrorIs(t, err, ErrReasonRequired)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreLogService_Create_InsertError(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := svc.Create(ctx, &model.RestoreLog{
		ID:       "rs-1",
		BackupID: "bk-1",
		Mode:     model.RestoreModeFull,
		Reason:   "drill",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert restore log")
	db.AssertExpectations(t)
}

// ---------- AppendStep / Complete ----------

func TestRestoreLogService_AppendStep(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.AppendStep(ctx, "rs-1", model.RestoreStep{
		Name:       model.StepDownload,
		Status:     "ok",
		Detail:     "downloaded from remote_a",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRestoreLogService_Complete(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Complete(ctx, "rs-1", model.RestoreCompleted, 120000, 840.5, nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

// ---------- GetByID / List ----------

func TestRestoreLogService_GetByID_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	row := &mockRow{scanFunc: restoreLogScanFunc(model.RestoreLog{
		ID:        "rs-1",
		BackupID:  "bk-1",
		Initiator: "oncall@example.com",
		Mode:      model.RestoreModePITR,
		Status:    model.RestoreCompleted,
		Reason:    "point in time recovery after bad migration",
		StepLog:   []model.RestoreStep{{Name: model.StepSelectBackup, Status: "ok"}},
		TenantIDs: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	})}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	result, err := svc.GetByID(ctx, "rs-1")
	require.NoError(t, err)
	assert.Equal(t, model.RestoreModePITR, result.Mode)
	require.Len(t, result.StepLog, 1)
	assert.Equal(t, model.StepSelectBackup, result.StepLog[0].Name)
	db.AssertExpectations(t)
}

func TestRestoreLogService_List_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewRestoreLogService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	logs, hasMore, err := svc.List(ctx, 50, "")
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Empty(t, logs)
	db.AssertExpectations(t)
}
