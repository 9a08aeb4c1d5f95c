package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/drvault/internal/model"
)

// recordScanFunc fills all backup_records columns from rec.
func recordScanFunc(rec model.BackupRecord) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = rec.ID
		*(dest[1].(*string)) = rec.Type
		*(dest[2].(**string)) = rec.TenantID
		*(dest[3].(*string)) = rec.Filename
		*(dest[4].(*int64)) = rec.SizeBytes
		*(dest[5].(*string)) = rec.Checksum
		*(dest[6].(**string)) = rec.LocalPath
		*(dest[7].(**string)) = rec.RemoteAPath
		*(dest[8].(**string)) = rec.RemoteBPath
		*(dest[9].(*string)) = rec.Status
		*(dest[10].(**string)) = rec.StatusMessage
		*(dest[11].(*float64)) = rec.CompressionRatio
		*(dest[12].(*float64)) = rec.DurationSeconds
		*(dest[13].(*map[string]any)) = rec.Metadata
		*(dest[14].(**time.Time)) = rec.VerifiedAt
		*(dest[15].(*time.Time)) = rec.CreatedAt
		*(dest[16].(*time.Time)) = rec.UpdatedAt
		return nil
	}
}

func strPtr(s string) *string { return &s }

// ---------- Create ----------

func TestRecordService_Create_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Create(ctx, &model.BackupRecord{
		ID:       "bk-1",
		Type:     model.BackupTypeFullDB,
		Filename: "full-20260824.dump.gz.enc",
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRecordService_Create_InsertError(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := svc.Create(ctx, &model.BackupRecord{ID: "bk-1", Type: model.BackupTypeFullDB})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert backup record")
	db.AssertExpectations(t)
}

// ---------- Complete ----------

func TestRecordService_Complete_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Complete(ctx, "bk-1", ArtifactInfo{
		Filename:  "full-20260824.dump.gz.enc",
		SizeBytes: 2048,
		Checksum:  "abcd",
		Paths: map[string]string{
			model.LocationLocal:   "full/full-20260824.dump.gz.enc",
			model.LocationRemoteA: "full/full-20260824.dump.gz.enc",
			model.LocationRemoteB: "full/full-20260824.dump.gz.enc",
		},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRecordService_Complete_NoLocations(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	// Zero stored locations marks the record failed and fails the call.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Complete(ctx, "bk-1", ArtifactInfo{Filename: "full.dump.gz.enc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no storage location")
	db.AssertExpectations(t)
}

// ---------- RecordIntegrityCheck ----------

func TestRecordService_RecordIntegrityCheck_MergesMetadata(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		// The result is merged into metadata; the status column stays
		// untouched.
		return strings.Contains(sql, "metadata = metadata ||") && !strings.Contains(sql, "status =")
	}), mock.MatchedBy(func(args []any) bool {
		merged, ok := args[0].(map[string]any)
		return ok && merged["last_integrity_check"] != nil && args[1] == "bk-1"
	})).Return(pgconn.CommandTag{}, nil)

	err := svc.RecordIntegrityCheck(ctx, "bk-1", map[string]any{
		"passed":    false,
		"locations": map[string]string{model.LocationRemoteA: "artifact missing"},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRecordService_RecordIntegrityCheck_Error(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := svc.RecordIntegrityCheck(ctx, "bk-1", map[string]any{"passed": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record integrity check")
}

// ---------- ClearPath ----------

func TestRecordService_ClearPath_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.ClearPath(ctx, "bk-1", model.LocationRemoteA)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRecordService_ClearPath_UnknownLocation(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)

	err := svc.ClearPath(context.Background(), "bk-1", "glacier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage location")
}

// ---------- PurgeOrphans ----------

func TestRecordService_PurgeOrphans(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 3"), nil)

	purged, err := svc.PurgeOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	db.AssertExpectations(t)
}

// ---------- GetByID ----------

func TestRecordService_GetByID_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	rec := model.BackupRecord{
		ID:          "bk-1",
		Type:        model.BackupTypeFullDB,
		Filename:    "full-20260824.dump.gz.enc",
		SizeBytes:   2048,
		Checksum:    "abcd",
		LocalPath:   strPtr("full/full-20260824.dump.gz.enc"),
		RemoteAPath: strPtr("full/full-20260824.dump.gz.enc"),
		Status:      model.BackupCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	row := &mockRow{scanFunc: recordScanFunc(rec)}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	result, err := svc.GetByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", result.ID)
	assert.Equal(t, int64(2048), result.SizeBytes)
	assert.Len(t, result.StoragePaths(), 2)
	db.AssertExpectations(t)
}

func TestRecordService_GetByID_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	result, err := svc.GetByID(ctx, "nonexistent")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "get backup record")
	db.AssertExpectations(t)
}

// ---------- List ----------

func TestRecordService_List_Pagination(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	rows := newMockRows(
		recordScanFunc(model.BackupRecord{ID: "bk-2", Type: model.BackupTypeFullDB, Status: model.BackupCompleted, CreatedAt: now, UpdatedAt: now}),
		recordScanFunc(model.BackupRecord{ID: "bk-1", Type: model.BackupTypeFullDB, Status: model.BackupCompleted, CreatedAt: now, UpdatedAt: now}),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	result, hasMore, err := svc.List(ctx, ListFilter{Type: model.BackupTypeFullDB}, 1, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, result, 1)
	assert.Equal(t, "bk-2", result[0].ID)
	db.AssertExpectations(t)
}

func TestRecordService_List_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	result, hasMore, err := svc.List(ctx, ListFilter{}, 50, "")
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Empty(t, result)
	db.AssertExpectations(t)
}

// ---------- LatestRestorable ----------

func TestRecordService_LatestRestorable_None(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	result, err := svc.LatestRestorable(ctx)
	require.ErrorIs(t, err, ErrNoRestorableBackup)
	assert.Nil(t, result)
	db.AssertExpectations(t)
}

func TestRecordService_LatestRestorable_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	rec := model.BackupRecord{
		ID:          "bk-9",
		Type:        model.BackupTypeFullDB,
		Status:      model.BackupVerified,
		RemoteAPath: strPtr("full/full-20260824.dump.gz.enc"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	row := &mockRow{scanFunc: recordScanFunc(rec)}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	result, err := svc.LatestRestorable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bk-9", result.ID)
	assert.True(t, result.HasAnyPath())
	db.AssertExpectations(t)
}

// ---------- WALSegmentArchived ----------

func TestRecordService_WALSegmentArchived(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	archived, err := svc.WALSegmentArchived(ctx, "000000010000000000000042")
	require.NoError(t, err)
	assert.True(t, archived)
	db.AssertExpectations(t)
}

// ---------- ListExpired ----------

func TestRecordService_ListExpired_UnknownLocation(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)

	_, err := svc.ListExpired(context.Background(), "glacier", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage location")
}

// ---------- RollingStats ----------

func TestRecordService_RollingStats(t *testing.T) {
	db := &mockDB{}
	svc := NewRecordService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 7
		*(dest[1].(*float64)) = 1024.5
		*(dest[2].(*float64)) = 33.2
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	stats, err := svc.RollingStats(ctx, model.BackupTypeFullDB, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Runs)
	assert.Equal(t, 1024.5, stats.AvgSize)
	assert.Equal(t, 33.2, stats.AvgDuration)
	db.AssertExpectations(t)
}
