package workflow

import (
	"path"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/storage"
)

// WALArchiveParams holds the parameters for WALArchiveWorkflow.
type WALArchiveParams struct {
	WorkDir       string
	WALStagingDir string
}

// WALArchiveWorkflow ships staged WAL segments to both remote stores.
// It runs every five minutes and is idempotent: segments the catalog
// already knows are skipped, so overlapping or rerun schedules never
// archive twice. Segments go remote-only (both remotes required) and
// are removed from staging only after the catalog row is complete.
// Processing stops at the first failing segment to preserve order.
func WALArchiveWorkflow(ctx workflow.Context, params WALArchiveParams) error {
	logger := workflow.GetLogger(ctx)

	var segments []string
	if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "ListStagedWALSegments").Get(ctx, &segments); err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	started := workflow.Now(ctx)
	var archived int
	for _, segment := range segments {
		var known bool
		if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "WALSegmentArchived", segment).Get(ctx, &known); err != nil {
			return err
		}
		if known {
			// A previous run archived it but could not clean staging.
			if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "RemoveStagedWALSegment", segment).Get(ctx, nil); err != nil {
				logger.Error("failed to remove already-archived segment from staging", "segment", segment, "error", err)
			}
			continue
		}

		if err := archiveSegment(ctx, params, segment, started); err != nil {
			logger.Error("wal segment archive failed, stopping run", "segment", segment, "error", err)
			return err
		}
		archived++
	}

	logger.Info("wal archive run complete", "staged", len(segments), "archived", archived)
	return nil
}

func archiveSegment(ctx workflow.Context, params WALArchiveParams, segment string, started time.Time) error {
	id := newID(ctx)

	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CreateBackupRecord", model.BackupRecord{
		ID:       id,
		Type:     model.BackupTypeWALSegment,
		Filename: segment,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	artifactPath := filepath.Join(params.WorkDir, "wal", segment+".enc")
	var encoded activity.EncodeFileResult
	err = workflow.ExecuteActivity(dumpActivityCtx(ctx), "EncodeFile", activity.EncodeFileParams{
		SrcPath: filepath.Join(params.WALStagingDir, segment),
		DstPath: artifactPath,
	}).Get(ctx, &encoded)
	if err != nil {
		return backupFailed(ctx, id, model.BackupTypeWALSegment, model.SeverityError, err)
	}

	// WAL segments never occupy local capacity and must land on both
	// remotes: losing one store may not cost point-in-time coverage.
	var uploaded storage.UploadResult
	err = workflow.ExecuteActivity(storageActivityCtx(ctx), "UploadArtifact", activity.UploadArtifactParams{
		LocalPath:    artifactPath,
		Key:          path.Join("wal", segment),
		IncludeLocal: false,
		MinSuccess:   2,
	}).Get(ctx, &uploaded)
	if err != nil {
		return backupFailed(ctx, id, model.BackupTypeWALSegment, model.SeverityError, err)
	}

	duration := workflow.Now(ctx).Sub(started)
	err = workflow.ExecuteActivity(catalogActivityCtx(ctx), "CompleteBackupRecord", activity.CompleteBackupRecordParams{
		ID:   id,
		Type: model.BackupTypeWALSegment,
		Info: catalog.ArtifactInfo{
			Filename:         segment,
			SizeBytes:        encoded.SizeBytes,
			Checksum:         encoded.Checksum,
			CompressionRatio: encoded.CompressionRatio,
			DurationSeconds:  duration.Seconds(),
			Paths:            uploaded.Paths,
			UploadErrors:     uploaded.Errors,
		},
	}).Get(ctx, nil)
	if err != nil {
		return backupFailed(ctx, id, model.BackupTypeWALSegment, model.SeverityError, err)
	}

	if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "RemoveStagedWALSegment", segment).Get(ctx, nil); err != nil {
		// The segment is safely archived; the next run removes it via
		// the idempotency check.
		workflow.GetLogger(ctx).Error("failed to remove archived segment from staging", "segment", segment, "error", err)
	}
	return nil
}
