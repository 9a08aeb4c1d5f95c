package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
)

// RetentionParams holds the parameters for RetentionSweepWorkflow.
type RetentionParams struct {
	LocalDays  int
	RemoteDays int
	// TempMaxAge is how old scratch files may get before the sweep
	// removes them.
	TempMaxAge time.Duration
}

// RetentionSweepWorkflow enforces the retention tiers: local copies
// expire after LocalDays, remote copies after RemoteDays, catalog rows
// with no surviving copy are purged, and stale scratch files are swept.
// One failing artifact never stops the sweep; the run ends with a
// summary alert.
func RetentionSweepWorkflow(ctx workflow.Context, params RetentionParams) error {
	logger := workflow.GetLogger(ctx)
	now := workflow.Now(ctx)

	var deleted, failures int
	tiers := []struct {
		location string
		cutoff   time.Time
	}{
		{model.LocationLocal, now.AddDate(0, 0, -params.LocalDays)},
		{model.LocationRemoteA, now.AddDate(0, 0, -params.RemoteDays)},
		{model.LocationRemoteB, now.AddDate(0, 0, -params.RemoteDays)},
	}

	for _, tier := range tiers {
		var expired []model.BackupRecord
		err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "ListExpiredRecords", activity.ListExpiredRecordsParams{
			Location: tier.location,
			Cutoff:   tier.cutoff,
		}).Get(ctx, &expired)
		if err != nil {
			return err
		}

		for _, rec := range expired {
			key, ok := rec.StoragePaths()[tier.location]
			if !ok {
				continue
			}
			err := workflow.ExecuteActivity(storageActivityCtx(ctx), "DeleteArtifactLocation", activity.DeleteArtifactLocationParams{
				Location: tier.location,
				Key:      key,
			}).Get(ctx, nil)
			if err != nil {
				logger.Error("failed to delete expired artifact, continuing", "backupID", rec.ID, "location", tier.location, "error", err)
				failures++
				continue
			}
			// The catalog is updated only after the artifact is gone, so
			// a crash between the two leaves a stale path, not a silent
			// data loss.
			err = workflow.ExecuteActivity(catalogActivityCtx(ctx), "ClearBackupPath", activity.ClearBackupPathParams{
				ID:       rec.ID,
				Location: tier.location,
			}).Get(ctx, nil)
			if err != nil {
				logger.Error("failed to clear expired path, continuing", "backupID", rec.ID, "location", tier.location, "error", err)
				failures++
				continue
			}
			deleted++
		}
	}

	var purged int64
	if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "PurgeOrphanRecords").Get(ctx, &purged); err != nil {
		logger.Error("orphan purge failed", "error", err)
		failures++
	}

	var sweptTemp int
	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "SweepTempFiles", activity.SweepTempFilesParams{
		OlderThan: params.TempMaxAge,
	}).Get(ctx, &sweptTemp)
	if err != nil {
		logger.Error("temp sweep failed", "error", err)
		failures++
	}

	severity := model.SeverityInfo
	if failures > 0 {
		severity = model.SeverityWarning
	}
	if err := raiseAlert(ctx, model.Alert{
		DedupeKey: catalog.DedupeKey(model.AlertRetention, "sweep"),
		Type:      model.AlertRetention,
		Severity:  severity,
		Message:   fmt.Sprintf("retention sweep: %d artifact copies expired, %d orphan records purged, %d temp files swept, %d failures", deleted, purged, sweptTemp, failures),
		Details: map[string]any{
			"expired_copies": deleted,
			"purged_records": purged,
			"swept_temp":     sweptTemp,
			"failures":       failures,
		},
	}); err != nil {
		logger.Error("failed to raise retention summary alert", "error", err)
	}

	return nil
}
