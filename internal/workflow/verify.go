package workflow

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
)

// IntegritySweepParams holds the parameters for IntegritySweepWorkflow.
type IntegritySweepParams struct {
	// WindowDays bounds how far back the sweep looks.
	WindowDays int
	// Batch caps how many records one run inspects.
	Batch int
}

// IntegritySweepWorkflow runs the hourly integrity check: for a bounded
// batch of recent records it probes existence and size of every stored
// copy. The probe is deliberately cheap; full checksum verification
// happens once, at creation. Findings flag the record through an alert
// and its metadata; the historical status is never rewritten.
func IntegritySweepWorkflow(ctx workflow.Context, params IntegritySweepParams) error {
	logger := workflow.GetLogger(ctx)

	var records []model.BackupRecord
	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "ListSweepRecords", activity.ListSweepRecordsParams{
		Since: workflow.Now(ctx).AddDate(0, 0, -params.WindowDays),
		Batch: params.Batch,
	}).Get(ctx, &records)
	if err != nil {
		return err
	}

	var healthy, damaged int
	for _, rec := range records {
		problems := map[string]string{}
		for location, key := range rec.StoragePaths() {
			var stat activity.ArtifactStatResult
			err := workflow.ExecuteActivity(storageActivityCtx(ctx), "ArtifactStat", activity.ArtifactStatParams{
				Location: location,
				Key:      key,
			}).Get(ctx, &stat)
			if err != nil {
				logger.Error("integrity probe failed, continuing", "backupID", rec.ID, "location", location, "error", err)
				problems[location] = "probe failed"
				continue
			}

			switch {
			case !stat.Exists:
				problems[location] = "artifact missing"
			case stat.SizeBytes != rec.SizeBytes:
				problems[location] = fmt.Sprintf("size mismatch: stored %d, catalog %d", stat.SizeBytes, rec.SizeBytes)
			}
		}

		result := map[string]any{
			"checked_at": workflow.Now(ctx),
			"passed":     len(problems) == 0,
		}
		if len(problems) > 0 {
			result["problems"] = problems
		}
		if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "RecordIntegrityCheck", activity.RecordIntegrityCheckParams{
			ID:     rec.ID,
			Result: result,
		}).Get(ctx, nil); err != nil {
			logger.Error("failed to record integrity check", "backupID", rec.ID, "error", err)
		}

		if len(problems) == 0 {
			// Refresh verified_at so the sweep rotates through the window.
			// Only records that already passed full verification are
			// refreshed: a size probe is not a checksum check.
			if rec.Status == model.BackupVerified {
				if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "MarkBackupVerified", rec.ID).Get(ctx, nil); err != nil {
					logger.Error("failed to refresh verification", "backupID", rec.ID, "error", err)
				}
			}
			healthy++
			continue
		}

		damaged++
		// One damaged copy is a warning: the other copies still hold the
		// artifact. Multiple damaged copies threaten the backup itself.
		severity := model.SeverityWarning
		if len(problems) > 1 {
			severity = model.SeverityCritical
		}
		backupID := rec.ID
		if err := raiseAlert(ctx, model.Alert{
			DedupeKey: catalog.DedupeKey(model.AlertIntegrity, rec.ID),
			Type:      model.AlertIntegrity,
			Severity:  severity,
			BackupID:  &backupID,
			Message:   fmt.Sprintf("backup %s (%s): %d of %d stored copies damaged", rec.ID, rec.Filename, len(problems), len(rec.StoragePaths())),
			Details:   map[string]any{"problems": problems},
		}); err != nil {
			logger.Error("failed to raise integrity alert", "backupID", rec.ID, "error", err)
		}
	}

	logger.Info("integrity sweep complete", "inspected", len(records), "healthy", healthy, "damaged", damaged)
	return nil
}

// monitorWindow is how many recent runs the deviation monitor averages
// over.
const monitorWindow = 7

// capacity and deviation thresholds, as fractions.
const (
	sizeWarnDeviation     = 0.20
	sizeCriticalDeviation = 0.50
	durationWarnOver      = 0.50
	durationCriticalOver  = 1.00
	capacityWarn          = 0.80
	capacityCritical      = 0.90
)

// MonitoringWorkflow compares the latest run of each backup type
// against its rolling averages and checks storage capacity, raising
// graded alerts on threshold crossings.
func MonitoringWorkflow(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)

	for _, backupType := range []string{model.BackupTypeFullDB, model.BackupTypeTenant, model.BackupTypeConfig} {
		if err := monitorType(ctx, backupType); err != nil {
			logger.Error("deviation check failed, continuing", "type", backupType, "error", err)
		}
	}
	return monitorCapacity(ctx)
}

func monitorType(ctx workflow.Context, backupType string) error {
	var latest *model.BackupRecord
	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "LatestRecord", activity.LatestRecordParams{
		Type: backupType,
	}).Get(ctx, &latest)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}

	var stats catalog.RollingStats
	err = workflow.ExecuteActivity(catalogActivityCtx(ctx), "RollingStats", activity.RollingStatsParams{
		Type: backupType,
		N:    monitorWindow,
	}).Get(ctx, &stats)
	if err != nil {
		return err
	}
	// One run is its own average; nothing to compare against yet.
	if stats.Runs < 2 {
		return nil
	}

	logger := workflow.GetLogger(ctx)
	backupID := latest.ID

	if stats.AvgSize > 0 {
		deviation := (float64(latest.SizeBytes) - stats.AvgSize) / stats.AvgSize
		if deviation < 0 {
			deviation = -deviation
		}
		severity := ""
		switch {
		case deviation > sizeCriticalDeviation:
			severity = model.SeverityCritical
		case deviation > sizeWarnDeviation:
			severity = model.SeverityWarning
		}
		if severity != "" {
			if err := raiseAlert(ctx, model.Alert{
				DedupeKey: catalog.DedupeKey(model.AlertSizeDeviation, backupType),
				Type:      model.AlertSizeDeviation,
				Severity:  severity,
				BackupID:  &backupID,
				Message: fmt.Sprintf("%s backup size deviates %.0f%% from the %d-run average (%d bytes vs %.0f)",
					backupType, deviation*100, monitorWindow, latest.SizeBytes, stats.AvgSize),
			}); err != nil {
				logger.Error("failed to raise size deviation alert", "type", backupType, "error", err)
			}
		}
	}

	if stats.AvgDuration > 0 {
		over := (latest.DurationSeconds - stats.AvgDuration) / stats.AvgDuration
		severity := ""
		switch {
		case over > durationCriticalOver:
			severity = model.SeverityCritical
		case over > durationWarnOver:
			severity = model.SeverityWarning
		}
		if severity != "" {
			if err := raiseAlert(ctx, model.Alert{
				DedupeKey: catalog.DedupeKey(model.AlertDurationThreshold, backupType),
				Type:      model.AlertDurationThreshold,
				Severity:  severity,
				BackupID:  &backupID,
				Message: fmt.Sprintf("%s backup took %.0f%% longer than the %d-run average (%.0fs vs %.0fs)",
					backupType, over*100, monitorWindow, latest.DurationSeconds, stats.AvgDuration),
			}); err != nil {
				logger.Error("failed to raise duration alert", "type", backupType, "error", err)
			}
		}
	}
	return nil
}

func monitorCapacity(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)

	var usage map[string]activity.LocationUsage
	if err := workflow.ExecuteActivity(storageActivityCtx(ctx), "StorageUsage").Get(ctx, &usage); err != nil {
		return err
	}

	for location, u := range usage {
		if u.TotalBytes == 0 {
			continue
		}
		used := float64(u.UsedBytes) / float64(u.TotalBytes)

		severity := ""
		switch {
		case used > capacityCritical:
			severity = model.SeverityCritical
		case used > capacityWarn:
			severity = model.SeverityWarning
		}
		if severity == "" {
			continue
		}

		if err := raiseAlert(ctx, model.Alert{
			DedupeKey: catalog.DedupeKey(model.AlertCapacity, location),
			Type:      model.AlertCapacity,
			Severity:  severity,
			Message:   fmt.Sprintf("storage %s at %.0f%% capacity (%d of %d bytes)", location, used*100, u.UsedBytes, u.TotalBytes),
			Details:   map[string]any{"location": location, "used_bytes": u.UsedBytes, "total_bytes": u.TotalBytes},
		}); err != nil {
			logger.Error("failed to raise capacity alert", "location", location, "error", err)
		}
	}
	return nil
}
