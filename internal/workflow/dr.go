package workflow

import (
	"fmt"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
)

// DisasterRecoveryParams holds the parameters for DisasterRecoveryWorkflow.
type DisasterRecoveryParams struct {
	RestoreID string
	// BackupID selects the backup to restore from; empty means the
	// newest restorable full backup.
	BackupID  string
	Mode      string
	Initiator string
	// Reason is mandatory. A recovery with no justification never runs.
	Reason string
	// TargetTime is required for PITR and ignored otherwise.
	TargetTime *time.Time
	TenantIDs  []string
	WorkDir    string
	// RTOTarget is the recovery time objective the run is measured
	// against.
	RTOTarget time.Duration
}

func (p DisasterRecoveryParams) validate() error {
	if p.Reason == "" {
		return temporal.NewNonRetryableApplicationError("recovery requires a non-empty reason", "ReasonRequired", nil)
	}
	switch p.Mode {
	case model.RestoreModeFull, model.RestoreModeMerge:
	case model.RestoreModePITR:
		if p.TargetTime == nil {
			return temporal.NewNonRetryableApplicationError("pitr recovery requires a target timestamp", "TargetTimeRequired", nil)
		}
	default:
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("unknown restore mode %q", p.Mode), "InvalidMode", nil)
	}
	return nil
}

// drRun carries the mutable state of one recovery through its steps.
type drRun struct {
	params  DisasterRecoveryParams
	started time.Time
	record  *model.BackupRecord
	// degraded is set when the health check exhausted its attempts; the
	// recovery still counts as done, with reduced confidence.
	degraded bool
	// report accumulates one entry per executed step for the final alert.
	report []map[string]any
}

// DisasterRecoveryWorkflow executes the recovery runbook: select a
// backup, download it with failover, decode it, restore it in the
// requested mode, restart the services, probe health and reroute
// traffic. Every step lands in the restore log's step record, and the
// run ends with an RTO comparison. Validation happens before the first
// side effect.
func DisasterRecoveryWorkflow(ctx workflow.Context, params DisasterRecoveryParams) error {
	if err := params.validate(); err != nil {
		return err
	}
	if params.RestoreID == "" {
		params.RestoreID = newID(ctx)
	}

	run := &drRun{params: params, started: workflow.Now(ctx)}

	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CreateRestoreLog", model.RestoreLog{
		ID:              params.RestoreID,
		BackupID:        params.BackupID,
		Initiator:       params.Initiator,
		Mode:            params.Mode,
		TargetTimestamp: params.TargetTime,
		TenantIDs:       params.TenantIDs,
		Reason:          params.Reason,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func(workflow.Context, *drRun) (string, error)
	}{
		{model.StepSelectBackup, stepSelectBackup},
		{model.StepDownload, stepDownload},
		{model.StepDecode, stepDecode},
		{model.StepRestore, stepRestore},
		{model.StepRestartServices, stepRestartServices},
		{model.StepHealthCheck, stepHealthCheck},
		{model.StepRerouteTraffic, stepRerouteTraffic},
	}

	for _, step := range steps {
		if err := runStep(ctx, run, step.name, step.fn); err != nil {
			return failRecovery(ctx, run, step.name, err)
		}
	}

	return completeRecovery(ctx, run)
}

func runStep(ctx workflow.Context, run *drRun, name string, fn func(workflow.Context, *drRun) (string, error)) error {
	logger := workflow.GetLogger(ctx)
	stepStarted := workflow.Now(ctx)
	logger.Info("recovery step starting", "restoreID", run.params.RestoreID, "step", name)

	detail, err := fn(ctx, run)

	status := "ok"
	if err != nil {
		status = "failed"
		detail = err.Error()
	}
	run.report = append(run.report, map[string]any{"step": name, "status": status, "detail": detail})
	appendErr := workflow.ExecuteActivity(catalogActivityCtx(ctx), "AppendRestoreStep", activity.AppendRestoreStepParams{
		RestoreID: run.params.RestoreID,
		Step: model.RestoreStep{
			Name:       name,
			Status:     status,
			Detail:     detail,
			StartedAt:  stepStarted,
			FinishedAt: workflow.Now(ctx),
		},
	}).Get(ctx, nil)
	if appendErr != nil {
		logger.Error("failed to append restore step", "restoreID", run.params.RestoreID, "step", name, "error", appendErr)
	}
	return err
}

func stepSelectBackup(ctx workflow.Context, run *drRun) (string, error) {
	cctx := catalogActivityCtx(ctx)
	var rec *model.BackupRecord
	var err error
	if run.params.BackupID == "" {
		err = workflow.ExecuteActivity(cctx, "GetLatestRestorableBackup").Get(ctx, &rec)
	} else {
		err = workflow.ExecuteActivity(cctx, "GetBackupRecord", run.params.BackupID).Get(ctx, &rec)
	}
	if err != nil {
		return "", err
	}
	if !rec.HasAnyPath() {
		return "", temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("backup %s has no surviving artifact copy", rec.ID), "NoArtifactCopy", nil)
	}
	if run.params.Mode == model.RestoreModePITR && rec.Type != model.BackupTypeFullDB {
		return "", temporal.NewNonRetryableApplicationError(
			"pitr recovery requires a full database backup as base", "InvalidBaseBackup", nil)
	}

	run.record = rec
	return fmt.Sprintf("selected backup %s (%s, %s)", rec.ID, rec.Type, rec.Filename), nil
}

func (r *drRun) artifactPath() string {
	return filepath.Join(r.params.WorkDir, "restore-"+r.params.RestoreID, r.record.Filename)
}

func (r *drRun) rawPath() string {
	return filepath.Join(r.params.WorkDir, "restore-"+r.params.RestoreID, "decoded")
}

func stepDownload(ctx workflow.Context, run *drRun) (string, error) {
	var source string
	err := workflow.ExecuteActivity(storageActivityCtx(ctx), "DownloadArtifact", activity.DownloadArtifactParams{
		Paths:     run.record.StoragePaths(),
		LocalPath: run.artifactPath(),
	}).Get(ctx, &source)
	if err != nil {
		return "", err
	}
	return "downloaded from " + source, nil
}

func stepDecode(ctx workflow.Context, run *drRun) (string, error) {
	err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "DecodeFile", activity.DecodeFileParams{
		SrcPath:  run.artifactPath(),
		DstPath:  run.rawPath(),
		Checksum: run.record.Checksum,
	}).Get(ctx, nil)
	if err != nil {
		return "", err
	}
	return "artifact verified and decoded", nil
}

func stepRestore(ctx workflow.Context, run *drRun) (string, error) {
	switch run.params.Mode {
	case model.RestoreModeFull:
		err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "RestoreFull", run.rawPath()).Get(ctx, nil)
		if err != nil {
			return "", err
		}
		return "full restore applied", nil

	case model.RestoreModeMerge:
		if run.record.TenantID == nil {
			return "", temporal.NewNonRetryableApplicationError(
				"merge recovery requires a tenant backup", "InvalidBaseBackup", nil)
		}
		exportDir := filepath.Join(run.params.WorkDir, "restore-"+run.params.RestoreID, "export")
		err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "UnarchiveTree", activity.UnarchiveTreeParams{
			SrcPath: run.rawPath(),
			DstDir:  exportDir,
		}).Get(ctx, nil)
		if err != nil {
			return "", err
		}
		err = workflow.ExecuteActivity(dumpActivityCtx(ctx), "RestoreMerge", activity.RestoreMergeParams{
			ExportDir: exportDir,
			TenantID:  *run.record.TenantID,
		}).Get(ctx, nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("merged tenant %s with last-write-wins", *run.record.TenantID), nil

	case model.RestoreModePITR:
		err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "RestoreFull", run.rawPath()).Get(ctx, nil)
		if err != nil {
			return "", err
		}
		replayed, err := replayWAL(ctx, run)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("base restored, %d wal segments replayed up to %s", replayed, run.params.TargetTime.UTC().Format(time.RFC3339)), nil
	}
	return "", temporal.NewNonRetryableApplicationError("unreachable restore mode", "InvalidMode", nil)
}

// replayWAL fetches the WAL segments between the base backup and the
// target time, decodes each, and hands the strictly ordered run to the
// replay activity. The contiguity check there fails closed before any
// segment is applied.
func replayWAL(ctx workflow.Context, run *drRun) (int, error) {
	var segments []model.BackupRecord
	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "ListWALSegmentRecords", activity.ListWALSegmentsParams{
		From: run.record.CreatedAt,
		To:   *run.params.TargetTime,
	}).Get(ctx, &segments)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, nil
	}

	walDir := filepath.Join(run.params.WorkDir, "restore-"+run.params.RestoreID, "wal")
	names := make([]string, 0, len(segments))
	for _, seg := range segments {
		encPath := filepath.Join(walDir, seg.Filename+".enc")
		err := workflow.ExecuteActivity(storageActivityCtx(ctx), "DownloadArtifact", activity.DownloadArtifactParams{
			Paths:     seg.StoragePaths(),
			LocalPath: encPath,
		}).Get(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("fetch wal segment %s: %w", seg.Filename, err)
		}
		err = workflow.ExecuteActivity(dumpActivityCtx(ctx), "DecodeFile", activity.DecodeFileParams{
			SrcPath:  encPath,
			DstPath:  filepath.Join(walDir, seg.Filename),
			Checksum: seg.Checksum,
		}).Get(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("decode wal segment %s: %w", seg.Filename, err)
		}
		names = append(names, seg.Filename)
	}

	err = workflow.ExecuteActivity(dumpActivityCtx(ctx), "ReplayWALSegments", activity.ReplayWALSegmentsParams{
		Dir:      walDir,
		Segments: names,
	}).Get(ctx, nil)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func stepRestartServices(ctx workflow.Context, run *drRun) (string, error) {
	var result activity.RestartServicesResult
	err := workflow.ExecuteActivity(storageActivityCtx(ctx), "RestartServices").Get(ctx, &result)
	if err != nil {
		return "", err
	}
	if result.ManualRestartRequired {
		return "no restart substrate available, manual restart required", nil
	}
	return "restarted via " + result.Substrate, nil
}

func stepHealthCheck(ctx workflow.Context, run *drRun) (string, error) {
	hctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		// The activity bounds its own attempts; give it room for all of
		// them plus the probe timeouts.
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var result activity.HealthCheckResult
	if err := workflow.ExecuteActivity(hctx, "HealthCheck").Get(ctx, &result); err != nil {
		return "", err
	}
	if !result.Healthy {
		run.degraded = true
		return fmt.Sprintf("unhealthy after %d attempts, recovery degraded", result.Attempts), nil
	}
	return fmt.Sprintf("healthy after %d attempts", result.Attempts), nil
}

func stepRerouteTraffic(ctx workflow.Context, run *drRun) (string, error) {
	// Single-region deployment: there is no standby to shift traffic to.
	// The step exists so the runbook and its audit trail stay complete.
	return "no-op in single-region deployment", nil
}

func completeRecovery(ctx workflow.Context, run *drRun) error {
	logger := workflow.GetLogger(ctx)

	var rows int64
	if err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "CountLiveRows").Get(ctx, &rows); err != nil {
		logger.Error("failed to count restored rows", "error", err)
	}

	duration := workflow.Now(ctx).Sub(run.started)
	status := model.RestoreCompleted
	if run.degraded {
		status = model.RestoreDegraded
	}

	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CompleteRestoreLog", activity.CompleteRestoreLogParams{
		RestoreID:       run.params.RestoreID,
		Status:          status,
		RowsRestored:    rows,
		DurationSeconds: duration.Seconds(),
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	restoreID := run.params.RestoreID
	if run.params.RTOTarget > 0 && duration > run.params.RTOTarget {
		if err := raiseAlert(ctx, model.Alert{
			DedupeKey: catalog.DedupeKey(model.AlertRestoreFailure, restoreID+":rto"),
			Type:      model.AlertRestoreFailure,
			Severity:  model.SeverityWarning,
			RestoreID: &restoreID,
			Message: fmt.Sprintf("recovery %s finished in %s, exceeding the %s RTO target",
				restoreID, duration.Round(time.Second), run.params.RTOTarget),
		}); err != nil {
			logger.Error("failed to raise rto alert", "restoreID", restoreID, "error", err)
		}
	}
	if run.degraded {
		if err := raiseAlert(ctx, model.Alert{
			DedupeKey: catalog.DedupeKey(model.AlertRestoreFailure, restoreID+":degraded"),
			Type:      model.AlertRestoreFailure,
			Severity:  model.SeverityError,
			RestoreID: &restoreID,
			Message:   fmt.Sprintf("recovery %s completed degraded: health check never passed", restoreID),
		}); err != nil {
			logger.Error("failed to raise degraded alert", "restoreID", restoreID, "error", err)
		}
	}

	// Every finished recovery announces itself with the full step report,
	// clean runs included: operators must never have to infer success
	// from silence.
	if err := raiseAlert(ctx, model.Alert{
		DedupeKey: catalog.DedupeKey(model.AlertRecovery, restoreID),
		Type:      model.AlertRecovery,
		Severity:  model.SeverityInfo,
		RestoreID: &restoreID,
		Message: fmt.Sprintf("recovery %s finished with status %s in %s (%d rows restored)",
			restoreID, status, duration.Round(time.Second), rows),
		Details: map[string]any{
			"status":           status,
			"steps":            run.report,
			"rows_restored":    rows,
			"duration_seconds": duration.Seconds(),
		},
	}); err != nil {
		logger.Error("failed to raise recovery report alert", "restoreID", restoreID, "error", err)
	}

	logger.Info("recovery complete", "restoreID", restoreID, "status", status, "duration", duration, "rows", rows)
	return nil
}

func failRecovery(ctx workflow.Context, run *drRun, step string, cause error) error {
	logger := workflow.GetLogger(ctx)

	duration := workflow.Now(ctx).Sub(run.started)
	msg := cause.Error()
	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CompleteRestoreLog", activity.CompleteRestoreLogParams{
		RestoreID:       run.params.RestoreID,
		Status:          model.RestoreFailed,
		DurationSeconds: duration.Seconds(),
		Error:           &msg,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to complete restore log after failure", "restoreID", run.params.RestoreID, "error", err)
	}

	restoreID := run.params.RestoreID
	if alertErr := raiseAlert(ctx, model.Alert{
		DedupeKey: catalog.DedupeKey(model.AlertRestoreFailure, restoreID),
		Type:      model.AlertRestoreFailure,
		Severity:  model.SeverityCritical,
		RestoreID: &restoreID,
		Message:   fmt.Sprintf("recovery %s failed at %s: %v", restoreID, step, cause),
		Details:   map[string]any{"steps": run.report},
	}); alertErr != nil {
		logger.Error("failed to raise recovery failure alert", "restoreID", restoreID, "error", alertErr)
	}

	return cause
}
