package workflow

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/storage"
)

const backupTimeFormat = "20060102T150405Z"

// FullBackupParams holds the parameters for FullBackupWorkflow.
type FullBackupParams struct {
	// WorkDir is the scratch directory dumps and artifacts are staged in.
	WorkDir string
}

// FullBackupWorkflow dumps the whole source database, encodes the dump
// and stores it on every location. The run completes as long as at
// least one location accepted the artifact; zero locations is a
// failure.
func FullBackupWorkflow(ctx workflow.Context, params FullBackupParams) error {
	started := workflow.Now(ctx)
	id := newID(ctx)
	filename := fmt.Sprintf("full-%s.dump.gz.enc", started.UTC().Format(backupTimeFormat))

	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CreateBackupRecord", model.BackupRecord{
		ID:       id,
		Type:     model.BackupTypeFullDB,
		Filename: filename,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	rawPath := filepath.Join(params.WorkDir, id, "full.dump")
	if err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "FullDump", rawPath).Get(ctx, nil); err != nil {
		return backupFailed(ctx, id, model.BackupTypeFullDB, model.SeverityCritical, err)
	}

	if err := encodeAndStore(ctx, encodeAndStoreParams{
		BackupID:     id,
		Type:         model.BackupTypeFullDB,
		RawPath:      rawPath,
		ArtifactPath: filepath.Join(params.WorkDir, id, filename),
		Key:          path.Join("full", filename),
		Filename:     filename,
		IncludeLocal: true,
		MinSuccess:   1,
		StartedAt:    started,
	}); err != nil {
		return backupFailed(ctx, id, model.BackupTypeFullDB, model.SeverityCritical, err)
	}
	return nil
}

// TenantBackupParams holds the parameters for TenantBackupWorkflow.
type TenantBackupParams struct {
	WorkDir  string
	TenantID string
}

// TenantBackupWorkflow exports one tenant's rows, archives and encodes
// them, and stores the artifact on every location.
func TenantBackupWorkflow(ctx workflow.Context, params TenantBackupParams) error {
	started := workflow.Now(ctx)
	id := newID(ctx)
	filename := fmt.Sprintf("tenant-%s-%s.tar.gz.enc", params.TenantID, started.UTC().Format(backupTimeFormat))
	tenantID := params.TenantID

	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CreateBackupRecord", model.BackupRecord{
		ID:       id,
		Type:     model.BackupTypeTenant,
		TenantID: &tenantID,
		Filename: filename,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	exportDir := filepath.Join(params.WorkDir, id, "export")
	if err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "TenantExport", activity.TenantExportParams{
		TenantID: params.TenantID,
		OutDir:   exportDir,
	}).Get(ctx, nil); err != nil {
		return backupFailed(ctx, id, model.BackupTypeTenant, model.SeverityError, err)
	}

	rawPath := filepath.Join(params.WorkDir, id, "export.tar.gz")
	if err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "ArchiveTree", activity.ArchiveTreeParams{
		SrcDir:  exportDir,
		DstPath: rawPath,
	}).Get(ctx, nil); err != nil {
		return backupFailed(ctx, id, model.BackupTypeTenant, model.SeverityError, err)
	}

	if err := encodeAndStore(ctx, encodeAndStoreParams{
		BackupID:     id,
		Type:         model.BackupTypeTenant,
		RawPath:      rawPath,
		ArtifactPath: filepath.Join(params.WorkDir, id, filename),
		Key:          path.Join("tenant", params.TenantID, filename),
		Filename:     filename,
		IncludeLocal: true,
		MinSuccess:   1,
		StartedAt:    started,
	}); err != nil {
		return backupFailed(ctx, id, model.BackupTypeTenant, model.SeverityError, err)
	}
	return nil
}

// TenantBatchParams holds the parameters for TenantBatchBackupWorkflow.
type TenantBatchParams struct {
	WorkDir string
}

// TenantBatchBackupWorkflow runs a child TenantBackupWorkflow per
// tenant. One tenant's failure never stops the batch; failed tenants
// are reported in a summary alert at the end.
func TenantBatchBackupWorkflow(ctx workflow.Context, params TenantBatchParams) error {
	logger := workflow.GetLogger(ctx)

	var tenantIDs []string
	err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "ListSourceTenantIDs",
		"scheduled batch backup of all tenants").Get(ctx, &tenantIDs)
	if err != nil {
		return err
	}

	logger.Info("starting tenant batch backup", "tenants", len(tenantIDs))

	var failed []string
	for _, tenantID := range tenantIDs {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: "tenant-backup-" + tenantID + "-" + workflow.GetInfo(ctx).WorkflowExecution.RunID,
		})
		err := workflow.ExecuteChildWorkflow(childCtx, TenantBackupWorkflow, TenantBackupParams{
			WorkDir:  params.WorkDir,
			TenantID: tenantID,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("tenant backup failed, continuing batch", "tenant", tenantID, "error", err)
			failed = append(failed, tenantID)
		}
	}

	if len(failed) > 0 {
		if err := raiseAlert(ctx, model.Alert{
			DedupeKey: catalog.DedupeKey(model.AlertFailure, "tenant-batch"),
			Type:      model.AlertFailure,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("tenant batch backup: %d of %d tenants failed", len(failed), len(tenantIDs)),
			Details:   map[string]any{"failed_tenants": failed},
		}); err != nil {
			logger.Error("failed to raise batch summary alert", "error", err)
		}
	}
	return nil
}

// ConfigBackupParams holds the parameters for ConfigBackupWorkflow.
type ConfigBackupParams struct {
	WorkDir string
	// Paths are the config files and directories to collect.
	Paths []string
}

// ConfigBackupWorkflow collects the platform configuration files with
// credentials redacted, archives them and stores the artifact.
func ConfigBackupWorkflow(ctx workflow.Context, params ConfigBackupParams) error {
	started := workflow.Now(ctx)
	id := newID(ctx)
	filename := fmt.Sprintf("config-%s.tar.gz.enc", started.UTC().Format(backupTimeFormat))

	err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "CreateBackupRecord", model.BackupRecord{
		ID:       id,
		Type:     model.BackupTypeConfig,
		Filename: filename,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	collectDir := filepath.Join(params.WorkDir, id, "config")
	var collected int
	if err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "CollectConfigSet", activity.CollectConfigSetParams{
		Paths:  params.Paths,
		OutDir: collectDir,
	}).Get(ctx, &collected); err != nil {
		return backupFailed(ctx, id, model.BackupTypeConfig, model.SeverityError, err)
	}

	rawPath := filepath.Join(params.WorkDir, id, "config.tar.gz")
	if err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "ArchiveTree", activity.ArchiveTreeParams{
		SrcDir:  collectDir,
		DstPath: rawPath,
	}).Get(ctx, nil); err != nil {
		return backupFailed(ctx, id, model.BackupTypeConfig, model.SeverityError, err)
	}

	if err := encodeAndStore(ctx, encodeAndStoreParams{
		BackupID:     id,
		Type:         model.BackupTypeConfig,
		RawPath:      rawPath,
		ArtifactPath: filepath.Join(params.WorkDir, id, filename),
		Key:          path.Join("config", filename),
		Filename:     filename,
		IncludeLocal: true,
		MinSuccess:   1,
		StartedAt:    started,
	}); err != nil {
		return backupFailed(ctx, id, model.BackupTypeConfig, model.SeverityError, err)
	}
	return nil
}

// encodeAndStoreParams drives the shared tail of every backup pipeline:
// encode, upload, catalog, verify.
type encodeAndStoreParams struct {
	BackupID     string
	Type         string
	RawPath      string
	ArtifactPath string
	Key          string
	Filename     string
	IncludeLocal bool
	MinSuccess   int
	StartedAt    time.Time
}

func encodeAndStore(ctx workflow.Context, params encodeAndStoreParams) error {
	var encoded activity.EncodeFileResult
	err := workflow.ExecuteActivity(dumpActivityCtx(ctx), "EncodeFile", activity.EncodeFileParams{
		SrcPath: params.RawPath,
		DstPath: params.ArtifactPath,
	}).Get(ctx, &encoded)
	if err != nil {
		return err
	}

	var uploaded storage.UploadResult
	err = workflow.ExecuteActivity(storageActivityCtx(ctx), "UploadArtifact", activity.UploadArtifactParams{
		LocalPath:    params.ArtifactPath,
		Key:          params.Key,
		IncludeLocal: params.IncludeLocal,
		MinSuccess:   params.MinSuccess,
	}).Get(ctx, &uploaded)
	if err != nil {
		return err
	}

	duration := workflow.Now(ctx).Sub(params.StartedAt)
	err = workflow.ExecuteActivity(catalogActivityCtx(ctx), "CompleteBackupRecord", activity.CompleteBackupRecordParams{
		ID:   params.BackupID,
		Type: params.Type,
		Info: catalog.ArtifactInfo{
			Filename:         params.Filename,
			SizeBytes:        encoded.SizeBytes,
			Checksum:         encoded.Checksum,
			CompressionRatio: encoded.CompressionRatio,
			DurationSeconds:  duration.Seconds(),
			Paths:            uploaded.Paths,
			UploadErrors:     uploaded.Errors,
		},
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	// Fresh artifacts get a full checksum verification on every stored
	// copy before the record is promoted to verified. The record is
	// already COMPLETED at this point: a verification finding flags it
	// through metadata and an alert, it never demotes the record.
	logger := workflow.GetLogger(ctx)
	var verified activity.VerifyChecksumsResult
	err = workflow.ExecuteActivity(storageActivityCtx(ctx), "VerifyChecksums", activity.VerifyChecksumsParams{
		BackupID: params.BackupID,
		Paths:    uploaded.Paths,
		Checksum: encoded.Checksum,
	}).Get(ctx, &verified)

	result := map[string]any{
		"checked_at": workflow.Now(ctx),
		"passed":     err == nil && verified.Passed,
	}
	if err != nil {
		result["error"] = err.Error()
	} else if len(verified.Locations) > 0 {
		result["locations"] = verified.Locations
	}
	if recErr := workflow.ExecuteActivity(catalogActivityCtx(ctx), "RecordIntegrityCheck", activity.RecordIntegrityCheckParams{
		ID:     params.BackupID,
		Result: result,
	}).Get(ctx, nil); recErr != nil {
		logger.Error("failed to record verification result", "backupID", params.BackupID, "error", recErr)
	}

	if err != nil || !verified.Passed {
		backupID := params.BackupID
		if alertErr := raiseAlert(ctx, model.Alert{
			DedupeKey: catalog.DedupeKey(model.AlertIntegrity, params.BackupID),
			Type:      model.AlertIntegrity,
			Severity:  model.SeverityWarning,
			BackupID:  &backupID,
			Message:   fmt.Sprintf("%s backup %s completed but failed verification", params.Type, params.BackupID),
			Details:   result,
		}); alertErr != nil {
			logger.Error("failed to raise verification alert", "backupID", params.BackupID, "error", alertErr)
		}
		return nil
	}
	if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "MarkBackupVerified", params.BackupID).Get(ctx, nil); err != nil {
		// The backup is durably stored and checked; a failed promotion
		// must not demote it.
		logger.Error("failed to mark backup verified", "backupID", params.BackupID, "error", err)
	}
	return nil
}

// backupFailed marks the record failed and raises the failure alert,
// then returns the original error.
func backupFailed(ctx workflow.Context, id, backupType, severity string, err error) error {
	logger := workflow.GetLogger(ctx)
	if failErr := failBackup(ctx, id, backupType, err); failErr != nil {
		logger.Error("failed to mark backup failed", "backupID", id, "error", failErr)
	}
	backupID := id
	if alertErr := raiseAlert(ctx, model.Alert{
		DedupeKey: catalog.DedupeKey(model.AlertFailure, id),
		Type:      model.AlertFailure,
		Severity:  severity,
		BackupID:  &backupID,
		Message:   fmt.Sprintf("%s backup failed: %v", backupType, err),
	}); alertErr != nil {
		logger.Error("failed to raise backup failure alert", "backupID", id, "error", alertErr)
	}
	return err
}
