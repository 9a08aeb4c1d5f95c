// Package workflow contains the Temporal workflows of the backup and
// disaster-recovery engine: the backup pipelines, the WAL archiver, the
// retention and integrity sweeps, the monitor and the recovery runbook.
package workflow

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
)

// Task queues. DR and full-database work runs on its own lane so a
// burst of routine vault jobs can never starve a recovery.
const (
	TaskQueueDR    = "dr-tasks"
	TaskQueueVault = "vault-tasks"
)

// catalogActivityCtx configures options for catalog database activities:
// short calls, few retries.
func catalogActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// storageActivityCtx configures options for uploads, downloads and
// stat probes. Storage blips are transient, so the backoff is fixed
// rather than exponential: wait out the blip, do not stretch the run.
func storageActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			MaximumInterval:    5 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumAttempts:    5,
		},
	})
}

// dumpActivityCtx configures options for pg_dump, pg_restore and encode
// activities. A full dump of a large database can take most of an hour.
func dumpActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			MaximumInterval:    5 * time.Minute,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
}

// notifyActivityCtx configures options for notification delivery.
func notifyActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// newID generates a UUID deterministically for replay.
func newID(ctx workflow.Context) string {
	var id string
	_ = workflow.SideEffect(ctx, func(workflow.Context) any {
		return uuid.NewString()
	}).Get(&id)
	return id
}

// failBackup marks a backup record failed. Callers ignore the returned
// error since the primary error is more important.
func failBackup(ctx workflow.Context, id, backupType string, err error) error {
	return workflow.ExecuteActivity(catalogActivityCtx(ctx), "FailBackupRecord", activity.FailBackupRecordParams{
		ID:      id,
		Type:    backupType,
		Message: err.Error(),
	}).Get(ctx, nil)
}

// raiseAlert stores an alert and, unless it was deduplicated into an
// existing one, fans it out to the notification channels and records
// the delivery outcomes. Alerting is best effort: its errors are logged
// by the caller, never propagated into the pipeline that raised it.
func raiseAlert(ctx workflow.Context, alert model.Alert) error {
	if alert.DedupeKey == "" {
		resource := alert.Type
		if alert.BackupID != nil {
			resource = *alert.BackupID
		} else if alert.RestoreID != nil {
			resource = *alert.RestoreID
		}
		alert.DedupeKey = catalog.DedupeKey(alert.Type, resource)
	}

	var raised activity.RaiseAlertResult
	if err := workflow.ExecuteActivity(catalogActivityCtx(ctx), "RaiseAlert", alert).Get(ctx, &raised); err != nil {
		return err
	}
	if raised.Deduped {
		return nil
	}

	var results []model.ChannelResult
	if err := workflow.ExecuteActivity(notifyActivityCtx(ctx), "DeliverAlert", *raised.Alert).Get(ctx, &results); err != nil {
		return err
	}
	return workflow.ExecuteActivity(catalogActivityCtx(ctx), "RecordAlertChannels", activity.RecordAlertChannelsParams{
		AlertID: raised.Alert.ID,
		Results: results,
	}).Get(ctx, nil)
}
