package model

import "time"

// Restore modes. Callers must pick one explicitly; there is no default.
const (
	// RestoreModeFull replaces all data destructively.
	RestoreModeFull = "full"
	// RestoreModeMerge applies the dump without wiping existing data.
	// Conflict policy: deterministic last-write-wins on the row's
	// updated_at column; rows without updated_at are insert-only and
	// existing rows win.
	RestoreModeMerge = "merge"
	// RestoreModePITR restores the base backup and replays WAL segments
	// in strict sequence order up to, never past, the target timestamp.
	RestoreModePITR = "pitr"
)

// Restore log statuses.
const (
	RestoreInProgress = "in_progress"
	RestoreCompleted  = "completed"
	RestoreDegraded   = "degraded"
	RestoreFailed     = "failed"
)

// DR runbook step names, in execution order.
const (
	StepSelectBackup    = "SELECT_BACKUP"
	StepDownload        = "DOWNLOAD"
	StepDecode          = "DECODE"
	StepRestore         = "RESTORE"
	StepRestartServices = "RESTART_SERVICES"
	StepHealthCheck     = "HEALTH_CHECK"
	StepRerouteTraffic  = "REROUTE_TRAFFIC"
)

// RestoreStep is one timestamped entry in a restore run's step log.
type RestoreStep struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RestoreLog is the audit record of a restore or DR run. It is created at
// run start, mutated only by the run that owns it, and never deleted.
// Reason is mandatory for audit and always non-empty.
type RestoreLog struct {
	ID              string        `json:"id"`
	BackupID        string        `json:"backup_id"`
	Initiator       string        `json:"initiator"`
	Mode            string        `json:"mode"`
	TargetTimestamp *time.Time    `json:"target_timestamp,omitempty"`
	TenantIDs       []string      `json:"tenant_ids,omitempty"`
	Status          string        `json:"status"`
	RowsRestored    int64         `json:"rows_restored"`
	DurationSeconds float64       `json:"duration_seconds"`
	Error           *string       `json:"error,omitempty"`
	Reason          string        `json:"reason"`
	StepLog         []RestoreStep `json:"step_log"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
