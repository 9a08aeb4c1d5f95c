package request

import "time"

// TriggerRestore requests a recovery run. Reason is mandatory and
// recorded verbatim in the restore log.
type TriggerRestore struct {
	BackupID   string     `json:"backup_id,omitempty"`
	Mode       string     `json:"mode" validate:"required,oneof=full merge pitr"`
	Initiator  string     `json:"initiator" validate:"required"`
	Reason     string     `json:"reason" validate:"required"`
	TargetTime *time.Time `json:"target_time,omitempty"`
	TenantIDs  []string   `json:"tenant_ids,omitempty"`
}

// ExecuteDR requests the full disaster recovery runbook against the
// newest restorable full backup.
type ExecuteDR struct {
	Initiator string `json:"initiator" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}
