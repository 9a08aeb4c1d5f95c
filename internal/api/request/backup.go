package request

// TriggerBackup requests an on-demand backup run. TenantID is required
// for tenant backups and ignored otherwise.
type TriggerBackup struct {
	Type     string `json:"type" validate:"required,oneof=full_db tenant tenant_batch config"`
	TenantID string `json:"tenant_id,omitempty" validate:"required_if=Type tenant"`
}
