package model

import "time"

// Alert types.
const (
	AlertFailure           = "failure"
	AlertSizeDeviation     = "size_deviation"
	AlertDurationThreshold = "duration_threshold"
	AlertCapacity          = "capacity"
	AlertIntegrity         = "integrity"
	AlertRetention         = "retention"
	AlertRecovery          = "recovery"
	AlertRestoreFailure    = "restore_failure"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alert statuses.
const (
	AlertActive       = "active"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Notification channels.
const (
	ChannelInApp   = "in_app"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
)

// ChannelResult records one delivery attempt for an alert. Delivery
// outcomes are always recorded, never silently dropped.
type ChannelResult struct {
	Channel string    `json:"channel"`
	Ok      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// Alert is a monitoring event derived from catalog state or scheduled
// checks. Alerts are deduplicated per (type, related entity) inside a
// rolling window via DedupeKey; a re-trigger inside the window bumps
// Count and LastSeenAt instead of inserting a new row.
type Alert struct {
	ID             string          `json:"id"`
	DedupeKey      string          `json:"dedupe_key"`
	Type           string          `json:"type"`
	Severity       string          `json:"severity"`
	BackupID       *string         `json:"backup_id,omitempty"`
	RestoreID      *string         `json:"restore_id,omitempty"`
	Message        string          `json:"message"`
	Details        map[string]any  `json:"details,omitempty"`
	Channels       []ChannelResult `json:"channels,omitempty"`
	Status         string          `json:"status"`
	Count          int             `json:"count"`
	LastSeenAt     time.Time       `json:"last_seen_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
