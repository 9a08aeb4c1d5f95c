package model

import "time"

// Backup record types.
const (
	BackupTypeFullDB     = "full_db"
	BackupTypeTenant     = "tenant"
	BackupTypeWALSegment = "wal_segment"
	BackupTypeConfig     = "config"
)

// Backup record statuses.
const (
	BackupInProgress = "in_progress"
	BackupCompleted  = "completed"
	BackupFailed     = "failed"
	BackupVerified   = "verified"
)

// Storage location names. Every artifact path on a BackupRecord is keyed
// by one of these.
const (
	LocationLocal   = "local"
	LocationRemoteA = "remote_a"
	LocationRemoteB = "remote_b"
)

// BackupRecord is the catalog ledger row for a single backup artifact.
// A record is created at run start (in_progress) and only ever mutated by
// its own run, the retention sweeper (clearing expired paths) and the
// integrity verifier (metadata updates).
type BackupRecord struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	TenantID         *string        `json:"tenant_id,omitempty"`
	Filename         string         `json:"filename"`
	SizeBytes        int64          `json:"size_bytes"`
	Checksum         string         `json:"checksum"`
	LocalPath        *string        `json:"local_path,omitempty"`
	RemoteAPath      *string        `json:"remote_a_path,omitempty"`
	RemoteBPath      *string        `json:"remote_b_path,omitempty"`
	Status           string         `json:"status"`
	StatusMessage    *string        `json:"status_message,omitempty"`
	CompressionRatio float64        `json:"compression_ratio"`
	DurationSeconds  float64        `json:"duration_seconds"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	VerifiedAt       *time.Time     `json:"verified_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// StoragePaths returns the populated artifact locations keyed by location
// name. Records with an empty map are orphans and eligible for purge.
func (b *BackupRecord) StoragePaths() map[string]string {
	paths := make(map[string]string, 3)
	if b.LocalPath != nil && *b.LocalPath != "" {
		paths[LocationLocal] = *b.LocalPath
	}
	if b.RemoteAPath != nil && *b.RemoteAPath != "" {
		paths[LocationRemoteA] = *b.RemoteAPath
	}
	if b.RemoteBPath != nil && *b.RemoteBPath != "" {
		paths[LocationRemoteB] = *b.RemoteBPath
	}
	return paths
}

// HasAnyPath reports whether at least one storage location holds the artifact.
func (b *BackupRecord) HasAnyPath() bool {
	return len(b.StoragePaths()) > 0
}
