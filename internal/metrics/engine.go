package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level counters, incremented from activities.
var (
	BackupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drvault_backup_runs_total",
		Help: "Backup runs by type and terminal status",
	}, []string{"type", "status"})

	ArtifactBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drvault_artifact_bytes_total",
		Help: "Encoded artifact bytes uploaded per storage location",
	}, []string{"location"})

	UploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drvault_upload_failures_total",
		Help: "Per-location upload failures",
	}, []string{"location"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drvault_alert_notifications_total",
		Help: "Alert notification attempts by channel and outcome",
	}, []string{"channel", "outcome"})
)
