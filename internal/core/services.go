// Package core exposes the engine's operations to the API surface:
// triggering backup and recovery runs, and reading the catalog. Core
// services validate input and start Temporal workflows; the workflows
// own all side effects.
package core

import (
	"fmt"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/drvault/internal/catalog"
)

// Options carries the runtime settings core services hand to the
// workflows they start.
type Options struct {
	// WorkDir is the scratch directory workflow runs stage files in.
	WorkDir string
	// ConfigPaths are the files and directories a config backup collects.
	ConfigPaths []string
	// RTOTarget is the recovery time objective recoveries are measured
	// against.
	RTOTarget time.Duration
}

type Services struct {
	Backup  *BackupService
	Restore *RestoreService
	Alert   *AlertService
}

func NewServices(cat *catalog.Services, tc temporalclient.Client, opts Options) *Services {
	return &Services{
		Backup:  NewBackupService(cat, tc, opts),
		Restore: NewRestoreService(cat, tc, opts),
		Alert:   NewAlertService(cat),
	}
}

// workflowID builds a human-readable Temporal workflow ID from a run
// type prefix and the run's unique ID.
func workflowID(prefix, id string) string {
	return fmt.Sprintf("%s-%s", prefix, id)
}
