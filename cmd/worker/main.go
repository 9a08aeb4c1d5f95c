package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/codec"
	"github.com/edvin/drvault/internal/config"
	"github.com/edvin/drvault/internal/db"
	"github.com/edvin/drvault/internal/keystore"
	"github.com/edvin/drvault/internal/logging"
	"github.com/edvin/drvault/internal/metrics"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/storage"
	"github.com/edvin/drvault/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	keys, err := keystore.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load encryption keys")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalogPool, err := db.NewCatalogPool(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to catalog database")
	}
	defer catalogPool.Close()
	metrics.RegisterPgxPoolMetrics(catalogPool)

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	store := storage.NewReplicated(logger,
		storage.NewLocal(logger, cfg.LocalBackupDir, cfg.LocalQuotaBytes),
		storage.NewS3(logger, model.LocationRemoteA, cfg.RemoteA),
		storage.NewS3(logger, model.LocationRemoteB, cfg.RemoteB),
	)

	policy, err := activity.LoadNotifyPolicy(cfg.NotifyPolicyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load notification policy")
	}

	activities := []any{
		activity.NewCatalog(catalog.NewServices(catalogPool)),
		activity.NewDump(logger, cfg),
		activity.NewCodec(logger, codec.New(keys)),
		activity.NewStorage(logger, store),
		activity.NewVerify(logger, store, cfg.WorkDir),
		activity.NewNotifier(logger, cfg, policy),
		activity.NewRunbook(logger, cfg),
		activity.NewConfigSet(logger),
	}

	// Two priority lanes: recoveries and full backups on dr-tasks, the
	// routine jobs on vault-tasks. Both workers host everything so a
	// busy routine queue can never starve a recovery.
	drWorker := newEngineWorker(tc, workflow.TaskQueueDR, activities)
	vaultWorker := newEngineWorker(tc, workflow.TaskQueueVault, activities)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	for queue, w := range map[string]worker.Worker{
		workflow.TaskQueueDR:    drWorker,
		workflow.TaskQueueVault: vaultWorker,
	} {
		go func(queue string, w worker.Worker) {
			logger.Info().Str("taskQueue", queue).Msg("starting temporal worker")
			if err := w.Run(worker.InterruptCh()); err != nil {
				logger.Fatal().Err(err).Str("taskQueue", queue).Msg("worker failed")
			}
		}(queue, w)
	}

	// Errors for already-existing schedules are ignored so that
	// re-deploys do not fail.
	registerCronSchedules(ctx, tc, cfg, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

func newEngineWorker(tc temporalclient.Client, taskQueue string, activities []any) worker.Worker {
	w := worker.New(tc, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 8,
	})

	for _, a := range activities {
		w.RegisterActivity(a)
	}

	w.RegisterWorkflow(workflow.FullBackupWorkflow)
	w.RegisterWorkflow(workflow.TenantBackupWorkflow)
	w.RegisterWorkflow(workflow.TenantBatchBackupWorkflow)
	w.RegisterWorkflow(workflow.ConfigBackupWorkflow)
	w.RegisterWorkflow(workflow.WALArchiveWorkflow)
	w.RegisterWorkflow(workflow.RetentionSweepWorkflow)
	w.RegisterWorkflow(workflow.IntegritySweepWorkflow)
	w.RegisterWorkflow(workflow.MonitoringWorkflow)
	w.RegisterWorkflow(workflow.DisasterRecoveryWorkflow)

	return w
}

type cronSchedule struct {
	id        string
	cron      string
	taskQueue string
	workflow  any
	args      []any
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:        "full-backup-cron",
			cron:      "0 2 * * *",
			taskQueue: workflow.TaskQueueDR,
			workflow:  workflow.FullBackupWorkflow,
			args:      []any{workflow.FullBackupParams{WorkDir: cfg.WorkDir}},
		},
		{
			id:        "tenant-batch-cron",
			cron:      "0 3 * * *",
			taskQueue: workflow.TaskQueueVault,
			workflow:  workflow.TenantBatchBackupWorkflow,
			args:      []any{workflow.TenantBatchParams{WorkDir: cfg.WorkDir}},
		},
		{
			id:        "config-backup-cron",
			cron:      "30 3 * * *",
			taskQueue: workflow.TaskQueueVault,
			workflow:  workflow.ConfigBackupWorkflow,
			args: []any{workflow.ConfigBackupParams{
				WorkDir: cfg.WorkDir,
				Paths:   cfg.ConfigBackupPaths,
			}},
		},
		{
			id:        "wal-archive-cron",
			cron:      "*/5 * * * *",
			taskQueue: workflow.TaskQueueVault,
			workflow:  workflow.WALArchiveWorkflow,
			args: []any{workflow.WALArchiveParams{
				WorkDir:       cfg.WorkDir,
				WALStagingDir: cfg.WALStagingDir,
			}},
		},
		{
			id:        "integrity-sweep-cron",
			cron:      "0 * * * *",
			taskQueue: workflow.TaskQueueVault,
			workflow:  workflow.IntegritySweepWorkflow,
			args:      []any{workflow.IntegritySweepParams{WindowDays: 7, Batch: 50}},
		},
		{
			id:        "retention-sweep-cron",
			cron:      "0 5 * * *",
			taskQueue: workflow.TaskQueueVault,
			workflow:  workflow.RetentionSweepWorkflow,
			args: []any{workflow.RetentionParams{
				LocalDays:  cfg.RetentionLocalDays,
				RemoteDays: cfg.RetentionRemoteDays,
				TempMaxAge: 24 * time.Hour,
			}},
		},
		{
			id:        "monitoring-cron",
			cron:      "*/15 * * * *",
			taskQueue: workflow.TaskQueueVault,
			workflow:  workflow.MonitoringWorkflow,
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: s.taskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
