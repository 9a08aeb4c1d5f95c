package activity

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/drvault/internal/config"
)

// healthCheckAttempts bounds the post-restore health probe. The check
// never spins forever: exhausting the attempts marks the recovery
// degraded, it does not fail it.
const (
	healthCheckAttempts = 30
	healthCheckInterval = 10 * time.Second
)

// Runbook contains the service-level recovery activities: restarting
// the application after a restore and probing its health.
type Runbook struct {
	logger          zerolog.Logger
	healthCheckURL  string
	restartUnits    []string
	restartSelector string
}

// NewRunbook creates a new Runbook activity struct.
func NewRunbook(logger zerolog.Logger, cfg *config.Config) *Runbook {
	return &Runbook{
		logger:          logger.With().Str("component", "runbook").Logger(),
		healthCheckURL:  cfg.HealthCheckURL,
		restartUnits:    cfg.RestartUnits,
		restartSelector: cfg.RestartSelector,
	}
}

// RestartServicesResult reports how the restart was carried out.
type RestartServicesResult struct {
	// Substrate is "kubernetes", "systemd" or "none".
	Substrate string
	// ManualRestartRequired is set when neither substrate is available;
	// the recovery continues and the operator restarts by hand.
	ManualRestartRequired bool
}

// RestartServices bounces the application services after a restore. The
// substrate is detected at runtime: kubectl if present, systemctl
// otherwise. With neither available the step succeeds with a manual
// restart flag instead of failing the whole recovery.
func (r *Runbook) RestartServices(ctx context.Context) (RestartServicesResult, error) {
	stop := startHeartbeat(ctx, "restart")
	defer stop()

	if _, err := exec.LookPath("kubectl"); err == nil {
		r.logger.Info().Str("selector", r.restartSelector).Msg("restarting deployments via kubectl")
		cmd := exec.CommandContext(ctx, "kubectl", "rollout", "restart", "deployment", "-l", r.restartSelector)
		if output, err := cmd.CombinedOutput(); err != nil {
			return RestartServicesResult{}, fmt.Errorf("kubectl rollout restart failed: %s: %w", string(output), err)
		}
		return RestartServicesResult{Substrate: "kubernetes"}, nil
	}

	if _, err := exec.LookPath("systemctl"); err == nil {
		r.logger.Info().Strs("units", r.restartUnits).Msg("restarting units via systemctl")
		for _, unit := range r.restartUnits {
			cmd := exec.CommandContext(ctx, "systemctl", "restart", unit)
			if output, err := cmd.CombinedOutput(); err != nil {
				return RestartServicesResult{}, fmt.Errorf("systemctl restart %s failed: %s: %w", unit, string(output), err)
			}
		}
		return RestartServicesResult{Substrate: "systemd"}, nil
	}

	r.logger.Warn().Msg("no restart substrate found, manual restart required")
	return RestartServicesResult{Substrate: "none", ManualRestartRequired: true}, nil
}

// HealthCheckResult reports the outcome of the bounded health probe.
type HealthCheckResult struct {
	Healthy  bool
	Attempts int
}

// HealthCheck polls the application health endpoint until it answers
// 200 or the attempt limit is reached.
func (r *Runbook) HealthCheck(ctx context.Context) (HealthCheckResult, error) {
	client := &http.Client{Timeout: 5 * time.Second}

	for attempt := 1; attempt <= healthCheckAttempts; attempt++ {
		// The full probe can outlast the heartbeat timeout, so report
		// progress every attempt.
		recordHeartbeat(ctx, attempt)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.healthCheckURL, nil)
		if err != nil {
			return HealthCheckResult{}, fmt.Errorf("build health check request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				r.logger.Info().Int("attempt", attempt).Msg("health check passed")
				return HealthCheckResult{Healthy: true, Attempts: attempt}, nil
			}
			r.logger.Debug().Int("attempt", attempt).Int("status", resp.StatusCode).Msg("health check not ready")
		} else {
			r.logger.Debug().Int("attempt", attempt).Err(err).Msg("health check unreachable")
		}

		select {
		case <-ctx.Done():
			return HealthCheckResult{Attempts: attempt}, ctx.Err()
		case <-time.After(healthCheckInterval):
		}
	}

	r.logger.Warn().Int("attempts", healthCheckAttempts).Msg("health check exhausted")
	return HealthCheckResult{Healthy: false, Attempts: healthCheckAttempts}, nil
}
