package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// S3Target holds the connection settings for one remote object store.
// The two remote stores are independent: distinct credentials, regions
// and endpoints.
type S3Target struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	QuotaBytes int64
}

type Config struct {
	CatalogDatabaseURL string
	// SourceDatabaseURL is the datastore being backed up. Dump and
	// restore primitives run against it with admin credentials.
	SourceDatabaseURL string
	TemporalAddress   string
	HTTPListenAddr    string
	MetricsAddr       string
	LogLevel          string
	ServiceName       string

	// Artifact staging and storage.
	LocalBackupDir  string
	WorkDir         string
	WALStagingDir   string
	WALRestoreDir   string
	LocalQuotaBytes int64
	RemoteA         S3Target
	RemoteB         S3Target

	// ConfigBackupPaths are the files and directories a config backup
	// collects.
	ConfigBackupPaths []string

	// Retention tiers in days.
	RetentionLocalDays  int
	RetentionRemoteDays int

	// DR runbook.
	HealthCheckURL   string
	RestartUnits     []string
	RestartSelector  string
	RTOTargetMinutes int

	// Notification fan-out endpoints. Transport is external; the engine
	// only POSTs payloads to these collaborators.
	NotifyPolicyPath string
	EmailEndpoint    string
	SMSEndpoint      string
	WebhookURL       string
}

func Load() (*Config, error) {
	cfg := &Config{
		CatalogDatabaseURL: getEnv("CATALOG_DATABASE_URL", ""),
		SourceDatabaseURL:  getEnv("SOURCE_DATABASE_URL", ""),
		TemporalAddress:    getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:        getEnv("METRICS_ADDR", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ServiceName:        getEnv("SERVICE_NAME", "drvault"),

		LocalBackupDir:  getEnv("LOCAL_BACKUP_DIR", "/var/backups/drvault"),
		WorkDir:         getEnv("BACKUP_WORK_DIR", "/var/tmp/drvault"),
		WALStagingDir:   getEnv("WAL_STAGING_DIR", "/var/lib/drvault/wal-staging"),
		WALRestoreDir:   getEnv("WAL_RESTORE_DIR", "/var/lib/drvault/wal-restore"),
		LocalQuotaBytes: getEnvInt64("LOCAL_QUOTA_BYTES", 0),
		RemoteA: S3Target{
			Endpoint:   getEnv("REMOTE_A_ENDPOINT", ""),
			Region:     getEnv("REMOTE_A_REGION", "us-east-1"),
			Bucket:     getEnv("REMOTE_A_BUCKET", ""),
			AccessKey:  getEnv("REMOTE_A_ACCESS_KEY", ""),
			SecretKey:  getEnv("REMOTE_A_SECRET_KEY", ""),
			QuotaBytes: getEnvInt64("REMOTE_A_QUOTA_BYTES", 0),
		},
		RemoteB: S3Target{
			Endpoint:   getEnv("REMOTE_B_ENDPOINT", ""),
			Region:     getEnv("REMOTE_B_REGION", "eu-central-1"),
			Bucket:     getEnv("REMOTE_B_BUCKET", ""),
			AccessKey:  getEnv("REMOTE_B_ACCESS_KEY", ""),
			SecretKey:  getEnv("REMOTE_B_SECRET_KEY", ""),
			QuotaBytes: getEnvInt64("REMOTE_B_QUOTA_BYTES", 0),
		},

		ConfigBackupPaths: getEnvList("CONFIG_BACKUP_PATHS", []string{"/etc/drvault"}),

		RetentionLocalDays:  getEnvInt("RETENTION_LOCAL_DAYS", 30),
		RetentionRemoteDays: getEnvInt("RETENTION_REMOTE_DAYS", 365),

		HealthCheckURL:   getEnv("HEALTH_CHECK_URL", ""),
		RestartUnits:     getEnvList("RESTART_UNITS", nil),
		RestartSelector:  getEnv("RESTART_SELECTOR", ""),
		RTOTargetMinutes: getEnvInt("RTO_TARGET_MINUTES", 60),

		NotifyPolicyPath: getEnv("NOTIFY_POLICY_PATH", ""),
		EmailEndpoint:    getEnv("NOTIFY_EMAIL_ENDPOINT", ""),
		SMSEndpoint:      getEnv("NOTIFY_SMS_ENDPOINT", ""),
		WebhookURL:       getEnv("NOTIFY_WEBHOOK_URL", ""),
	}

	return cfg, nil
}

// Validate checks that the configuration required by the given role is
// present. It runs at process start, before any side effect, so a
// missing credential fails the job fast instead of mid-run.
func (c *Config) Validate(role string) error {
	switch role {
	case "worker":
		if c.CatalogDatabaseURL == "" {
			return fmt.Errorf("CATALOG_DATABASE_URL is required")
		}
		if c.SourceDatabaseURL == "" {
			return fmt.Errorf("SOURCE_DATABASE_URL is required")
		}
		for name, t := range map[string]S3Target{"REMOTE_A": c.RemoteA, "REMOTE_B": c.RemoteB} {
			if t.Endpoint == "" || t.Bucket == "" || t.AccessKey == "" || t.SecretKey == "" {
				return fmt.Errorf("%s_ENDPOINT, _BUCKET, _ACCESS_KEY and _SECRET_KEY are required", name)
			}
		}
	case "vault-api":
		if c.CatalogDatabaseURL == "" {
			return fmt.Errorf("CATALOG_DATABASE_URL is required")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
