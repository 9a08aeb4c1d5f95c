package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"
	"gopkg.in/yaml.v3"

	"github.com/edvin/drvault/internal/config"
	"github.com/edvin/drvault/internal/metrics"
	"github.com/edvin/drvault/internal/model"
)

var severityRank = map[string]int{
	model.SeverityInfo:     0,
	model.SeverityWarning:  1,
	model.SeverityError:    2,
	model.SeverityCritical: 3,
}

// NotifyPolicy controls which channels an alert fans out to. The in-app
// channel is not listed: the catalog row itself is the in-app
// notification and always exists. SMS is hard-limited to critical
// regardless of policy.
type NotifyPolicy struct {
	Email   ChannelPolicy `yaml:"email"`
	Webhook ChannelPolicy `yaml:"webhook"`
	SMS     ChannelPolicy `yaml:"sms"`
}

type ChannelPolicy struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity"`
}

func (p ChannelPolicy) matches(severity string) bool {
	if !p.Enabled {
		return false
	}
	min, ok := severityRank[p.MinSeverity]
	if !ok {
		min = severityRank[model.SeverityWarning]
	}
	return severityRank[severity] >= min
}

// LoadNotifyPolicy reads the channel policy file. A missing path
// enables only the in-app channel.
func LoadNotifyPolicy(path string) (NotifyPolicy, error) {
	var policy NotifyPolicy
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read notify policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse notify policy: %w", err)
	}
	return policy, nil
}

// Notifier contains activities that deliver alert notifications.
type Notifier struct {
	logger zerolog.Logger
	client *http.Client
	policy NotifyPolicy

	emailEndpoint string
	smsEndpoint   string
	webhookURL    string
}

// NewNotifier creates a new Notifier activity struct.
func NewNotifier(logger zerolog.Logger, cfg *config.Config, policy NotifyPolicy) *Notifier {
	return &Notifier{
		logger:        logger.With().Str("component", "notifier").Logger(),
		client:        &http.Client{Timeout: 10 * time.Second},
		policy:        policy,
		emailEndpoint: cfg.EmailEndpoint,
		smsEndpoint:   cfg.SMSEndpoint,
		webhookURL:    cfg.WebhookURL,
	}
}

// notificationPayload is the JSON body posted to email, SMS and webhook
// receivers.
type notificationPayload struct {
	AlertID   string         `json:"alert_id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	BackupID  *string        `json:"backup_id,omitempty"`
	RestoreID *string        `json:"restore_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RaisedAt  time.Time      `json:"raised_at"`
}

// DeliverAlert fans an alert out to every channel its severity and the
// policy select. Per-channel failures are recorded, not propagated: one
// dead channel must not suppress the others, and the outcomes land in
// the catalog either way.
func (n *Notifier) DeliverAlert(ctx context.Context, alert model.Alert) ([]model.ChannelResult, error) {
	payload := notificationPayload{
		AlertID:   alert.ID,
		Type:      alert.Type,
		Severity:  alert.Severity,
		Message:   alert.Message,
		BackupID:  alert.BackupID,
		RestoreID: alert.RestoreID,
		Details:   alert.Details,
		RaisedAt:  alert.CreatedAt,
	}

	// The catalog row is the in-app notification; it already exists.
	results := []model.ChannelResult{
		{Channel: model.ChannelInApp, Ok: true, SentAt: time.Now()},
	}
	metrics.Notifications.WithLabelValues(model.ChannelInApp, "ok").Inc()

	if n.policy.Email.matches(alert.Severity) && n.emailEndpoint != "" {
		results = append(results, n.post(ctx, model.ChannelEmail, n.emailEndpoint, payload))
	}
	if n.policy.Webhook.matches(alert.Severity) && n.webhookURL != "" {
		results = append(results, n.post(ctx, model.ChannelWebhook, n.webhookURL, payload))
	}
	// SMS is reserved for critical alerts no matter what the policy says.
	if alert.Severity == model.SeverityCritical && n.policy.SMS.Enabled && n.smsEndpoint != "" {
		results = append(results, n.post(ctx, model.ChannelSMS, n.smsEndpoint, payload))
	}

	return results, nil
}

func (n *Notifier) post(ctx context.Context, channel, url string, payload notificationPayload) model.ChannelResult {
	result := model.ChannelResult{Channel: channel, SentAt: time.Now()}

	if err := n.send(ctx, url, payload); err != nil {
		result.Error = err.Error()
		metrics.Notifications.WithLabelValues(channel, "failed").Inc()
		n.logger.Warn().Err(err).Str("channel", channel).Str("alert_id", payload.AlertID).Msg("notification delivery failed")
		return result
	}

	result.Ok = true
	metrics.Notifications.WithLabelValues(channel, "ok").Inc()
	return result
}

func (n *Notifier) send(ctx context.Context, url string, payload notificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The receiver rejected the payload; retrying the same body
		// cannot succeed.
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("notification rejected with status %d", resp.StatusCode),
			"NotificationRejected", nil)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("notification receiver returned status %d", resp.StatusCode)
	}
	return nil
}
