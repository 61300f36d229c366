package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier is the fire-and-forget notification port. Implementations log
// failures; callers never propagate them into compliance judgments.
type Notifier interface {
	SendCriticalComplianceAlert(ctx context.Context, payload map[string]interface{}) error
	SendCriticalValidationAlert(ctx context.Context, payload map[string]interface{}) error
	SendViolationAlert(ctx context.Context, payload map[string]interface{}) error
	SendUrgentAlert(ctx context.Context, payload map[string]interface{}) error
	SendEmail(ctx context.Context, recipient, subject, body string) error
	SendWebhook(ctx context.Context, url string, payload map[string]interface{}) error
	SendSystemNotification(ctx context.Context, notificationType string, payload map[string]interface{}) error
}

// Notification type identifiers used by the dispatcher and test recorder.
const (
	TypeCriticalCompliance = "critical_compliance_alert"
	TypeCriticalValidation = "critical_validation_alert"
	TypeViolationAlert     = "violation_alert"
	TypeUrgentAlert        = "urgent_alert"
	TypeEmail              = "email"
	TypeWebhook            = "webhook"
)

// Config controls the webhook dispatcher.
type Config struct {
	WebhookURL     string        `koanf:"webhook_url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// Alerts per second allowed through before dispatches are dropped.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		RateLimit:      5,
		RateBurst:      20,
	}
}

// dispatcher sends notifications to a webhook target, rate limited so alert
// storms cannot flood downstream systems.
type dispatcher struct {
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
	config  Config
}

// NewDispatcher creates the webhook-backed notifier.
func NewDispatcher(cfg Config, logger *zap.Logger) Notifier {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	return &dispatcher{
		logger:  logger,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		config:  cfg,
	}
}

func (d *dispatcher) SendCriticalComplianceAlert(ctx context.Context, payload map[string]interface{}) error {
	return d.dispatch(ctx, TypeCriticalCompliance, payload)
}

func (d *dispatcher) SendCriticalValidationAlert(ctx context.Context, payload map[string]interface{}) error {
	return d.dispatch(ctx, TypeCriticalValidation, payload)
}

func (d *dispatcher) SendViolationAlert(ctx context.Context, payload map[string]interface{}) error {
	return d.dispatch(ctx, TypeViolationAlert, payload)
}

func (d *dispatcher) SendUrgentAlert(ctx context.Context, payload map[string]interface{}) error {
	return d.dispatch(ctx, TypeUrgentAlert, payload)
}

func (d *dispatcher) SendEmail(ctx context.Context, recipient, subject, body string) error {
	return d.dispatch(ctx, TypeEmail, map[string]interface{}{
		"recipient": recipient,
		"subject":   subject,
		"body":      body,
	})
}

func (d *dispatcher) SendWebhook(ctx context.Context, url string, payload map[string]interface{}) error {
	return d.post(ctx, url, TypeWebhook, payload)
}

func (d *dispatcher) SendSystemNotification(ctx context.Context, notificationType string, payload map[string]interface{}) error {
	return d.dispatch(ctx, notificationType, payload)
}

func (d *dispatcher) dispatch(ctx context.Context, notificationType string, payload map[string]interface{}) error {
	if !d.limiter.Allow() {
		d.logger.Warn("notification dropped by rate limiter",
			zap.String("type", notificationType))
		return nil
	}
	if d.config.WebhookURL == "" {
		d.logger.Info("notification (no webhook configured)",
			zap.String("type", notificationType),
			zap.Any("payload", payload))
		return nil
	}
	return d.post(ctx, d.config.WebhookURL, notificationType, payload)
}

func (d *dispatcher) post(ctx context.Context, url, notificationType string, payload map[string]interface{}) error {
	body := map[string]interface{}{
		"type":    notificationType,
		"payload": payload,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("notification dispatch failed",
			zap.String("type", notificationType),
			zap.Error(err))
		return fmt.Errorf("notification dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Error("notification rejected",
			zap.String("type", notificationType),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Sent
}

// Sent is one captured notification.
type Sent struct {
	Type    string
	Payload map[string]interface{}
}

// NewRecorder creates a notification recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(t string, payload map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, Sent{Type: t, Payload: payload})
	return nil
}

func (r *Recorder) SendCriticalComplianceAlert(_ context.Context, p map[string]interface{}) error {
	return r.record(TypeCriticalCompliance, p)
}

func (r *Recorder) SendCriticalValidationAlert(_ context.Context, p map[string]interface{}) error {
	return r.record(TypeCriticalValidation, p)
}

func (r *Recorder) SendViolationAlert(_ context.Context, p map[string]interface{}) error {
	return r.record(TypeViolationAlert, p)
}

func (r *Recorder) SendUrgentAlert(_ context.Context, p map[string]interface{}) error {
	return r.record(TypeUrgentAlert, p)
}

func (r *Recorder) SendEmail(_ context.Context, recipient, subject, _ string) error {
	return r.record(TypeEmail, map[string]interface{}{"recipient": recipient, "subject": subject})
}

func (r *Recorder) SendWebhook(_ context.Context, url string, p map[string]interface{}) error {
	return r.record(TypeWebhook, map[string]interface{}{"url": url, "payload": p})
}

func (r *Recorder) SendSystemNotification(_ context.Context, t string, p map[string]interface{}) error {
	return r.record(t, p)
}

// ByType filters captured notifications.
func (r *Recorder) ByType(t string) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.Sent {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}
