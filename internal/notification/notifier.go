// Package notification delivers herd alerts to external channels.
// The dispatcher listens on the global_alerts system channel and fans
// anomaly alerts out to the configured backends (webhook, Telegram);
// each backend sits behind a circuit breaker so a dead endpoint is not
// hammered on every alert.
package notification

import (
	"context"
	"log"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification to deliver.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is one delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. Used when no external
// backend is configured, so alerts are never silently discarded.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
