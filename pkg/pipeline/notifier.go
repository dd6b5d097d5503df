package pipeline

import (
	"context"
	"log/slog"

	"github.com/flagwise/flagwise/pkg/alerting"
)

// LogNotifier writes each created alert to the log. It stands in where no
// external delivery channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier. A nil logger uses the
// default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "pipeline.notifier")}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(ctx context.Context, alert *alerting.Alert) error {
	n.logger.WarnContext(ctx, "alert raised",
		"alert_id", alert.ID,
		"title", alert.Title,
		"severity", alert.Severity,
		"source_type", alert.SourceType,
		"source_id", alert.SourceID,
		"actor_key", alert.ActorKey,
		"related_request_id", alert.RelatedRequestID,
	)
	return nil
}
