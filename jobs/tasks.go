package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zambezi-erp/zambezi-erp/internal/events"
	"github.com/zambezi-erp/zambezi-erp/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEscrowAutoRelease triggers the escrow auto-release sweep.
	TaskEscrowAutoRelease = "escrow:auto_release"
	// TaskQuoteExpiry triggers the quote validity sweep.
	TaskQuoteExpiry = "documents:quote_expiry"
)

// SweepPayload carries scheduling metadata shared by the sweep tasks.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Limit        int       `json:"limit,omitempty"`
}

// NewEscrowAutoReleaseTask constructs the escrow sweep task.
func NewEscrowAutoReleaseTask(at time.Time, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscrowAutoRelease, body, asynq.Queue(QueueDefault)), nil
}

// NewQuoteExpiryTask constructs the quote expiry task.
func NewQuoteExpiryTask(at time.Time, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuoteExpiry, body, asynq.Queue(QueueDefault)), nil
}

// NewNotifyHandler returns the handler delivering outbound notification
// events. Delivery to mail/websocket collaborators is simulated with a
// log line; the transports live outside this engine.
func NewNotifyHandler(metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload events.NotifyPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		metrics.EventDelivered(payload.Type)
		logger.Info("deliver notification",
			slog.String("type", payload.Type),
			slog.Int64("tenant", payload.TenantID),
			slog.String("document", payload.FullNumber))
		return nil
	}
}
