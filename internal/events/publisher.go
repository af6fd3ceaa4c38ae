package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/zambezi-erp/zambezi-erp/internal/documents"
)

// TaskNotify is the queue task type carrying outbound notifications.
const TaskNotify = "notify:event"

// NotifyPayload is the wire form of an outbound event.
type NotifyPayload struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   int64          `json:"tenant_id"`
	DocumentID int64          `json:"document_id"`
	FullNumber string         `json:"full_number"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// AsynqPublisher enqueues outbound events for the notification worker.
// Delivery is fire and forget; a failed enqueue is logged, never
// propagated into the committed transition.
type AsynqPublisher struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqPublisher builds the publisher.
func NewAsynqPublisher(client *asynq.Client, logger *slog.Logger) *AsynqPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqPublisher{client: client, logger: logger}
}

// Publish enqueues one event.
func (p *AsynqPublisher) Publish(ctx context.Context, evt documents.Event) error {
	body, err := json.Marshal(NotifyPayload{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		TenantID:   evt.TenantID,
		DocumentID: evt.DocumentID,
		FullNumber: evt.FullNumber,
		Payload:    evt.Payload,
	})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskNotify, body)
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		p.logger.Warn("enqueue notify task", slog.String("type", evt.Type), slog.Any("error", err))
		return err
	}
	return nil
}
