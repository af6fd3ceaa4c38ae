package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/zambezi-erp/zambezi-erp/internal/documents"
	"github.com/zambezi-erp/zambezi-erp/internal/observability"
)

// NewQuoteExpiryHandler moves emitted quotes past their validity date to
// EXPIRED.
func NewQuoteExpiryHandler(svc *documents.Service, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		expired, err := svc.ExpireQuotes(ctx, payload.Limit)
		metrics.SweepProcessed("quote_expiry", expired)
		if err != nil {
			logger.Error("quote expiry sweep", slog.Any("error", err), slog.Int("expired", expired))
			return err
		}
		if expired > 0 {
			logger.Info("quote expiry sweep", slog.Int("expired", expired))
		}
		return nil
	}
}
