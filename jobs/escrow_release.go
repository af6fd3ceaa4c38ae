package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/observability"
)

// NewEscrowAutoReleaseHandler sweeps escrow rows past the release window.
// The sweep itself is idempotent per row, so re-delivery of the task is
// harmless.
func NewEscrowAutoReleaseHandler(svc *escrow.Service, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		released, err := svc.SweepAutoRelease(ctx, payload.Limit)
		metrics.SweepProcessed("escrow_auto_release", released)
		if err != nil {
			logger.Error("escrow auto-release sweep", slog.Any("error", err), slog.Int("released", released))
			return err
		}
		if released > 0 {
			logger.Info("escrow auto-release sweep", slog.Int("released", released))
		}
		return nil
	}
}
