// Package outbox retries undelivered dispatch intents. Together with the
// pending record written before the first publish attempt, the sweep
// gives at-least-once command delivery even across broker outages.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/dispatch"
	"github.com/lavsmart/cyclebridge/internal/interfaces"
	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

const (
	sweepInterval = 10 * time.Second
	// minAge keeps the sweeper off records whose first publish attempt
	// is still in flight.
	minAge     = 30 * time.Second
	sweepLimit = 100
)

type Sweeper struct {
	store      interfaces.OutboxStore
	dispatcher *dispatch.Dispatcher
}

func NewSweeper(store interfaces.OutboxStore, dispatcher *dispatch.Dispatcher) *Sweeper {
	return &Sweeper{store: store, dispatcher: dispatcher}
}

// Run sweeps until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep republishes pending records and marks the ones that go through.
func (s *Sweeper) Sweep(ctx context.Context) {
	records, err := s.store.PendingOlderThan(ctx, minAge, sweepLimit)
	if err != nil {
		telemetry.Logger.Error("Outbox sweep query failed", zap.Error(err))
		return
	}

	for _, rec := range records {
		cmd := models.CommandMessage{
			MachineID:       rec.MachineID,
			DurationMinutes: rec.DurationMinutes,
			CycleLabel:      rec.CycleLabel,
		}

		if err := s.dispatcher.DispatchTo(rec.Topic, cmd); err != nil {
			telemetry.Logger.Warn("Outbox retry failed",
				zap.String("outbox_id", rec.ID),
				zap.String("payment_id", rec.PaymentID),
				zap.Int("attempts", rec.Attempts),
				zap.Error(err),
			)
			if err := s.store.IncrementAttempts(ctx, rec.ID); err != nil {
				telemetry.Logger.Error("Failed to record outbox attempt", zap.Error(err))
			}
			continue
		}

		if err := s.store.MarkDispatched(ctx, rec.ID); err != nil {
			// Record stays pending; the next sweep republishes.
			// Receivers already tolerate duplicates.
			telemetry.Logger.Error("Failed to mark record dispatched",
				zap.String("outbox_id", rec.ID),
				zap.Error(err),
			)
		}
	}
}
