package interfaces

import (
	"context"
	"time"

	"github.com/lavsmart/cyclebridge/internal/models"
)

// OutboxStore defines the contract for dispatch-intent persistence.
// InsertPending reports false when a record for the payment already
// exists, which suppresses duplicate dispatch on webhook redelivery.
type OutboxStore interface {
	InsertPending(ctx context.Context, rec *models.OutboxRecord) (bool, error)
	MarkDispatched(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
	PendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]models.OutboxRecord, error)
}
