package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lavsmart/cyclebridge/internal/models"
)

// OutboxRepository persists dispatch intents in Postgres. A record is
// written before the first publish attempt so intent survives process or
// broker failure; the sweeper retries anything still pending.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_outbox (
			id VARCHAR(255) PRIMARY KEY,
			payment_id VARCHAR(255) NOT NULL UNIQUE,
			machine_id VARCHAR(255) NOT NULL,
			topic VARCHAR(255) NOT NULL,
			duration_minutes INT NOT NULL,
			cycle_label VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			dispatched_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_outbox_status ON dispatch_outbox(status)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// InsertPending writes a dispatch intent. The unique payment_id key makes
// redelivered webhooks a no-op: inserted == false means the payment was
// already recorded and must not be dispatched again.
func (r *OutboxRepository) InsertPending(ctx context.Context, rec *models.OutboxRecord) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_outbox (id, payment_id, machine_id, topic, duration_minutes, cycle_label, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (payment_id) DO NOTHING
	`, rec.ID, rec.PaymentID, rec.MachineID, rec.Topic, rec.DurationMinutes, rec.CycleLabel)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_outbox SET status = 'dispatched', dispatched_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (r *OutboxRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE dispatch_outbox SET attempts = attempts + 1 WHERE id = $1`, id)
	return err
}

// PendingOlderThan returns pending records whose last write is older than
// the given age, oldest first.
func (r *OutboxRepository) PendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]models.OutboxRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, machine_id, topic, duration_minutes, cycle_label, status, attempts, created_at
		FROM dispatch_outbox
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, time.Now().Add(-age), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.OutboxRecord
	for rows.Next() {
		var rec models.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.PaymentID, &rec.MachineID, &rec.Topic,
			&rec.DurationMinutes, &rec.CycleLabel, &rec.Status, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
