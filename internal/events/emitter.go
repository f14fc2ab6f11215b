// Package events publishes payment lifecycle events for downstream
// consumers (dashboards, alerting). Emission is best-effort and never
// blocks the dispatch pipeline.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

const topic = "machine.cycle.events"

const (
	TypePaymentApproved   = "payment.approved"
	TypeCommandDispatched = "command.dispatched"
)

type Event struct {
	Type      string    `json:"type"`
	PaymentID string    `json:"payment_id"`
	TenantID  string    `json:"tenant_id"`
	MachineID string    `json:"machine_id"`
	Amount    float64   `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter writes events to Kafka. A nil Emitter is valid and drops
// everything, so the broker stays optional.
type Emitter struct {
	writer *kafka.Writer
}

func NewEmitter(brokers string) *Emitter {
	if brokers == "" {
		return nil
	}
	return &Emitter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil {
		return
	}

	event.Timestamp = time.Now()
	payload, _ := json.Marshal(event)

	if err := e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PaymentID),
		Value: payload,
	}); err != nil {
		telemetry.Logger.Warn("Failed to emit lifecycle event",
			zap.String("type", event.Type),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err),
		)
	}
}

func (e *Emitter) Close() {
	if e != nil {
		e.writer.Close()
	}
}
