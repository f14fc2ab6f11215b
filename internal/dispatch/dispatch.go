// Package dispatch publishes cycle-start commands to machine command
// topics over the shared transport connection.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

var ErrTransportDown = errors.New("transport disconnected")

// Publisher is the transport capability: publish a payload to a topic and
// report connection state.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Topic derives the command channel for a machine,
// e.g. "lavanderia/lavadora01/comandos".
func Topic(namespace, machineID string) string {
	return fmt.Sprintf("%s/%s/comandos", namespace, machineID)
}

// Dispatcher serializes commands and publishes them. Delivery is
// at-least-once: the outbox retries until a publish succeeds, and
// receivers must tolerate duplicates.
type Dispatcher struct {
	publisher Publisher
}

func NewDispatcher(publisher Publisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

func (d *Dispatcher) Dispatch(namespace string, cmd models.CommandMessage) error {
	topic := Topic(namespace, cmd.MachineID)
	return d.DispatchTo(topic, cmd)
}

func (d *Dispatcher) DispatchTo(topic string, cmd models.CommandMessage) error {
	if !d.publisher.IsConnected() {
		telemetry.DispatchFailures.Inc()
		return fmt.Errorf("%w: topic %s", ErrTransportDown, topic)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	if err := d.publisher.Publish(topic, payload); err != nil {
		telemetry.DispatchFailures.Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	telemetry.CommandsDispatched.Inc()
	telemetry.Logger.Info("Cycle command dispatched",
		zap.String("topic", topic),
		zap.String("machine_id", cmd.MachineID),
		zap.Int("duration_minutes", cmd.DurationMinutes),
		zap.String("cycle_label", cmd.CycleLabel),
	)
	return nil
}
