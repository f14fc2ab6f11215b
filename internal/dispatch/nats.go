package dispatch

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

// NATSPublisher holds the single long-lived transport connection. The
// server drops commands while disconnected; the outbox sweeper picks
// them up once the connection is back.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			telemetry.Logger.Warn("Transport disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			telemetry.Logger.Info("Transport reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(topic string, payload []byte) error {
	return p.nc.Publish(topic, payload)
}

func (p *NATSPublisher) IsConnected() bool {
	return p.nc.IsConnected()
}

func (p *NATSPublisher) Close() {
	p.nc.Close()
}
