package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/entity"
)

// Broker is the NATS transport for processing jobs. Connection is
// established exactly once; there is no reconnect-into-broker-mode path
// because the execution regime is fixed at process start.
type Broker struct {
	conn       *nats.Conn
	subject    string
	queueGroup string
	logger     *slog.Logger
}

// ConnectBroker probes the broker once. A failed probe means fallback mode;
// the caller decides that, this function just reports reachability.
func ConnectBroker(cfg common.BrokerConfig, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("receipts-engine"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect broker %s: %w", cfg.URL, err)
	}

	logger.Info("broker.connected", "url", conn.ConnectedUrl(), "subject", cfg.Subject)
	return &Broker{
		conn:       conn,
		subject:    cfg.Subject,
		queueGroup: cfg.QueueGroup,
		logger:     logger,
	}, nil
}

// Publish enqueues a job and returns the broker reference for it.
func (b *Broker) Publish(job entity.Job) (string, error) {
	payload, err := job.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	ref := fmt.Sprintf("%s/%s", b.subject, job.ReceiptID)
	b.logger.Debug("broker.published", "receipt_id", job.ReceiptID, "ref", ref)
	return ref, nil
}

// Subscribe attaches a queue-group consumer so multiple worker processes
// share the subject without duplicate delivery. Malformed payloads are
// logged and dropped.
func (b *Broker) Subscribe(handler func(entity.Job)) (*nats.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(b.subject, b.queueGroup, func(msg *nats.Msg) {
		job, err := entity.UnmarshalJob(msg.Data)
		if err != nil {
			b.logger.Error("broker.message.malformed", "error", err, "bytes", len(msg.Data))
			return
		}
		handler(job)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.logger.Info("broker.subscribed", "subject", b.subject, "queue_group", b.queueGroup)
	return sub, nil
}

// Close drains pending messages before disconnecting.
func (b *Broker) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("broker.drain.failed", "error", err)
		b.conn.Close()
	}
}
