package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// NATSBus implements EventBus on NATS core subjects, for deployments where
// archive workers and stream consumers run outside the API process.
// Topics map to subjects under an optional prefix.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS. The initial connection is attempted
// NATSConnectRetries times; after that the client reconnects on its own.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSConnectRetries <= 0 {
		cfg.NATSConnectRetries = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("finsentinel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.NATSReconnectWait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			// Slow consumer errors land here when a stream client falls behind.
			slog.Error("NATS async error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSConnectRetries; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSConnectRetries,
			"error", err,
		)
		if attempt < cfg.NATSConnectRetries {
			time.Sleep(cfg.NATSReconnectWait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSConnectRetries, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"subject_prefix", cfg.NATSSubjectPrefix,
	)

	return &NATSBus{conn: conn, prefix: cfg.NATSSubjectPrefix}, nil
}

// subject maps a topic to its NATS subject.
func (b *NATSBus) subject(topic string) string {
	return b.prefix + topic
}

// Publish wraps payload in a Message envelope and publishes it.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(&domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.conn.Publish(b.subject(topic), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for every message on topic.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, topic, handler, func(cb nats.MsgHandler) (*nats.Subscription, error) {
		return b.conn.Subscribe(b.subject(topic), cb)
	})
}

// QueueSubscribe registers handler as one member of a NATS queue group.
func (b *NATSBus) QueueSubscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if group == "" {
		return nil, fmt.Errorf("queue group name is required")
	}
	return b.subscribe(ctx, topic, handler, func(cb nats.MsgHandler) (*nats.Subscription, error) {
		return b.conn.QueueSubscribe(b.subject(topic), group, cb)
	})
}

func (b *NATSBus) subscribe(ctx context.Context, topic string, handler domain.MessageHandler, register func(nats.MsgHandler) (*nats.Subscription, error)) (domain.Subscription, error) {
	natsSub, err := register(func(m *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message",
				"subject", m.Subject,
				"error", err,
			)
			return
		}
		if msg.Topic == "" {
			msg.Topic = strings.TrimPrefix(m.Subject, b.prefix)
		}

		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	return &natsSubscription{topic: topic, sub: natsSub}, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains pending messages to subscribers and closes the connection.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() || b.conn.IsDraining() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic, without the subject prefix.
func (s *natsSubscription) Topic() string {
	return s.topic
}
