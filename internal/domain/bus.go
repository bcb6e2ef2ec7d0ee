package domain

import (
	"context"
	"time"
)

// Topics carried on the event bus.
const (
	// TopicResultRecorded carries each ScoringResult as JSON once it is recorded.
	TopicResultRecorded = "finsentinel.result.recorded"

	// TopicAlert carries each Alert raised by the archive worker.
	TopicAlert = "finsentinel.alert"
)

// EventBus moves recorded results and alerts between the API, the archive
// worker and stream clients.
//
// Subscribe delivers every message to every subscriber. QueueSubscribe
// delivers each message to exactly one member of group, so replicas of a
// consumer can share the work.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	QueueSubscribe(ctx context.Context, topic, group string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. Errors are logged by the bus.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every payload travels in.
type Message struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"` // unix nanos at publish
}

// Subscription is an active registration on a topic.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	// Type is "channel" (in process) or "nats".
	Type string `koanf:"type"`

	ChannelBufferSize int `koanf:"channel_buffer_size"`

	NATSUrl            string        `koanf:"nats_url"`
	NATSToken          string        `koanf:"nats_token"`
	NATSSubjectPrefix  string        `koanf:"nats_subject_prefix"` // e.g. "staging."
	NATSConnectRetries int           `koanf:"nats_connect_retries"`
	NATSReconnectWait  time.Duration `koanf:"nats_reconnect_wait"`
}
