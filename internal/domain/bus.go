package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication between the
// evaluator, the reviewer and any downstream consumers. Backed by Go channels
// (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	TopicTransactionEvaluated = "kestrel.transaction.evaluated"
	TopicTransactionAlert     = "kestrel.transaction.alert"
	TopicSessionReviewRequest = "kestrel.session.review.requested"
	TopicSessionReviewed      = "kestrel.session.reviewed"
)

// TransactionEvaluated is the payload published on TopicTransactionEvaluated
// (and TopicTransactionAlert for blocked outcomes).
type TransactionEvaluated struct {
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
	SessionID     string `json:"sessionId,omitempty"`
	Status        string `json:"status"`
	Score         int    `json:"transactionScore"`
	Failed        bool   `json:"failureFlag"`
}

// SessionReviewRequest asks the worker to (re-)review a session.
type SessionReviewRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionReviewed is published after a review completes.
type SessionReviewed struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	IsFlagged bool   `json:"isFlagged"`
	RiskScore int    `json:"riskScore"`
}
