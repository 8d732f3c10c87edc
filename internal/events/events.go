// Package events publishes purchase lifecycle notifications for downstream
// consumers such as receipt email delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type PurchaseFinalized struct {
	Reference      string    `json:"reference"`
	UserID         string    `json:"user_id"`
	Service        string    `json:"service"`
	Amount         string    `json:"amount"`
	Status         string    `json:"status"`
	Token          string    `json:"token,omitempty"`
	ProviderStatus string    `json:"provider_status,omitempty"`
	Refunded       bool      `json:"refunded"`
	Source         string    `json:"source"`
	At             time.Time `json:"at"`
}

type Publisher interface {
	PurchaseFinalized(ctx context.Context, event PurchaseFinalized) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// PurchaseFinalized is keyed by reference so redeliveries of the same
// purchase land on one partition.
func (p *KafkaPublisher) PurchaseFinalized(ctx context.Context, event PurchaseFinalized) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("purchase.finalized")},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NoopPublisher struct{}

func (NoopPublisher) PurchaseFinalized(context.Context, PurchaseFinalized) error { return nil }

func (NoopPublisher) Close() error { return nil }

// New returns a kafka publisher when brokers are configured and a no-op one
// otherwise.
func New(brokers []string, topic string, logger *zap.Logger) Publisher {
	if len(brokers) == 0 || topic == "" {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic, logger)
}
