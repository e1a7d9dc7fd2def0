// Package events publishes settlement events for downstream consumers
// (reporting, notifications). Publishing is best effort: the ledger is the
// system of record and a lost event never changes a balance.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types
const (
	TypeSessionOpened       = "session.opened"
	TypeSettlementCompleted = "settlement.completed"
	TypeSettlementFailed    = "settlement.failed"
	TypeSessionAbandoned    = "session.abandoned"
)

// Event is one settlement lifecycle message
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	AccountID  string          `json:"account_id"`
	GameType   string          `json:"game_type"`
	Amount     int64           `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Kafka publishes to a single topic, keyed by account so one account's
// events stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
	logger *zap.Logger
}

var _ Publisher = (*Kafka)(nil)

// NewKafka creates a publisher for topic on brokers
func NewKafka(brokers []string, topic string, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.Named("events"),
	}
}

func (k *Kafka) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		k.logger.Warn("event publish failed", zap.String("type", event.Type), zap.String("session_id", event.SessionID), zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Nop discards events
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
