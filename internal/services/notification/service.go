// Package notification publishes transaction outcomes after they commit.
// Delivery is best effort: a failed publish is logged and never undoes or
// delays the committed change.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"fxwallet/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TransactionEvent is the message body published for a transaction.
type TransactionEvent struct {
	EventID           string    `json:"event_id"`
	TransactionID     uint      `json:"transaction_id"`
	UserID            uint      `json:"user_id"`
	Reference         string    `json:"reference"`
	Intent            string    `json:"intent"`
	State             string    `json:"state"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Provider          string    `json:"provider,omitempty"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by user id, so one user's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
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
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.UserID), 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "state", Value: []byte(event.State)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log. It is used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event TransactionEvent) error {
	p.logger.Info("transaction event",
		zap.String("event_id", event.EventID),
		zap.String("reference", event.Reference),
		zap.String("state", event.State),
		zap.Uint("user_id", event.UserID),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Service is the notification entry point engines call after commit.
type Service struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewService creates a new notification service.
func NewService(publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = NewLogPublisher(logger)
	}
	return &Service{publisher: publisher, timeout: 5 * time.Second, logger: logger}
}

// TransactionChanged publishes the current state of txn. It is detached
// from the caller's context so a finished request does not cancel delivery.
func (s *Service) TransactionChanged(ctx context.Context, txn *models.Transaction) {
	if s == nil || txn == nil {
		return
	}
	event := TransactionEvent{
		EventID:           uuid.NewString(),
		TransactionID:     txn.ID,
		UserID:            txn.UserID,
		Reference:         txn.Reference,
		Intent:            txn.Intent,
		State:             txn.State,
		Amount:            txn.Amount,
		Currency:          txn.Currency,
		Provider:          txn.ProviderName(),
		ProviderReference: txn.ProviderRef(),
		OccurredAt:        time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warn("failed to publish transaction event",
			zap.String("reference", txn.Reference),
			zap.String("state", txn.State),
			zap.Error(err),
		)
	}
}

func (s *Service) Close() error {
	return s.publisher.Close()
}
