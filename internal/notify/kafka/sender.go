// Package kafka publishes status changes as JSON records to a Kafka topic,
// keyed by incident id so one incident's changes stay ordered per partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/notify"
	kafkago "github.com/segmentio/kafka-go"
)

// EventType is set as the event_type header on every record.
const EventType = "incident.status_changed"

// Config holds Kafka sender configuration.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Writer is the subset of *kafka.Writer the sender uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Sender implements notify.Sender for Kafka.
type Sender struct {
	writer Writer
}

// NewSender creates a sender backed by a kafka-go writer.
func NewSender(config Config) *Sender {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: config.WriteTimeout,
	}
	return NewSenderWithWriter(writer)
}

// NewSenderWithWriter creates a sender over an existing writer.
func NewSenderWithWriter(writer Writer) *Sender {
	return &Sender{writer: writer}
}

// Name returns the sender name.
func (s *Sender) Name() string {
	return "kafka"
}

// Record is the JSON value written for each status change.
type Record struct {
	IncidentID     string                 `json:"incident_id"`
	IncidentNumber string                 `json:"incident_number"`
	Title          string                 `json:"title"`
	Type           domain.IncidentType    `json:"type"`
	Severity       domain.Severity        `json:"severity"`
	FromStatus     domain.IncidentStatus  `json:"from_status"`
	ToStatus       domain.IncidentStatus  `json:"to_status"`
	ResolutionCode *domain.ResolutionCode `json:"resolution_code,omitempty"`
	Actor          string                 `json:"actor"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Summary        string                 `json:"summary"`
}

// Send writes one record for the message.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	e := msg.Event
	value, err := json.Marshal(Record{
		IncidentID:     e.IncidentID,
		IncidentNumber: e.IncidentNumber,
		Title:          e.Title,
		Type:           e.Type,
		Severity:       e.Severity,
		FromStatus:     e.FromStatus,
		ToStatus:       e.ToStatus,
		ResolutionCode: e.ResolutionCode,
		Actor:          e.Actor,
		OccurredAt:     e.OccurredAt,
		Summary:        msg.Subject,
	})
	if err != nil {
		return notify.NewNonRetryableError(fmt.Errorf("marshal record: %w", err))
	}

	err = s.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(e.IncidentID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventType)},
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sender) Close() error {
	return s.writer.Close()
}

// classify marks broker errors that will not go away on retry.
func classify(err error) error {
	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == 1 && writeErrs[0] != nil {
		err = writeErrs[0]
	}

	var kerr kafkago.Error
	if errors.As(err, &kerr) && !kerr.Temporary() {
		return notify.NewNonRetryableError(fmt.Errorf("write message: %w", err))
	}
	return notify.NewRetryableError(fmt.Errorf("write message: %w", err))
}
