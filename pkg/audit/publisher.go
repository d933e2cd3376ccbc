package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kind tells history rows and audit events apart on the stream.
type Kind string

const (
	KindHistory Kind = "history"
	KindAudit   Kind = "audit"
)

// Record is one committed row.
type Record struct {
	Kind    Kind
	UserID  string
	Payload any
}

// Publisher streams committed records.
type Publisher interface {
	Publish(ctx context.Context, records ...Record) error
	Close() error
}

type discard struct{}

func (discard) Publish(context.Context, ...Record) error { return nil }
func (discard) Close() error                             { return nil }

// Discard returns a Publisher that drops everything.
func Discard() Publisher {
	return discard{}
}

// publishBatchTimeout bounds how long a synchronous write waits for a batch
// to fill.
const publishBatchTimeout = 10 * time.Millisecond

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes history rows and audit events as JSON to two topics,
// keyed by user so that a user's records stay ordered within a partition.
type KafkaPublisher struct {
	w            messageWriter
	historyTopic string
	auditTopic   string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher returns a publisher writing to brokers.
func NewKafkaPublisher(brokers []string, historyTopic, auditTopic string) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           publishBatchTimeout,
	}, historyTopic, auditTopic)
}

func newKafkaPublisher(w messageWriter, historyTopic, auditTopic string) *KafkaPublisher {
	return &KafkaPublisher{w: w, historyTopic: historyTopic, auditTopic: auditTopic}
}

func (p *KafkaPublisher) topic(k Kind) (string, error) {
	switch k {
	case KindHistory:
		return p.historyTopic, nil
	case KindAudit:
		return p.auditTopic, nil
	default:
		return "", fmt.Errorf("unknown record kind %q", k)
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, records ...Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		topic, err := p.topic(r.Kind)
		if err != nil {
			return err
		}
		b, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s record: %w", r.Kind, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(r.UserID),
			Value: b,
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		var werrs kafka.WriteErrors
		if errors.As(err, &werrs) {
			return fmt.Errorf("failed to write %d of %d records: %w", werrs.Count(), len(msgs), err)
		}
		return fmt.Errorf("failed to write records: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
