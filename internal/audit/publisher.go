package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers a single event to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish keys messages by entity id so events of one order stay on one partition.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event %s: %w", e.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(e.EntityID),
		Value: data,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: kafka write failed for event %s: %w", e.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("order-ledger-relay"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Subject returns the per-type subject, e.g. ledger.events.order_paid.
func Subject(base string, t EventType) string {
	return base + "." + strings.ToLower(string(t))
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event %s: %w", e.ID, err)
	}

	msg := nats.NewMsg(Subject(p.subject, e.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.ID.String())

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("audit: nats publish failed for event %s: %w", e.ID, err)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
