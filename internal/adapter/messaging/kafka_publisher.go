package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

const tracerName = "github.com/rl1809/warehouse-ledger/internal/adapter/messaging"

// LedgerEventMessage is the JSON body of a record on the ledger events topic.
type LedgerEventMessage struct {
	EventID        int64     `json:"event_id"`
	SKU            string    `json:"sku"`
	Type           string    `json:"event_type"`
	Delta          int64     `json:"delta"`
	Timestamp      time.Time `json:"timestamp"`
	Actor          string    `json:"actor"`
	Reference      string    `json:"reference,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes committed ledger events keyed by SKU. The hash
// balancer sends a SKU to one partition, which keeps its events ordered.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.LedgerEvent) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ledger.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", p.topic),
			attribute.String("sku", ev.SKU),
			attribute.Int64("event.id", ev.ID),
		),
	)
	defer span.End()

	msg, err := BuildMessage(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write ledger event %d: %w", ev.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// BuildMessage encodes ev and injects the trace context of ctx into the headers.
func BuildMessage(ctx context.Context, ev domain.LedgerEvent) (kafka.Message, error) {
	value, err := json.Marshal(LedgerEventMessage{
		EventID:        ev.ID,
		SKU:            ev.SKU,
		Type:           string(ev.Type),
		Delta:          ev.Delta,
		Timestamp:      ev.Timestamp.UTC(),
		Actor:          ev.Actor,
		Reference:      ev.Reference,
		IdempotencyKey: ev.IdempotencyKey,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode ledger event %d: %w", ev.ID, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(ev.Type)})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     []byte(ev.SKU),
		Value:   value,
		Headers: headers,
		Time:    ev.Timestamp,
	}, nil
}
