package flights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/unklstewy/flightscope/pkg/opensky"
)

// QueryHeader is the message header carrying the snapshot's cache key.
const QueryHeader = "query"

// KafkaPublisher writes each snapshot record to a Kafka topic, keyed by
// icao24 so every aircraft's history lands on one partition.
// Writes are asynchronous; delivery failures are only logged.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &KafkaPublisher{logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   p.completed,
	}
	return p
}

// Publish queues one message per record.
func (p *KafkaPublisher) Publish(ctx context.Context, query string, records []opensky.FlightRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs, err := Messages(query, records)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) completed(messages []kafka.Message, err error) {
	if err != nil {
		p.logger.Error("Snapshot delivery failed", "messages", len(messages), "err", err)
	}
}

// Messages encodes records as Kafka messages: key icao24, JSON value and the
// query in a header.
func Messages(query string, records []opensky.FlightRecord) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, len(records))
	for i, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.ICAO24, err)
		}
		msgs[i] = kafka.Message{
			Key:     []byte(rec.ICAO24),
			Value:   b,
			Headers: []kafka.Header{{Key: QueryHeader, Value: []byte(query)}},
		}
	}
	return msgs, nil
}
