package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/field-survey-etl/internal/config"
	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

const sourceHeader = "field-survey-etl"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes processed survey rows to a Kafka topic, one JSON message
// per row.
type Writer struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, metrics: metrics, logger: logger}
}

// LoadTable serializes every row of tbl and publishes them in a single
// WriteMessages call, tagged with the run that produced them. Rows are keyed
// by keyColumn so that records for the same field land on the same
// partition. An empty keyColumn publishes unkeyed messages.
func (w *Writer) LoadTable(ctx context.Context, runID string, tbl *domain.Table, keyColumn string) error {
	if tbl.Len() == 0 {
		return nil
	}
	if keyColumn != "" && !tbl.Has(keyColumn) {
		return fmt.Errorf("kafka key: %w: %q", domain.ErrColumnNotFound, keyColumn)
	}

	processedAt := domain.Now()
	msgs := make([]kafkago.Message, tbl.Len())
	for i := range msgs {
		msg, err := serializeRow(tbl.Record(i), keyColumn, runID, processedAt)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		msgs[i] = msg
	}

	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish rows: %w", err)
	}
	w.metrics.RowsPublished.Add(float64(len(msgs)))
	w.logger.Info("rows published", "run_id", runID, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeRow marshals one table record into a Kafka message.
func serializeRow(record map[string]any, keyColumn, runID string, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize survey row: %w", err)
	}
	msg := kafkago.Message{
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(sourceHeader)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}
	if keyColumn != "" && record[keyColumn] != nil {
		msg.Key = fmt.Appendf(nil, "%v", record[keyColumn])
	}
	return msg, nil
}
