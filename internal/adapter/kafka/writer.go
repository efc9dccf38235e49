package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/config"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces chart messages to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic. Messages
// are keyed by place URN so every chart of a place lands on one partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Compression:  kafkago.Snappy,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes the charts in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, charts []domain.Chart) error {
	if len(charts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(charts))
	for i := range charts {
		msg, err := serializeToMessage(charts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write charts: %w", err)
	}
	w.logger.Debug("charts written", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Chart into a Kafka message.
func serializeToMessage(chart domain.Chart) (kafkago.Message, error) {
	data, err := json.Marshal(chart)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize chart %s: %w", chart.PlaceURN, err)
	}
	return kafkago.Message{
		Key:   []byte(chart.PlaceURN),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "place_urn", Value: []byte(chart.PlaceURN)},
			{Key: "loaded_at", Value: []byte(chart.LoadedAt.Format(time.RFC3339))},
			{Key: "series", Value: []byte(strconv.Itoa(len(chart.Series)))},
		},
	}, nil
}
