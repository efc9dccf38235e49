package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/config"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes load requests from a Kafka topic as part of a consumer group.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topic:       cfg.KafkaSourceTopic,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, flushInterval: cfg.BatchFlushInterval, logger: logger}
}

// ExtractBatch fetches up to batchSize messages. It returns early with what it
// has once the flush interval passes, possibly with an empty batch. Offsets
// are not committed; each request carries its own Commit.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.LoadRequest, error) {
	fetchCtx := ctx
	if r.flushInterval > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.flushInterval)
		defer cancel()
	}

	batch := make([]domain.LoadRequest, 0, batchSize)
	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(batch) > 0 {
				r.logger.Warn("fetch message failed, returning partial batch", "error", err, "batch_size", len(batch))
				break
			}
			return nil, err
		}
		batch = append(batch, r.mapMessage(msg))
	}
	return batch, nil
}

func (r *Reader) mapMessage(msg kafkago.Message) domain.LoadRequest {
	req := mapMessageToRequest(msg)
	req.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return req
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRequest converts a Kafka message into a load request. A
// message that does not name a place yields a request marked Invalid.
func mapMessageToRequest(msg kafkago.Message) domain.LoadRequest {
	req, err := domain.ParseLoadRequest(msg.Key, msg.Value)
	if err != nil {
		req = domain.LoadRequest{Invalid: err}
	}
	req.Topic = msg.Topic
	req.Partition = msg.Partition
	req.Offset = msg.Offset
	req.Timestamp = msg.Time
	return req
}
