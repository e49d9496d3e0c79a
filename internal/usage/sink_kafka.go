package usage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/usagegate/usagegate/internal/model"
)

const RecordsTopic = "usage.records"

// KafkaSink publishes usage records as JSON envelopes, keyed by tenant so a
// tenant's records land on one partition in order.
type KafkaSink struct {
	w *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = RecordsTopic
	}
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

var _ Sink = (*KafkaSink)(nil)

func (s *KafkaSink) Write(ctx context.Context, recs []model.UsageRecord) error {
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal usage record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.TenantID),
			Value: payload,
		})
	}
	return s.w.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error { return s.w.Close() }
