// Package feed publishes committed trades to downstream consumers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/paperledger/brokerd/pkg/broker"
)

// Kafka writes one JSON message per committed trade, keyed by user so
// a consumer sees each account's trades in order.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (k *Kafka) PublishTrade(ctx context.Context, tx broker.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", tx.ID, err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.UserID),
		Value: payload,
	})
}

func (k *Kafka) Close() error { return k.writer.Close() }

var _ broker.TradeFeed = (*Kafka)(nil)
