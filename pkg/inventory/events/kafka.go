// Package events publishes inventory events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

// Event type names, also used as default topic names
const (
	EventStockChanged         = "inventory.stock_changed"
	EventItemTransferred      = "inventory.item_transferred"
	EventReplacementConfirmed = "inventory.replacement_confirmed"
)

// messageWriter is the subset of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements inventory.EventPublisher. Messages are keyed by
// item ID so events of one item stay in order on a partition.
// Kafkaへの在庫イベント発行
type KafkaPublisher struct {
	writer       messageWriter
	topicByEvent map[string]string
}

var _ inventory.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to brokers. topicByEvent maps
// event types to topics; unmapped types use the event type as topic.
// 新しいKafkaパブリッシャーを作成
func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topicByEvent: topicByEvent,
	}, nil
}

// PublishStockChanged publishes an in/out/return event
func (p *KafkaPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	return p.publish(ctx, EventStockChanged, event.ItemID, event)
}

// PublishItemTransferred publishes a transfer event
func (p *KafkaPublisher) PublishItemTransferred(ctx context.Context, event inventory.ItemTransferredEvent) error {
	return p.publish(ctx, EventItemTransferred, event.ItemID, event)
}

// PublishReplacementConfirmed publishes a replacement confirmation event
func (p *KafkaPublisher) PublishReplacementConfirmed(ctx context.Context, event inventory.ReplacementConfirmedEvent) error {
	return p.publish(ctx, EventReplacementConfirmed, event.ItemID, event)
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) topic(eventType string) string {
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		return mapped
	}
	return eventType
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, partitionKey string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのJSON変換に失敗しました: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic(eventType),
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	})
}
