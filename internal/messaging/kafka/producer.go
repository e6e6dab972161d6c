package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer は注文イベントをKafkaへ送る
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Entry
}

// NewProducer は同期producerを作る
func NewProducer(brokers []string, topic string, logger *log.Entry) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerWith(producer, topic, logger), nil
}

// NewProducerWith は既存のSyncProducerを包む（テストではsarama/mocksを渡す）
func NewProducerWith(producer sarama.SyncProducer, topic string, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, topic: topic, logger: logger}
}

// PublishOrderEvent は注文イベントを送る
func (p *Producer) PublishOrderEvent(ctx context.Context, event *OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.Key()),
		Value:     sarama.ByteEncoder(data),
		Timestamp: event.Timestamp,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic":    p.topic,
			"order_id": event.OrderID,
		}).Error("failed to send order event")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":      p.topic,
		"event_type": event.EventType,
		"order_id":   event.OrderID,
		"partition":  partition,
		"offset":     offset,
	}).Debug("order event sent")
	return nil
}

// Close はproducerを閉じる
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// NopPublisher はKafka未設定時に使う
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(context.Context, *OrderEvent) error { return nil }
