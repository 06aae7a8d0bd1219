package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"

	"github.com/segmentio/kafka-go"
)

const publishBatch = 500

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BarMessage is the JSON value of one published bar.
type BarMessage struct {
	Dataset   string            `json:"dataset"`
	Timestamp time.Time         `json:"timestamp"`
	Group     map[string]string `json:"group"`
	Price     float64           `json:"price"`
	Weight    float64           `json:"weight"`
	Count     int               `json:"count"`
}

// -----------------------------------------------------------------------------

// KafkaPublisher sends merged bars to a topic, keyed by dataset and group so
// every group stays on one partition.
type KafkaPublisher struct {
	writer messageWriter
	Logger *logger.Logger
}

var (
	_ interfaces.IPublisher = (*KafkaPublisher)(nil)
	_ interfaces.IPublisher = NoopPublisher{}
)

// -----------------------------------------------------------------------------

func NewKafkaPublisher(cfg models.MQueueConfig, log *logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: writer, Logger: log}
}

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) PublishBars(ctx context.Context, id models.MDatasetID, bars []models.MBar) error {
	msgs := make([]kafka.Message, 0, min(len(bars), publishBatch))
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish %s: %w", id.Name, err)
		}
		msgs = msgs[:0]
		return nil
	}

	for _, b := range bars {
		value, err := json.Marshal(BarMessage{
			Dataset:   id.Name,
			Timestamp: b.Timestamp.UTC(),
			Group:     b.Group,
			Price:     b.Price,
			Weight:    b.Weight,
			Count:     b.Count,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(id.Name + "/" + b.Group.String()),
			Value: value,
			Time:  b.Timestamp,
		})
		if len(msgs) == publishBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	p.Logger.Debug("Published %d bars of %s", len(bars), id.String())
	return nil
}

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// -----------------------------------------------------------------------------

// NoopPublisher drops everything. Used when the queue is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishBars(context.Context, models.MDatasetID, []models.MBar) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }

// -----------------------------------------------------------------------------

// NewPublisher returns a KafkaPublisher when the queue is enabled.
func NewPublisher(cfg models.MQueueConfig, log *logger.Logger) interfaces.IPublisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return NoopPublisher{}
	}
	log.Info("Publishing bars to %s on %v", cfg.Topic, cfg.Brokers)
	return NewKafkaPublisher(cfg, log)
}
