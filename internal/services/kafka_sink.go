package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meme-coin-aggregator/internal/config"
	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes changed tokens to a topic, one message per token
// keyed by address so a token's updates stay on one partition.
type KafkaSink struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	logger       *logger.Logger
}

// NewKafkaSink returns a sink for cfg, or nil when no brokers are configured
func NewKafkaSink(cfg config.KafkaConfig, log *logger.Logger) *KafkaSink {
	if !cfg.Enabled() {
		return nil
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Named("kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error("Kafka writer error", zap.String("message", fmt.Sprintf(msg, args...)))
		}),
	}

	log.Info("Kafka sink initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return newKafkaSink(writer, cfg.Topic, cfg.WriteTimeout, log)
}

func newKafkaSink(w messageWriter, topic string, writeTimeout time.Duration, log *logger.Logger) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, writeTimeout: writeTimeout, logger: log}
}

// PublishUpdate writes every changed token in one batch
func (k *KafkaSink) PublishUpdate(ctx context.Context, changed []models.Token) error {
	if len(changed) == 0 {
		return nil
	}

	now := time.Now()
	messages := make([]kafka.Message, 0, len(changed))
	for i := range changed {
		value, err := json.Marshal(&changed[i])
		if err != nil {
			k.logger.Warn("Skipping unencodable token", zap.String("address", changed[i].Address), zap.Error(err))
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(changed[i].Key()),
			Value: value,
			Time:  now,
			Headers: []kafka.Header{
				{Key: "content-type", Value: []byte("application/json")},
				{Key: "event", Value: []byte(models.EventTokenUpdate)},
			},
		})
	}

	if k.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.writeTimeout)
		defer cancel()
	}

	if err := k.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("publish %d updates to %s: %w", len(messages), k.topic, err)
	}

	k.logger.Debug("Published token updates", zap.Int("count", len(messages)))
	return nil
}

// Close flushes pending messages and closes the writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
