package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/pkg/config"
)

// KafkaPublisher writes messages to a topic keyed by channel key.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a synchronous writer. SASL/TLS is used when a username is set.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	if cfg.SASLUsername != "" {
		writer.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: cfg.SASLUsername, Password: cfg.SASLPassword},
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &KafkaPublisher{writer: writer}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.Key), Value: value, Time: msg.PublishedAt}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Key, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaRelay consumes the topic with an instance-unique group and feeds the local hub.
type KafkaRelay struct {
	reader *kafka.Reader
	hub    *Hub
	logger *zap.Logger
}

func NewKafkaRelay(cfg config.KafkaConfig, groupID string, hub *Hub, logger *zap.Logger) *KafkaRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.SASLUsername != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.SASLUsername, Password: cfg.SASLPassword}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		Dialer:      dialer,
	})
	return &KafkaRelay{reader: reader, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *KafkaRelay) Run(ctx context.Context) error {
	defer r.reader.Close() //nolint:errcheck
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("kafka relay read failed", zap.Error(err))
			continue
		}
		r.hub.Deliver(string(m.Key), m.Value)
	}
}
