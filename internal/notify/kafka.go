package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/decoystation/internal/core"
)

const (
	defaultKafkaTopic   = "decoy-registrations"
	defaultBatchSize    = 100
	defaultBatchTimeout = 10 * time.Millisecond
)

type kafkaOptions struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4|zstd
}

func parseKafkaOptions(options map[string]any) (kafkaOptions, error) {
	opts := kafkaOptions{
		Topic:        defaultKafkaTopic,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
	if err := decodeOptions(options, &opts); err != nil {
		return opts, err
	}
	if len(opts.Brokers) == 0 {
		return opts, fmt.Errorf("%w: kafka brokers are required", core.ErrConfigInvalid)
	}
	if opts.Topic == "" {
		return opts, fmt.Errorf("%w: kafka topic is empty", core.ErrConfigInvalid)
	}
	return opts, nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("%w: invalid compression type %q", core.ErrConfigInvalid, name)
}

// KafkaPublisher writes registrations through an async kafka writer.
// Delivery failures are reported by the writer's completion callback.
type KafkaPublisher struct {
	writer *kafka.Writer
	failed atomic.Uint64
}

func newKafka(options map[string]any) (Notifier, error) {
	opts, err := parseKafkaOptions(options)
	if err != nil {
		return nil, err
	}
	codec, err := compressionCodec(opts.Compression)
	if err != nil {
		return nil, err
	}

	p := &KafkaPublisher{}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    opts.BatchSize,
		BatchTimeout: opts.BatchTimeout,
		Compression:  codec,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.failed.Add(uint64(len(messages)))
				slog.Warn("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}
	slog.Info("kafka notifier ready", "brokers", opts.Brokers, "topic", opts.Topic)
	return p, nil
}

// Publish enqueues msg. The writer keeps the slice, so it is copied.
func (p *KafkaPublisher) Publish(msg []byte) error {
	value := append([]byte(nil), msg...)
	m := kafka.Message{Value: value}
	if len(value) >= 16 {
		m.Key = value[:16] // seed
	}
	return p.writer.WriteMessages(context.Background(), m)
}

// Failed returns the number of messages the writer reported as undeliverable.
func (p *KafkaPublisher) Failed() uint64 { return p.failed.Load() }

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
