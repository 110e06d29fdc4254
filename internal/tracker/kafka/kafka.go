// Package kafka publishes tracker calls to a Kafka topic, keyed by visitor id so
// one visitor's calls stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"beacon/internal/tracker"
)

// Config for the producer.
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
}

// Producer is a tracker.Tracker backed by an async franz-go client.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// NewProducer wraps an existing client. The topic must exist.
func NewProducer(client *kgo.Client, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{client: client, topic: topic, logger: logger, now: time.Now}
}

// Loader connects to the brokers, makes sure the topic exists and returns a
// Producer.
func Loader(cfg Config, logger *slog.Logger) tracker.Loader {
	return func(ctx context.Context) (tracker.Tracker, error) {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.DefaultProduceTopic(cfg.Topic),
			kgo.ProducerLinger(50*time.Millisecond),
			kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
		)
		if err != nil {
			return nil, fmt.Errorf("create kafka client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping kafka: %w", err)
		}
		if err := EnsureTopic(ctx, kadm.NewClient(client), cfg); err != nil {
			client.Close()
			return nil, err
		}
		return NewProducer(client, cfg.Topic, logger), nil
	}
}

// EnsureTopic creates the topic when it does not exist yet.
func EnsureTopic(ctx context.Context, admin *kadm.Client, cfg Config) error {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = -1
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = -1
	}
	resp, err := admin.CreateTopic(ctx, partitions, replication, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", cfg.Topic, resp.Err)
	}
	return nil
}

func (p *Producer) Configure(ctx context.Context, measurementID string, params tracker.Params) error {
	return p.produce(ctx, tracker.NewCommand(tracker.KindConfig, measurementID, params, p.now()))
}

func (p *Producer) SendEvent(ctx context.Context, name string, params tracker.Params) error {
	return p.produce(ctx, tracker.NewCommand(tracker.KindEvent, name, params, p.now()))
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	return nil
}

// produce never waits for the broker; delivery failures are logged from the
// promise.
func (p *Producer) produce(ctx context.Context, cmd tracker.Command) error {
	record, err := Record(p.topic, cmd)
	if err != nil {
		return err
	}
	p.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("kafka delivery failed",
				"topic", r.Topic,
				"target", cmd.Target,
				"error", err,
			)
		}
	})
	return nil
}

// Record encodes cmd as a Kafka record.
func Record(topic string, cmd tracker.Command) (*kgo.Record, error) {
	value, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode tracker command: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(cmd.VisitorID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(cmd.Kind)},
		},
		Timestamp: cmd.Timestamp,
	}, nil
}
