package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// KafkaConfig configures the Kafka change feed. Each table is read from
// the topic TopicPrefix+table.
type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers" json:"brokers"`
	TopicPrefix string        `yaml:"topic_prefix" json:"topic_prefix"`
	GroupID     string        `yaml:"group_id" json:"group_id"`
	MinBytes    int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes    int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait     time.Duration `yaml:"max_wait" json:"max_wait"`
}

// DefaultKafkaConfig returns local defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:     []string{"localhost:9092"},
		TopicPrefix: "storefwd.changes.",
		GroupID:     "storefwd-realtime",
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	}
}

// Topic returns the topic carrying changes for table.
func (c KafkaConfig) Topic(table string) string {
	return c.TopicPrefix + table
}

// KafkaFeed reads change events from one Kafka topic per table.
type KafkaFeed struct {
	cfg    KafkaConfig
	logger zerolog.Logger
}

// NewKafkaFeed validates cfg and returns a feed. No connection is made until Open.
func NewKafkaFeed(cfg KafkaConfig, logger zerolog.Logger) (*KafkaFeed, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultKafkaConfig().GroupID
	}
	return &KafkaFeed{cfg: cfg, logger: logger.With().Str("feed", "kafka").Logger()}, nil
}

func (f *KafkaFeed) Open(_ context.Context, table string) (core.Subscription, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     f.cfg.Brokers,
		Topic:       f.cfg.Topic(table),
		GroupID:     f.cfg.GroupID,
		MinBytes:    f.cfg.MinBytes,
		MaxBytes:    f.cfg.MaxBytes,
		MaxWait:     f.cfg.MaxWait,
		StartOffset: kafka.LastOffset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &kafkaSub{
		table:  table,
		reader: reader,
		ch:     make(chan core.ChangeEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With().Str("table", table).Str("topic", f.cfg.Topic(table)).Logger(),
	}
	go s.run(ctx)
	return s, nil
}

type kafkaSub struct {
	table  string
	reader *kafka.Reader
	ch     chan core.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
	logger zerolog.Logger
}

func (s *kafkaSub) Events() <-chan core.ChangeEvent { return s.ch }

func (s *kafkaSub) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Error().Err(err).Msg("read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := DecodeEvent(msg.Value, s.table, time.Now())
		if err != nil {
			s.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping malformed change event")
			continue
		}

		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *kafkaSub) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.reader.Close()
		<-s.done
	})
	return s.err
}

// KafkaPublisher writes change events to the per-table topics.
type KafkaPublisher struct {
	writer *kafka.Writer
	cfg    KafkaConfig
}

// NewKafkaPublisher creates a synchronous publisher.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			AllowAutoTopicCreation: true,
		},
		cfg: cfg,
	}, nil
}

// Publish writes ev keyed by entity id so changes to one entity stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev core.ChangeEvent) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: p.cfg.Topic(ev.Table),
		Key:   []byte(ev.EntityID()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "table", Value: []byte(ev.Table)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", ev.Table, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
