package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the change-data-capture topic.
type KafkaConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// KafkaFeed consumes change events from a topic and delivers them to local
// subscribers.
type KafkaFeed struct {
	reader *kafka.Reader
	bus    *Bus
	logger *zerolog.Logger
}

// NewKafkaFeed creates a consumer group reader for cfg.Topic.
func NewKafkaFeed(cfg KafkaConfig, logger *zerolog.Logger) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaFeed{reader: reader, bus: NewBus(), logger: logger}
}

// Subscribe registers a local handler.
func (f *KafkaFeed) Subscribe(table, organizationID string, handler Handler) (func(), error) {
	return f.bus.Subscribe(table, organizationID, handler)
}

// Run reads the topic until ctx is done.
func (f *KafkaFeed) Run(ctx context.Context) {
	defer f.reader.Close()

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Error().Err(err).Msg("kafka read error")
			time.Sleep(1 * time.Second)
			continue
		}

		event, err := DecodeMessage(msg)
		if err != nil {
			f.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("drop malformed change event")
			continue
		}
		_ = f.bus.Publish(ctx, event)
	}
}

// DecodeMessage turns a topic message into a change event. The table header
// wins over an empty table field in the payload.
func DecodeMessage(msg kafka.Message) (ChangeEvent, error) {
	var event ChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if event.Table == "" {
		for _, h := range msg.Headers {
			if h.Key == "table" {
				event.Table = string(h.Value)
			}
		}
	}
	if event.OrganizationID == "" && len(msg.Key) > 0 {
		event.OrganizationID = string(msg.Key)
	}
	if event.Table == "" || event.OrganizationID == "" {
		return ChangeEvent{}, fmt.Errorf("change event missing table or organization")
	}
	return event, nil
}

// KafkaPublisher writes change events keyed by organization so one
// organization's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a writer for cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event ChangeEvent) error {
	Stamp(&event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.OrganizationID),
		Value:   data,
		Headers: []kafka.Header{{Key: "table", Value: []byte(event.Table)}},
		Time:    event.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
