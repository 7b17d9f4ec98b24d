// Package stream publishes chat events to Kafka for downstream consumers
// (search indexing, analytics, notifications). The live websocket path
// never depends on it.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"shopchat/internal/message"
)

type EventType string

const (
	MessageCreated EventType = "message.created"
	MessagesRead   EventType = "messages.read"
	ChannelCreated EventType = "channel.created"
)

type Event struct {
	Type      EventType        `json:"type"`
	At        time.Time        `json:"at"`
	Message   *message.Message `json:"message,omitempty"`
	ChannelID string           `json:"channelId,omitempty"`
	ReadBy    string           `json:"readBy,omitempty"`
	Sender    string           `json:"sender,omitempty"`
	Count     int64            `json:"count,omitempty"`
}

// Key groups events of one conversation onto one partition so consumers
// see them in order.
func (e Event) Key() string {
	switch {
	case e.Message != nil && e.Message.ChannelID != "":
		return "channel:" + e.Message.ChannelID
	case e.Message != nil:
		return pairKey(e.Message.Sender, e.Message.Recipient)
	case e.ChannelID != "":
		return "channel:" + e.ChannelID
	default:
		return pairKey(e.Sender, e.ReadBy)
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	log = log.Named("stream")
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("event batch not delivered", zap.Int("events", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	return errors.Wrap(err, "write event")
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Tail reads events from topic as part of groupID and hands each one to fn
// until ctx is cancelled.
func Tail(ctx context.Context, brokers []string, topic, groupID string, log *zap.Logger, fn func(Event) error) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()

	for {
		m, err := r.ReadMessage(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warn("read event failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		var e Event
		if err := json.Unmarshal(m.Value, &e); err != nil {
			log.Warn("skipping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		if err := fn(e); err != nil {
			return errors.Wrapf(err, "handle event at offset %d", m.Offset)
		}
	}
}
