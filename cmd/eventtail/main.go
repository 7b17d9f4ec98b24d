// Command eventtail follows the chat event stream and logs each event.
// It is the reference consumer for the Kafka topic the server publishes to.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"shopchat/internal/logger"
	"shopchat/internal/stream"
)

func main() {
	brokers := flag.String("brokers", os.Getenv("KAFKA_BROKERS"), "comma separated kafka brokers")
	topic := flag.String("topic", envOr("KAFKA_TOPIC", "chat-events"), "topic to follow")
	group := flag.String("group", "eventtail", "consumer group id")
	level := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	log := logger.New(*level).Named("eventtail")
	defer log.Sync()

	if *brokers == "" {
		log.Fatal("no brokers given, set -brokers or KAFKA_BROKERS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("following events", zap.String("topic", *topic), zap.String("group", *group))
	err := stream.Tail(ctx, strings.Split(*brokers, ","), *topic, *group, log, func(e stream.Event) error {
		fields := []zap.Field{zap.String("type", string(e.Type)), zap.String("key", e.Key()), zap.Time("at", e.At)}
		switch {
		case e.Message != nil:
			fields = append(fields,
				zap.String("message", e.Message.ID),
				zap.String("sender", e.Message.Sender),
				zap.String("messageType", string(e.Message.Type)))
		case e.Type == stream.MessagesRead:
			fields = append(fields, zap.String("readBy", e.ReadBy), zap.String("sender", e.Sender), zap.Int64("count", e.Count))
		case e.Type == stream.ChannelCreated:
			fields = append(fields, zap.String("channel", e.ChannelID), zap.String("admin", e.Sender))
		}
		log.Info("event", fields...)
		return nil
	})
	if err != nil {
		log.Fatal("tail failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
