package chat

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	deliveriesChannel = "chat:deliveries"
	onlineSet         = "chat:online"
)

// Delivery is one frame routed between instances. An empty UserID means
// every live connection except Exclude.
type Delivery struct {
	UserID  string          `json:"userId,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Relay carries deliveries to every instance and mirrors who is online
// anywhere in the cluster.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(ctx context.Context, fn func(Delivery)) error
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Members(ctx context.Context) ([]string, error)
}

type RedisRelay struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, log *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, log: log.Named("relay")}
}

func (r *RedisRelay) Publish(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode delivery")
	}
	return errors.Wrap(r.rdb.Publish(ctx, deliveriesChannel, raw).Err(), "publish delivery")
}

// Subscribe calls fn for every delivery published by any instance,
// including this one, until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Delivery)) error {
	pubsub := r.rdb.Subscribe(ctx, deliveriesChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe to deliveries")
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				r.log.Warn("dropping malformed delivery", zap.Error(err))
				continue
			}
			fn(d)
		}
	}
}

func (r *RedisRelay) MarkOnline(ctx context.Context, userID string) error {
	return errors.Wrap(r.rdb.SAdd(ctx, onlineSet, userID).Err(), "mark online")
}

func (r *RedisRelay) MarkOffline(ctx context.Context, userID string) error {
	return errors.Wrap(r.rdb.SRem(ctx, onlineSet, userID).Err(), "mark offline")
}

func (r *RedisRelay) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, onlineSet, userID).Result()
	return ok, errors.Wrap(err, "check online")
}

func (r *RedisRelay) Members(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, onlineSet).Result()
	return ids, errors.Wrap(err, "list online")
}
