package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
)

const (
	redisStreamPrefix = "tourdesk:changes:"
	redisStreamMaxLen = 10000
	redisBlockTime    = 2 * time.Second
)

// RedisStream carries change events over Redis Streams, one stream per table.
// Every subscriber reads the whole stream so each replica sees every event.
type RedisStream struct {
	client *redis.Client
	block  time.Duration
}

func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{client: client, block: redisBlockTime}
}

var (
	_ ChangeStream = (*RedisStream)(nil)
	_ Publisher    = (*RedisStream)(nil)
)

// StreamName returns the Redis key holding a table's events
func StreamName(table string) string {
	return redisStreamPrefix + table
}

// Publish appends ev to the table's stream (XADD with approximate trimming)
func (s *RedisStream) Publish(ctx context.Context, ev entities.ChangeEvent) error {
	data, err := entities.EncodeChangeEvent(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: StreamName(ev.Table),
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return Unavailable(fmt.Errorf("failed to add to stream: %w", err))
	}
	return nil
}

// Subscribe reads new entries from the table's stream until ctx ends or
// Redis fails
func (s *RedisStream) Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error) {
	// Only events published after subscribing are delivered
	lastID := "0-0"
	latest, err := s.client.XRevRangeN(ctx, StreamName(table), "+", "-", 1).Result()
	if err != nil {
		return nil, SubscribeFailed(err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	sub := newSubscription(ctx)
	go s.consume(sub, table, filter, lastID)
	return sub, nil
}

func (s *RedisStream) consume(sub *subscription, table string, filter Filter, lastID string) {
	stream := StreamName(table)

	for {
		streams, err := s.client.XRead(sub.ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   100,
			Block:   s.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			sub.finish(SubscribeFailed(err))
			return
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				lastID = msg.ID

				data, ok := msg.Values["data"].(string)
				if !ok {
					logging.Warn("Invalid change message format", "stream", stream, "id", msg.ID)
					continue
				}
				ev, err := entities.DecodeChangeEvent([]byte(data))
				if err != nil {
					logging.Warn("Failed to decode change message", "stream", stream, "id", msg.ID, "error", err.Error())
					continue
				}
				if !filter.Matches(ev) {
					continue
				}
				if !sub.deliver(ev) {
					sub.finish(nil)
					return
				}
			}
		}
	}
}

// StreamLength returns the number of retained entries for a table
func (s *RedisStream) StreamLength(ctx context.Context, table string) (int64, error) {
	length, err := s.client.XLen(ctx, StreamName(table)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stream length: %w", err)
	}
	return length, nil
}
