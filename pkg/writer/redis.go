package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the Redis Streams implementation of the stream-store. The
// writer owns the only connection pool; workers never touch it.
type RedisStore struct {
	client *redis.Client
	maxLen int64
}

// NewRedisStore connects to the stream-store at url (redis://...) and
// verifies the connection.
func NewRedisStore(ctx context.Context, url string, maxLen int64) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid stream-store url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to stream-store: %w", err)
	}

	return &RedisStore{client: client, maxLen: maxLen}, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AppendBatch implements Appender: one XADD per entry, pipelined, each
// with the approximate MAXLEN trim.
func (s *RedisStore) AppendBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: e.Topic,
			MaxLen: s.maxLen,
			Approx: true,
			ID:     e.ID,
			Values: e.Values,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		if isFatalRedisError(err) {
			return &FatalError{Err: err}
		}
		return fmt.Errorf("pipelined append failed: %w", err)
	}
	return nil
}

// Len returns the current length of a topic's stream.
func (s *RedisStore) Len(ctx context.Context, topic string) (int64, error) {
	return s.client.XLen(ctx, topic).Result()
}

// Message is one entry read back through a consumer group.
type Message struct {
	ID     string
	Values map[string]interface{}
}

// EnsureGroup creates the consumer group at start, creating the stream if
// needed. Re-creating an existing group is not an error.
func (s *RedisStore) EnsureGroup(ctx context.Context, topic, group, start string) error {
	err := s.client.XGroupCreateMkStream(ctx, topic, group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, topic, err)
	}
	return nil
}

// ReadGroup reads up to count pending entries for consumer, blocking up to
// block when the stream is empty.
func (s *RedisStore) ReadGroup(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read group failed: %w", err)
	}

	var out []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			out = append(out, Message{ID: msg.ID, Values: msg.Values})
		}
	}
	return out, nil
}

// Ack acknowledges processed entries for the group.
func (s *RedisStore) Ack(ctx context.Context, topic, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, topic, group, ids...).Err(); err != nil {
		return fmt.Errorf("ack failed: %w", err)
	}
	return nil
}

// isFatalRedisError distinguishes auth and schema failures, which retrying
// cannot fix, from transient connectivity errors.
func isFatalRedisError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"NOAUTH", "WRONGPASS", "NOPERM", "WRONGTYPE"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
