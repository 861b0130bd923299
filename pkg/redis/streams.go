package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMessage represents a message read from a Redis Stream
type StreamMessage struct {
	ID      string
	Stream  string
	Payload map[string]interface{}
}

// Streams provides Redis Streams operations for the job queue
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish adds a payload to a stream
func (s *Streams) Publish(ctx context.Context, stream string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	result, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}
	return result, nil
}

// CreateConsumerGroup creates a consumer group for a stream
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads messages from a stream using a consumer group
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err == redis.Nil {
		return nil, nil // No messages
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		for _, msg := range result.Messages {
			data, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}

			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				s.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal message %s", msg.ID)
				continue
			}

			messages = append(messages, StreamMessage{
				ID:      msg.ID,
				Stream:  result.Stream,
				Payload: payload,
			})
		}
	}

	return messages, nil
}

// Ack acknowledges a message
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}
