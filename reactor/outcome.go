package reactor

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// OutcomeNotifier is told about the outcome of every submission
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, outcome *SubmissionOutcome) error
}

// RedisOutcomeBackend publishes outcomes as json on a redis pub/sub channel
type RedisOutcomeBackend struct {
	client     *redis.Client
	pubChannel string
}

func NewRedisOutcomeBackend(redisClient *redis.Client, pubChannel string) *RedisOutcomeBackend {
	return &RedisOutcomeBackend{
		client:     redisClient,
		pubChannel: pubChannel,
	}
}

func (b *RedisOutcomeBackend) NotifyOutcome(ctx context.Context, outcome *SubmissionOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.pubChannel, data).Err()
}
