package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zion-network/zminer/internal/stats"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyTTL bounds how long a stale miner entry survives.
	KeyTTL time.Duration
}

// RedisSink keeps a live per-miner stats hash that dashboards read.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink connects and pings Redis.
func NewRedisSink(cfg *RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	ttl := cfg.KeyTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSink{client: client, ttl: ttl}, nil
}

// PublishSnapshot writes the miner's live stats under miner:<worker>.
func (s *RedisSink) PublishSnapshot(ctx context.Context, worker string, fs stats.FileSnapshot) error {
	key := "miner:" + worker

	fields := map[string]interface{}{
		"updated_at":      fs.UpdatedAt,
		"algorithm":       fs.Algorithm,
		"state":           fs.State,
		"hashrate":        fs.Hashrate,
		"cpu_hashrate":    fs.CPUHashrate,
		"gpu_hashrate":    fs.GPUHashrate,
		"shares_sent":     fs.SharesSent,
		"shares_accepted": fs.SharesAccepted,
		"shares_rejected": fs.SharesRejected,
		"accept_rate":     fs.AcceptRate,
		"gpu_enabled":     fs.GPUEnabled,
		"job_id":          fs.JobID,
		"height":          fs.Height,
		"difficulty":      fs.Difficulty,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish miner snapshot: %w", err)
	}
	return nil
}

// Close shuts the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
