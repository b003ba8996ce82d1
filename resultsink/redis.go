package resultsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink persists snapshots in Redis. Run data lives under one key per
// run; a sorted set indexed by creation time backs List.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "planweave:"
	}
	return &RedisSink{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisSink) runKey(runID string) string {
	return s.keyPrefix + "run:" + runID
}

func (s *RedisSink) indexKey() string {
	return s.keyPrefix + "runs"
}

func (s *RedisSink) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(snap.RunID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(snap.CreatedAt.UnixNano()),
		Member: snap.RunID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Get(ctx context.Context, runID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSink) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	runIDs, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(runIDs))
	for _, runID := range runIDs {
		snap, err := s.Get(ctx, runID)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
