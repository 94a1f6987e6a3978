package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	presenceKey       = "chat:online"
	activeSessionsKey = "chat:sessions:active"
	totalSessionsKey  = "chat:sessions:total"
	sessionKeyPrefix  = "chat:session:"
)

// Store mirrors presence and session statistics into Redis. Matchmaking
// state itself stays in memory; Redis failures are logged and never
// affect pairing.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

// Connect initializes the Redis client
func Connect(cfg config.RedisConfig, log logrus.FieldLogger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStore(client, cfg.PresenceTTL, log), nil
}

func NewStore(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Store {
	return &Store{client: client, ttl: ttl, log: log}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// MarkOnline adds the peer to the presence set and refreshes its TTL.
func (s *Store) MarkOnline(ctx context.Context, peerID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, presenceKey, peerID)
	pipe.Expire(ctx, presenceKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (s *Store) MarkOffline(ctx context.Context, peerID string) error {
	if err := s.client.SRem(ctx, presenceKey, peerID).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

// SessionStarted records the session hash and bumps the lifetime counter.
func (s *Store) SessionStarted(ctx context.Context, rec models.SessionRecord) {
	key := sessionKeyPrefix + rec.ID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"caller":    rec.Caller,
		"callee":    rec.Callee,
		"startedAt": rec.StartedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, s.ttl)
	pipe.SAdd(ctx, activeSessionsKey, rec.ID)
	pipe.Incr(ctx, totalSessionsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.WithError(err).WithField("session", rec.ID).Warn("Failed to record session start")
	}
}

func (s *Store) SessionEnded(ctx context.Context, rec models.SessionRecord) {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+rec.ID)
	pipe.SRem(ctx, activeSessionsKey, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.WithError(err).WithField("session", rec.ID).Warn("Failed to record session end")
	}
}

// Counters returns the presence set size and the lifetime session count.
func (s *Store) Counters(ctx context.Context) (online, total int64, err error) {
	online, err = s.client.SCard(ctx, presenceKey).Result()
	if err != nil {
		return 0, 0, err
	}
	total, err = s.client.Get(ctx, totalSessionsKey).Int64()
	if errors.Is(err, redis.Nil) {
		return online, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return online, total, nil
}
