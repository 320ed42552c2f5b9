package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/fit-analyzer/internal/logger"
)

const defaultRedisPrefix = "fit-analyzer:job:"

// RedisConfig selects the Redis deployment backing a RedisStore.
type RedisConfig struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore keeps jobs as JSON values. Conditional writes run inside
// WATCH transactions.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	job.Version = 0
	stamp(job, s.now())

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.Token, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(job.Token), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.Token, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (*Job, error) {
	return s.read(ctx, s.client, token)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, token string) (*Job, error) {
	payload, err := c.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", token, err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", token, err)
	}
	return &job, nil
}

func (s *RedisStore) Replace(ctx context.Context, job *Job) error {
	return s.swap(ctx, job, func(current *Job) error {
		job.Version = current.Version
		return nil
	})
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, expected int64, job *Job) error {
	return s.swap(ctx, job, func(current *Job) error {
		if current.Version != expected {
			return ErrVersionMismatch
		}
		job.Version = expected
		return nil
	})
}

// swap writes job if check accepts the stored record. A transaction
// aborted by a concurrent write is retried for Replace and reported as a
// version mismatch for CompareAndSwap through check.
func (s *RedisStore) swap(ctx context.Context, job *Job, check func(current *Job) error) error {
	key := s.key(job.Token)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.read(ctx, tx, job.Token)
			if err != nil {
				return err
			}
			if err := check(current); err != nil {
				return err
			}

			next := job.Clone()
			stamp(next, s.now())
			payload, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode job %s: %w", job.Token, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}

			job.Version = next.Version
			job.UpdatedAt = next.UpdatedAt
			job.CreatedAt = next.CreatedAt
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("job write raced, retrying", zap.String(logger.FieldJobToken, job.Token), zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}

	return ErrVersionMismatch
}
