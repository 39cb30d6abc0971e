package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const runKeyPrefix = "run:"

// RedisConfig carries connection settings for the redis-backed store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Timeout  time.Duration
}

// Conn opens a redis client and verifies it with a ping.
func Conn(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		DialTimeout: timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// redisRunRepository implements RunRepository using Redis
type redisRunRepository struct {
	client *redis.Client
}

func NewRedisRunRepository(client *redis.Client) RunRepository {
	return &redisRunRepository{client: client}
}

func (r *redisRunRepository) SaveRun(ctx context.Context, run RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, runKeyPrefix+run.ID, data, 0).Err()
}

func (r *redisRunRepository) GetRun(ctx context.Context, id string) (RunRecord, error) {
	val, err := r.client.Get(ctx, runKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	var run RunRecord
	if err := json.Unmarshal([]byte(val), &run); err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

func (r *redisRunRepository) GetAllRuns(ctx context.Context) ([]RunRecord, error) {
	keys, err := r.client.Keys(ctx, runKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	var runs []RunRecord
	for _, key := range keys {
		val, err := r.client.Get(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		var run RunRecord
		if err := json.Unmarshal([]byte(val), &run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (r *redisRunRepository) DeleteRun(ctx context.Context, id string) error {
	err := r.client.Del(ctx, runKeyPrefix+id).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
