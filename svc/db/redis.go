package db

import (
	"context"
	"time"

	"pastevault/cfg"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// contentTTL bounds how long content bytes live in Redis. The bytes are
// immutable for a given key, so the TTL only controls memory pressure,
// never staleness.
const contentTTL = 1 * time.Hour

// Redis is the shared second-tier content cache. Like the in-process
// LRU it stores only blob bytes keyed by "<id>/<hash>"; paste metadata
// never enters it.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(url string, cfg *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if cfg.RedisUsername != "" {
		opt.Username = cfg.RedisUsername
	}
	if cfg.RedisPassword.Value() != "" {
		opt.Password = cfg.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{
		client:  client,
		timeout: cfg.RedisTimeout,
	}, nil
}

func (r *Redis) SetContent(ctx context.Context, key string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Set(ctx, "content:"+key, content, contentTTL).Err(), "set content")
}

// GetContent returns nil bytes and nil error on a cache miss.
func (r *Redis) GetContent(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, "content:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get content")
	}
	return data, nil
}

func (r *Redis) DeleteContent(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, "content:"+key).Err(); err != nil {
		return errors.Wrap(err, "delete content")
	}
	return nil
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
