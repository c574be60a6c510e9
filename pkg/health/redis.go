package health

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisConnection is the subset of *redis.Client used by the probe.
type redisConnection interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// OpenRedisFunc opens a client; replaced in tests.
type OpenRedisFunc func(options *redis.Options) redisConnection

func openRedisClient(options *redis.Options) redisConnection {
	return redis.NewClient(options)
}

// RedisProbe sends PING over a client kept open between attempts.
type RedisProbe struct {
	options *redis.Options
	open    OpenRedisFunc

	mu     sync.Mutex
	client redisConnection
}

// NewRedisProbe accepts either a host:port address or a redis:// URL.
func NewRedisProbe(address, url string) (*RedisProbe, error) {
	return newRedisProbe(address, url, openRedisClient)
}

func newRedisProbe(address, url string, open OpenRedisFunc) (*RedisProbe, error) {
	var opts *redis.Options
	switch {
	case url != "":
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	case address != "":
		opts = &redis.Options{Addr: address}
	default:
		return nil, errors.New("health redis missing address")
	}
	// A probe attempt is a single ping; retries are the tracker's job.
	opts.MaxRetries = -1
	return &RedisProbe{options: opts, open: open}, nil
}

func (p *RedisProbe) Check(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.client == nil {
		p.client = p.open(p.options)
	}
	client := p.client
	p.mu.Unlock()

	res, err := client.Ping(ctx).Result()
	if err != nil {
		return "", errors.Wrap(err, "redis ping")
	}
	return res, nil
}

func (p *RedisProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
