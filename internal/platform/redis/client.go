// Package redis connects the go-redis client shared by the redis storage
// backend and the rate limiter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"beacon/internal/platform/config"
)

const healthTimeout = 2 * time.Second

// Client embeds the go-redis client.
type Client struct {
	*redis.Client
}

// New parses cfg.URL, applies the pool settings that are set and pings once.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &Client{Client: client}, nil
}

// Health pings with a short deadline so /healthz does not hang on a stuck pool.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return c.Ping(ctx).Err()
}

// RegisterPoolMetrics exposes the connection pool counters on reg.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer) {
	gauge := func(name, help string, read func(*redis.PoolStats) uint32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(read(c.PoolStats()))
		})
	}
	counter := func(name, help string, read func(*redis.PoolStats) uint32) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(read(c.PoolStats()))
		})
	}
	reg.MustRegister(
		gauge("beacon_redis_pool_conns", "Open connections in the redis pool",
			func(s *redis.PoolStats) uint32 { return s.TotalConns }),
		gauge("beacon_redis_pool_idle_conns", "Idle connections in the redis pool",
			func(s *redis.PoolStats) uint32 { return s.IdleConns }),
		counter("beacon_redis_pool_timeouts_total", "Times a caller waited too long for a pooled connection",
			func(s *redis.PoolStats) uint32 { return s.Timeouts }),
		counter("beacon_redis_pool_misses_total", "Times the pool had no free connection",
			func(s *redis.PoolStats) uint32 { return s.Misses }),
	)
}
