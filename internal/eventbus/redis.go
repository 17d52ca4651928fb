/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPrefix is the channel prefix for relayed notifications.
const RedisPrefix = "stagehand:events:"

var errRelayDisabled = errors.New("relay disabled after repeated failures")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisPublisher publishes to Redis pub/sub. After MaxFailures consecutive
// errors it stops trying until CheckInterval has passed and a ping succeeds.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger

	mu        sync.Mutex
	disabled  bool
	failCount int
	lastCheck time.Time
}

// NewRedisPublisher connects to Redis.
func NewRedisPublisher(cfg RedisConfig, logger zerolog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis event relay initialized")
	return newRedisPublisher(client, cfg, logger), nil
}

func newRedisPublisher(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisPublisher {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &RedisPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "eventbus_redis").Logger(),
	}
}

// Publish sends data on channel subject.
func (p *RedisPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if !p.available(ctx) {
		return errRelayDisabled
	}
	if err := p.client.Publish(ctx, subject, data).Err(); err != nil {
		p.handleFailure(err)
		return err
	}
	p.mu.Lock()
	p.failCount = 0
	p.mu.Unlock()
	return nil
}

// available reports whether publishing is enabled, probing Redis again once
// the check interval has passed.
func (p *RedisPublisher) available(ctx context.Context) bool {
	p.mu.Lock()
	if !p.disabled {
		p.mu.Unlock()
		return true
	}
	if time.Since(p.lastCheck) < p.cfg.CheckInterval {
		p.mu.Unlock()
		return false
	}
	p.lastCheck = time.Now()
	p.mu.Unlock()

	if err := p.client.Ping(ctx).Err(); err != nil {
		return false
	}

	p.mu.Lock()
	p.disabled = false
	p.failCount = 0
	p.mu.Unlock()
	p.logger.Info().Msg("reconnected to Redis, relay re-enabled")
	return true
}

func (p *RedisPublisher) handleFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failCount++
	if p.failCount >= p.cfg.MaxFailures && !p.disabled {
		p.logger.Warn().Err(err).Int("fail_count", p.failCount).Msg("Redis failure threshold reached, pausing relay")
		p.disabled = true
		p.lastCheck = time.Now()
	}
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
