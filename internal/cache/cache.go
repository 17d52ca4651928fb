/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps the last good liveness and schedule snapshots in Redis
// so a restarted console has something to show while backends are down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/models"
)

// Default TTL values for different snapshot types
const (
	DefaultStreamsTTL  = 24 * time.Hour
	DefaultScheduleTTL = 7 * 24 * time.Hour
)

// Key names for Redis cache
const (
	KeyStreams  = "stagehand:cache:streams"
	KeySchedule = "stagehand:cache:schedule"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	StreamsTTL  time.Duration
	ScheduleTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		StreamsTTL:     DefaultStreamsTTL,
		ScheduleTTL:    DefaultScheduleTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed snapshots with graceful fallback. A disabled
// cache accepts saves silently and loads nothing.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.StreamsTTL <= 0 {
		cfg.StreamsTTL = DefaultStreamsTTL
	}
	if cfg.ScheduleTTL <= 0 {
		cfg.ScheduleTTL = DefaultScheduleTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without snapshots")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// SaveStreams stores the liveness mapping.
func (c *Cache) SaveStreams(ctx context.Context, streams map[string]models.Stream) error {
	return c.set(ctx, KeyStreams, streams, c.config.StreamsTTL)
}

// LoadStreams returns the stored liveness mapping, or nil when none is stored.
func (c *Cache) LoadStreams(ctx context.Context) (map[string]models.Stream, error) {
	var streams map[string]models.Stream
	found, err := c.get(ctx, KeyStreams, &streams)
	if err != nil || !found {
		return nil, err
	}
	c.logger.Debug().Int("count", len(streams)).Msg("streams cache hit")
	return streams, nil
}

// SaveSchedule stores the schedule.
func (c *Cache) SaveSchedule(ctx context.Context, s *models.Schedule) error {
	if s == nil {
		return nil
	}
	return c.set(ctx, KeySchedule, s, c.config.ScheduleTTL)
}

// LoadSchedule returns the stored schedule, or nil when none is stored.
func (c *Cache) LoadSchedule(ctx context.Context) (*models.Schedule, error) {
	var s models.Schedule
	found, err := c.get(ctx, KeySchedule, &s)
	if err != nil || !found {
		return nil, err
	}
	c.logger.Debug().Int("rooms", len(s.Rooms)).Msg("schedule cache hit")
	return &s, nil
}

// Invalidate drops both snapshots.
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, KeyStreams, KeySchedule).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
