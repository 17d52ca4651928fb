/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one console node to run shared maintenance
// when several nodes point at the same audit store.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/telemetry"
)

const (
	defaultElectionKey     = "stagehand:leader:maintenance"
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
)

// releaseScript deletes the key only while we still own it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Config configures the lease.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Key string

	// LeaseDuration is how long the lease survives without renewal.
	LeaseDuration time.Duration

	// RenewalInterval is how often the holder renews and followers retry.
	RenewalInterval time.Duration

	InstanceID string
}

// DefaultConfig returns the default lease settings.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		Key:             defaultElectionKey,
		LeaseDuration:   defaultLeaseDuration,
		RenewalInterval: defaultRenewalInterval,
		InstanceID:      uuid.New().String(),
	}
}

// Election holds a Redis lease with SET NX and renews it while held.
type Election struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger

	leader atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewElection connects to Redis. It fails when Redis cannot be pinged.
func NewElection(cfg Config, logger zerolog.Logger) (*Election, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return newElection(client, cfg, logger), nil
}

func newElection(client *redis.Client, cfg Config, logger zerolog.Logger) *Election {
	def := DefaultConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = def.LeaseDuration
	}
	if cfg.RenewalInterval <= 0 {
		cfg.RenewalInterval = def.RenewalInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = def.InstanceID
	}
	return &Election{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "leader_election").Str("instance_id", cfg.InstanceID).Logger(),
	}
}

// Start campaigns until ctx ends or Stop is called.
func (e *Election) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	e.logger.Info().Dur("lease", e.cfg.LeaseDuration).Msg("starting leader election")
	go e.campaign(ctx)
}

// Stop ends the campaign, releases a held lease and closes the client.
func (e *Election) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if e.leader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.Key}, e.cfg.InstanceID).Err(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to release lease")
		}
		e.setLeader(false)
	}
	return e.client.Close()
}

// IsLeader reports whether this node currently holds the lease.
func (e *Election) IsLeader() bool {
	return e.leader.Load()
}

// Leader returns the instance holding the lease, or "" when nobody does.
func (e *Election) Leader(ctx context.Context) (string, error) {
	id, err := e.client.Get(ctx, e.cfg.Key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return id, nil
}

func (e *Election) campaign(ctx context.Context) {
	defer close(e.done)

	e.attempt(ctx)
	ticker := time.NewTicker(e.cfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

func (e *Election) attempt(ctx context.Context) {
	held, err := e.acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Msg("lease attempt failed")
		}
		e.setLeader(false)
		return
	}
	e.setLeader(held)
}

// acquire takes a free lease or renews one we already hold.
func (e *Election) acquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.cfg.Key, e.cfg.InstanceID, e.cfg.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.cfg.Key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lease: %w", err)
	}
	if holder != e.cfg.InstanceID {
		return false, nil
	}
	if err := e.client.Expire(ctx, e.cfg.Key, e.cfg.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) setLeader(leader bool) {
	if e.leader.Swap(leader) == leader {
		return
	}
	if leader {
		e.logger.Info().Msg("acquired maintenance lease")
		telemetry.LeaderElectionStatus.WithLabelValues(e.cfg.InstanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.cfg.InstanceID, "acquired").Inc()
		return
	}
	e.logger.Warn().Msg("lost maintenance lease")
	telemetry.LeaderElectionStatus.WithLabelValues(e.cfg.InstanceID).Set(0)
	telemetry.LeaderElectionChanges.WithLabelValues(e.cfg.InstanceID, "lost").Inc()
}
