package leadership

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewElectionUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewElection(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestDefaultsApplied(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	e := newElection(client, Config{}, zerolog.Nop())
	defer e.client.Close()

	if e.cfg.Key != defaultElectionKey {
		t.Errorf("key = %q", e.cfg.Key)
	}
	if e.cfg.LeaseDuration != 15*time.Second || e.cfg.RenewalInterval != 5*time.Second {
		t.Errorf("durations = %s/%s", e.cfg.LeaseDuration, e.cfg.RenewalInterval)
	}
	if e.cfg.InstanceID == "" {
		t.Error("instance id not generated")
	}
	if e.IsLeader() {
		t.Error("new election must not be leader")
	}
}

func TestSetLeaderTransitions(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	e := newElection(client, Config{InstanceID: "node-a"}, zerolog.Nop())
	defer e.client.Close()

	e.setLeader(true)
	if !e.IsLeader() {
		t.Fatal("expected leader")
	}
	e.setLeader(false)
	if e.IsLeader() {
		t.Fatal("expected follower")
	}
}
