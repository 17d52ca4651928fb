package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	closed   bool
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestRelayForwardsFilteredNotifications(t *testing.T) {
	bus := events.NewBus()
	pub := &recordingPublisher{}
	relay := NewRelay(pub, NATSPrefix, "node-a", events.Filter{Kinds: []events.Kind{events.KindStreamUpdated}}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, bus)
		close(done)
	}()

	// Wait for the relay's subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		bus.Publish("s1", events.StreamUpdated{Stream: models.Stream{Key: "s1", Live: true}})
		bus.Publish("Main", events.SceneChanged{Room: "Main", Scene: "Panel"})
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.subjects) == 0 {
		t.Fatal("nothing relayed")
	}
	for _, s := range pub.subjects {
		if s != "stagehand.events.stream.updated" {
			t.Errorf("unexpected subject %q", s)
		}
	}
	if !pub.closed {
		t.Error("publisher not closed on exit")
	}

	env, err := UnmarshalEnvelope(pub.payloads[0])
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	su, ok := env.Notification.Payload.(events.StreamUpdated)
	if !ok || !su.Stream.Live || env.NodeID != "node-a" || env.MessageID == "" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestNodeIDIsUnique(t *testing.T) {
	if NodeID() == NodeID() {
		t.Error("node ids collide")
	}
}
