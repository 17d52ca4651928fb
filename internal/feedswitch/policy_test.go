package feedswitch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/obs"
)

// calls records remote calls across both fakes in order.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.log = append(c.log, s)
	c.mu.Unlock()
}

func (c *calls) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type fakeFeed struct {
	calls    *calls
	safe     bool
	settings obs.SourceSettings
	written  obs.SourceSettings
}

func (f *fakeFeed) TransitionSafe() bool { return f.safe }

func (f *fakeFeed) SourceSettings(context.Context, string) (obs.SourceSettings, error) {
	f.calls.add("primary.get")
	return f.settings.Clone(), nil
}

func (f *fakeFeed) SetSourceSettings(_ context.Context, _ string, s obs.SourceSettings) error {
	f.calls.add("primary.set")
	f.written = s
	return nil
}

type fakeEncoder struct {
	calls   *calls
	stopErr error
	server  string
	key     string
}

func (e *fakeEncoder) StopStreaming(context.Context) error {
	e.calls.add("secondary.stop")
	return e.stopErr
}

func (e *fakeEncoder) StartStreamingTo(_ context.Context, server, key string) error {
	e.calls.add("secondary.start")
	e.server, e.key = server, key
	return nil
}

func newPolicy(feed *fakeFeed, enc *fakeEncoder, bus *events.Bus) *Policy {
	var secondary Encoder
	if enc != nil {
		secondary = enc
	}
	return NewPolicy(Options{
		Room:                "Main",
		FeedSource:          "RTMP stream",
		RTMPBase:            "rtmp://ingest/live/",
		ConfirmationTimeout: time.Second,
	}, feed, secondary, bus, zerolog.Nop())
}

func TestSafeSwitchAppliesImmediately(t *testing.T) {
	c := &calls{}
	feed := &fakeFeed{calls: c, safe: true, settings: obs.SourceSettings{"input": "rtmp://old", "buffering_mb": 2}}
	p := newPolicy(feed, nil, events.NewBus())

	outcome, err := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "abc"})
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
	if feed.written["input"] != "rtmp://ingest/live/abc" || feed.written["is_local_file"] != false {
		t.Errorf("written = %v", feed.written)
	}
	if feed.written["buffering_mb"] != 2 {
		t.Error("existing settings were not carried over")
	}
	if feed.settings["input"] != "rtmp://old" {
		t.Error("source settings mutated in place")
	}
}

func TestUnsafeSwitchWaitsForConfirmation(t *testing.T) {
	c := &calls{}
	feed := &fakeFeed{calls: c, settings: obs.SourceSettings{}}
	enc := &fakeEncoder{calls: c}
	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindConfirmationRequested}})
	defer sub.Close()
	p := newPolicy(feed, enc, bus)

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "zoom1", Secondary: true})
		done <- result{o, err}
	}()

	var id string
	select {
	case n := <-sub.C:
		id = n.Payload.(events.ConfirmationRequested).ID
	case <-time.After(time.Second):
		t.Fatal("no confirmation requested")
	}
	if got := c.get(); len(got) != 0 {
		t.Fatalf("remote calls before confirmation: %v", got)
	}
	if pend, ok := p.Pending(); !ok || pend.ID != id {
		t.Fatalf("pending = %+v, %v", pend, ok)
	}

	if err := p.Resolve(id, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r := <-done
	if r.err != nil || r.outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, err = %v", r.outcome, r.err)
	}

	want := []string{"secondary.stop", "secondary.start", "primary.get", "primary.set"}
	got := c.get()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
	if enc.server != "rtmp://ingest/live" || enc.key != "zoom1" {
		t.Errorf("secondary destination = %s / %s", enc.server, enc.key)
	}
	if _, ok := p.Pending(); ok {
		t.Error("slot not cleared after resolution")
	}
}

func TestDeclinedSwitchTouchesNothing(t *testing.T) {
	c := &calls{}
	feed := &fakeFeed{calls: c, settings: obs.SourceSettings{}}
	enc := &fakeEncoder{calls: c}
	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindConfirmationRequested}})
	defer sub.Close()
	p := newPolicy(feed, enc, bus)

	done := make(chan Outcome, 1)
	go func() {
		o, _ := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "zoom1", Secondary: true})
		done <- o
	}()
	n := <-sub.C
	if err := p.Resolve(n.Payload.(events.ConfirmationRequested).ID, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if o := <-done; o != OutcomeDeclined {
		t.Errorf("outcome = %s, want declined", o)
	}
	if got := c.get(); len(got) != 0 {
		t.Errorf("declined switch made calls: %v", got)
	}
}

func TestSecondRequestWhilePendingIsRejected(t *testing.T) {
	c := &calls{}
	feed := &fakeFeed{calls: c, settings: obs.SourceSettings{}}
	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindConfirmationRequested}})
	defer sub.Close()
	p := newPolicy(feed, nil, bus)

	done := make(chan Outcome, 1)
	go func() {
		o, _ := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "first"})
		done <- o
	}()
	n := <-sub.C
	first := n.Payload.(events.ConfirmationRequested).ID

	o, err := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "second"})
	if !errors.Is(err, ErrConfirmationPending) || o != OutcomeRejected {
		t.Fatalf("second request: %s, %v", o, err)
	}
	if pend, _ := p.Pending(); pend.ID != first {
		t.Error("second request replaced the pending confirmation")
	}

	if err := p.Resolve(first, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if o := <-done; o != OutcomeApplied {
		t.Errorf("first outcome = %s", o)
	}
	if feed.written["input"] != "rtmp://ingest/live/first" {
		t.Errorf("feed = %v", feed.written)
	}
}

func TestConfirmationExpiresWithContext(t *testing.T) {
	c := &calls{}
	feed := &fakeFeed{calls: c, settings: obs.SourceSettings{}}
	p := newPolicy(feed, nil, events.NewBus())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	o, err := p.RequestSwitch(ctx, models.FeedTarget{LocalFile: "/prerec/a.mp4"})
	if err != nil || o != OutcomeExpired {
		t.Fatalf("outcome = %s, err = %v", o, err)
	}
	if _, ok := p.Pending(); ok {
		t.Error("expired confirmation still pending")
	}
	if err := p.Resolve("anything", true); !errors.Is(err, ErrNoPendingConfirmation) {
		t.Errorf("Resolve err = %v", err)
	}
	if got := c.get(); len(got) != 0 {
		t.Errorf("expired switch made calls: %v", got)
	}
}

func TestSecondaryStopErrors(t *testing.T) {
	tests := []struct {
		name    string
		stopErr error
		wantErr bool
	}{
		{"not streaming is benign", &obs.RequestError{RequestType: "StopStreaming", Message: "streaming not active"}, false},
		{"other request error", &obs.RequestError{RequestType: "StopStreaming", Message: "encoder exploded"}, true},
		{"transport error", errors.New("socket closed"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &calls{}
			feed := &fakeFeed{calls: c, safe: true, settings: obs.SourceSettings{}}
			enc := &fakeEncoder{calls: c, stopErr: tt.stopErr}
			p := newPolicy(feed, enc, events.NewBus())

			o, err := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "z", Secondary: true})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				if o != OutcomeFailed {
					t.Errorf("outcome = %s", o)
				}
				if got := c.get(); len(got) != 1 {
					t.Errorf("pipeline continued after failure: %v", got)
				}
			}
		})
	}
}

func TestLocalFileTarget(t *testing.T) {
	c := &calls{}
	feed := &fakeFeed{calls: c, safe: true, settings: obs.SourceSettings{"input": "rtmp://x"}}
	p := newPolicy(feed, nil, events.NewBus())

	if _, err := p.RequestSwitch(context.Background(), models.FeedTarget{LocalFile: "/prerec/a.mp4"}); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if feed.written["is_local_file"] != true || feed.written["local_file"] != "/prerec/a.mp4" {
		t.Errorf("written = %v", feed.written)
	}
}

func TestInvalidTargets(t *testing.T) {
	p := newPolicy(&fakeFeed{calls: &calls{}, safe: true}, nil, events.NewBus())
	if _, err := p.RequestSwitch(context.Background(), models.FeedTarget{}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("empty target err = %v", err)
	}
	if _, err := p.RequestSwitch(context.Background(), models.FeedTarget{StreamKey: "z", Secondary: true}); !errors.Is(err, ErrNoSecondary) {
		t.Errorf("secondary target err = %v", err)
	}

	c := &calls{}
	enc := &fakeEncoder{calls: c}
	withZoom := newPolicy(&fakeFeed{calls: c, safe: true}, enc, events.NewBus())
	for _, target := range []models.FeedTarget{
		{URL: "rtmp://elsewhere/live/x", Secondary: true},
		{LocalFile: "/media/standby.mp4", Secondary: true},
		{StreamKey: "z", URL: "rtmp://elsewhere/live/x", Secondary: true},
		{StreamKey: "z", LocalFile: "/media/standby.mp4", Secondary: true},
	} {
		outcome, err := withZoom.RequestSwitch(context.Background(), target)
		if !errors.Is(err, ErrInvalidTarget) || outcome != OutcomeRejected {
			t.Errorf("%+v: outcome = %s, err = %v", target, outcome, err)
		}
	}
	if got := c.get(); len(got) != 0 {
		t.Errorf("rejected secondary targets made calls %v", got)
	}
	if enc.key != "" {
		t.Errorf("encoder restarted with key %q", enc.key)
	}
}

func TestExpiryLosesToConcurrentResolve(t *testing.T) {
	p := newPolicy(&fakeFeed{calls: &calls{}}, nil, events.NewBus())

	pend := &pending{Confirmation: Confirmation{ID: "c1"}, decide: make(chan bool, 1)}
	p.pending = pend
	if err := p.Resolve("c1", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := p.expire(pend); got != OutcomeApplied {
		t.Errorf("outcome after resolve = %s, want applied", got)
	}

	pend = &pending{Confirmation: Confirmation{ID: "c2"}, decide: make(chan bool, 1)}
	p.pending = pend
	if got := p.expire(pend); got != OutcomeExpired {
		t.Errorf("outcome = %s, want expired", got)
	}
	if _, ok := p.Pending(); ok {
		t.Error("slot not cleared on expiry")
	}
	if err := p.Resolve("c2", true); !errors.Is(err, ErrNoPendingConfirmation) {
		t.Errorf("resolve after expiry = %v", err)
	}
}
