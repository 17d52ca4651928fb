package liveness

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
)

// fakeTracker serves a snapshot and streams whatever is pushed onto msgs.
type fakeTracker struct {
	mu       sync.Mutex
	snapshot string
	msgs     chan string
	conns    int
}

func newFakeTracker(snapshot string) (*fakeTracker, *httptest.Server) {
	f := &fakeTracker{snapshot: snapshot, msgs: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("password") != "pw" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		f.mu.Lock()
		body := f.snapshot
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/api/stream_updates", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case m, ok := <-f.msgs:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", m)
				w.(http.Flusher).Flush()
			}
		}
	})
	mux.HandleFunc("/api/outputs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"outputs":[{"name":"Main","endpoint":"obs1:4444","key":"main","techStream":"tech1"}]}`)
	})
	return f, httptest.NewServer(mux)
}

func newTracker(srv *httptest.Server, bus *events.Bus) *Tracker {
	return NewTracker(Options{
		BaseURL:        srv.URL,
		Password:       "pw",
		ReconnectDelay: 20 * time.Millisecond,
	}, bus, zerolog.Nop())
}

func TestSnapshotThenPushUpdatesStream(t *testing.T) {
	f, srv := newFakeTracker(`{"streams":{"s1":{"key":"s1","live":false}}}`)
	defer srv.Close()

	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindStreamUpdated}})
	defer sub.Close()

	tr := newTracker(srv, bus)
	if _, ok := tr.Mapping(); ok {
		t.Fatal("mapping must not be ready before Start")
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	f.msgs <- "1|s1"

	select {
	case n := <-sub.C:
		su := n.Payload.(events.StreamUpdated)
		if su.Stream.Key != "s1" || !su.Stream.Live {
			t.Errorf("unexpected payload %+v", su.Stream)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no StreamUpdated notification")
	}

	mapping, ok := tr.Mapping()
	if !ok || !mapping["s1"].Live {
		t.Errorf("mapping = %+v (ready=%v)", mapping, ok)
	}
	select {
	case n := <-sub.C:
		t.Errorf("unexpected extra notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnknownKeyIsIgnored(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{})
	defer sub.Close()

	tr := NewTracker(Options{}, bus, zerolog.Nop())
	tr.streams = map[string]models.Stream{"s1": {Key: "s1"}}
	tr.ready = true

	tr.HandleMessage("1|nope")
	tr.HandleMessage("garbage")

	mapping, _ := tr.Mapping()
	if len(mapping) != 1 || mapping["s1"].Live {
		t.Errorf("mapping changed: %+v", mapping)
	}
	select {
	case n := <-sub.C:
		t.Errorf("unexpected notification %+v", n)
	default:
	}
}

func TestMappingIsACopy(t *testing.T) {
	tr := NewTracker(Options{}, events.NewBus(), zerolog.Nop())
	tr.streams = map[string]models.Stream{"s1": {Key: "s1"}}
	tr.ready = true

	m, _ := tr.Mapping()
	m["s1"] = models.Stream{Key: "s1", Live: true}
	if s, _ := tr.Get("s1"); s.Live {
		t.Error("caller mutation leaked into the tracker")
	}
}

func TestParseAlive(t *testing.T) {
	tests := map[string]bool{
		"1":   true,
		"0":   false,
		"":    false,
		" 1 ": true,
		"2":   true,
		"abc": false,
		"0.0": false,
		"NaN": false,
	}
	for in, want := range tests {
		if got := parseAlive(in); got != want {
			t.Errorf("parseAlive(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResyncEmitsChangedStreams(t *testing.T) {
	f, srv := newFakeTracker(`{"streams":{"a":{"key":"a","live":false},"b":{"key":"b","live":true}}}`)
	defer srv.Close()

	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindStreamUpdated}})
	defer sub.Close()

	tr := newTracker(srv, bus)
	if err := tr.loadSnapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	f.mu.Lock()
	f.snapshot = `{"streams":{"a":{"key":"a","live":true},"b":{"key":"b","live":true}}}`
	f.mu.Unlock()
	tr.resync(context.Background())

	select {
	case n := <-sub.C:
		if n.Target != "a" {
			t.Errorf("changed target = %q, want a", n.Target)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a notification for the changed stream")
	}
	select {
	case n := <-sub.C:
		t.Errorf("unchanged stream notified: %+v", n)
	default:
	}
}

func TestResyncKeepsStreamsMissingFromSnapshot(t *testing.T) {
	f, srv := newFakeTracker(`{"streams":{"a":{"key":"a","live":true},"b":{"key":"b","live":false}}}`)
	defer srv.Close()

	bus := events.NewBus()
	tr := newTracker(srv, bus)
	if err := tr.loadSnapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	f.mu.Lock()
	f.snapshot = `{"streams":{"b":{"key":"b","live":true},"c":{"key":"c","live":false}}}`
	f.mu.Unlock()
	tr.resync(context.Background())

	mapping, ok := tr.Mapping()
	if !ok {
		t.Fatal("mapping not ready after resync")
	}
	if len(mapping) != 3 {
		t.Fatalf("mapping = %+v, want a, b and c", mapping)
	}
	if !mapping["a"].Live || !mapping["b"].Live {
		t.Errorf("mapping = %+v", mapping)
	}

	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindStreamUpdated}, Target: "a"})
	defer sub.Close()
	tr.HandleMessage("0|a")

	select {
	case n := <-sub.C:
		if s := n.Payload.(events.StreamUpdated).Stream; s.Live {
			t.Errorf("stream a still live: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("push for a stream dropped from the snapshot was ignored")
	}
}

func TestFetchOutputs(t *testing.T) {
	_, srv := newFakeTracker(`{"streams":{}}`)
	defer srv.Close()

	outputs, err := newTracker(srv, events.NewBus()).FetchOutputs(context.Background())
	if err != nil {
		t.Fatalf("FetchOutputs: %v", err)
	}
	if len(outputs) != 1 || outputs[0].TechStream != "tech1" {
		t.Errorf("unexpected outputs %+v", outputs)
	}
}

type memoryStore struct {
	streams map[string]models.Stream
}

func (m *memoryStore) SaveStreams(_ context.Context, s map[string]models.Stream) error {
	m.streams = s
	return nil
}

func (m *memoryStore) LoadStreams(context.Context) (map[string]models.Stream, error) {
	return m.streams, nil
}

func TestStartFallsBackToStoredSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := &memoryStore{streams: map[string]models.Stream{"cached": {Key: "cached", Live: true}}}
	tr := NewTracker(Options{BaseURL: srv.URL, Password: "pw", ReconnectDelay: time.Hour, Store: store}, events.NewBus(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	if s, ok := tr.Get("cached"); !ok || !s.Live {
		t.Errorf("expected cached stream, got %+v (ok=%v)", s, ok)
	}
}
