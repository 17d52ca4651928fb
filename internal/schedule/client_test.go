package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
)

type feed struct {
	mu   sync.Mutex
	body string
	fail bool
	hits atomic.Int32
}

func (f *feed) set(body string, fail bool) {
	f.mu.Lock()
	f.body, f.fail = body, fail
	f.mu.Unlock()
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprint(w, f.body)
}

const firstSchedule = `{"rooms":{"Main":[
	{"id":"b","startTime":"2026-06-01T11:00:00Z","endTime":"2026-06-01T12:00:00Z","title":"Second"},
	{"id":"a","startTime":"2026-06-01T10:00:00-04:00","endTime":"2026-06-01T10:50:00-04:00","title":"First","panelists":"P","isZoom":true}
]}}`

func TestGetFetchesOnceAndSortsEvents(t *testing.T) {
	f := &feed{body: firstSchedule}
	srv := httptest.NewServer(f)
	defer srv.Close()

	c := NewClient(Options{URL: srv.URL, Refresh: time.Hour}, events.NewBus(), zerolog.Nop())
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background()); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.hits.Load(); got != 1 {
		t.Errorf("fetched %d times, want 1", got)
	}
	s, _ := c.Get(context.Background())
	main := s.Room("Main")
	if len(main) != 2 || main[0].ID != "b" {
		// 10:00-04:00 is 14:00Z, after the 11:00Z event.
		t.Fatalf("events = %+v", main)
	}
	if !main[1].IsZoom || main[1].Panelists != "P" {
		t.Errorf("second event = %+v", main[1])
	}
}

func TestRefreshReplacesAtomicallyAndKeepsStaleOnFailure(t *testing.T) {
	f := &feed{body: firstSchedule}
	srv := httptest.NewServer(f)
	defer srv.Close()

	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Kinds: []events.Kind{events.KindScheduleRefreshed}})
	defer sub.Close()

	c := NewClient(Options{URL: srv.URL, Refresh: time.Hour}, bus, zerolog.Nop())
	defer c.Close()

	old, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	f.set(`{"rooms":{"Main":[{"id":"z","startTime":"2026-06-02T10:00:00Z","endTime":"2026-06-02T11:00:00Z","title":"New"}]}}`, false)
	c.Refresh(context.Background())

	fresh := c.Current()
	if fresh == old {
		t.Fatal("refresh did not swap the schedule")
	}
	if len(old.Rooms["Main"]) != 2 || old.Rooms["Main"][0].ID != "b" {
		t.Error("held schedule was mutated by the refresh")
	}
	if fresh.Rooms["Main"][0].ID != "z" {
		t.Errorf("fresh = %+v", fresh.Rooms)
	}

	f.set("", true)
	c.Refresh(context.Background())
	if c.Current() != fresh {
		t.Error("failed refresh dropped the previous schedule")
	}

	count := 0
	for {
		select {
		case <-sub.C:
			count++
			continue
		default:
		}
		break
	}
	if count != 2 {
		t.Errorf("ScheduleRefreshed published %d times, want 2", count)
	}
}

func TestInitialFailureIsRetryable(t *testing.T) {
	f := &feed{fail: true}
	srv := httptest.NewServer(f)
	defer srv.Close()

	c := NewClient(Options{URL: srv.URL, Refresh: time.Hour}, events.NewBus(), zerolog.Nop())
	defer c.Close()

	if _, err := c.Get(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	f.set(firstSchedule, false)
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

type memoryStore struct {
	s *models.Schedule
}

func (m *memoryStore) SaveSchedule(_ context.Context, s *models.Schedule) error {
	m.s = s
	return nil
}

func (m *memoryStore) LoadSchedule(context.Context) (*models.Schedule, error) {
	return m.s, nil
}

func TestFallsBackToStoredSchedule(t *testing.T) {
	f := &feed{fail: true}
	srv := httptest.NewServer(f)
	defer srv.Close()

	stored := &models.Schedule{Rooms: map[string][]models.ScheduleEvent{"Main": {{ID: "cached"}}}}
	c := NewClient(Options{URL: srv.URL, Refresh: time.Hour, Store: &memoryStore{s: stored}}, events.NewBus(), zerolog.Nop())
	defer c.Close()

	s, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Rooms["Main"][0].ID != "cached" {
		t.Errorf("schedule = %+v", s.Rooms)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2026-06-01T10:00:00Z", false},
		{"2026-06-01T10:00:00.123+02:00", false},
		{"2026-06-01T10:00:00", false},
		{"2026-06-01T10:00", false},
		{"tomorrow", true},
	}
	for _, tt := range tests {
		_, err := parseTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) err = %v", tt.in, err)
		}
	}
}

func TestEntriesJoinsStreams(t *testing.T) {
	s := &models.Schedule{Rooms: map[string][]models.ScheduleEvent{
		"Main": {{ID: "a"}, {ID: "b"}},
	}}
	streams := map[string]models.Stream{"a": {Key: "a", Live: true}}

	entries := Entries(s, "Main", streams, "rtmp://ingest/live/")
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Stream == nil || !entries[0].Stream.Live || entries[0].RTMPLink != "rtmp://ingest/live/a" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Stream != nil || entries[1].RTMPLink != "" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if got := Entries(s, "Other", streams, ""); len(got) != 0 {
		t.Errorf("unknown room = %+v", got)
	}
}
