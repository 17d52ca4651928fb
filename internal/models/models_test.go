package models

import (
	"testing"
	"time"
)

func TestRawStreamStateNormalize(t *testing.T) {
	tests := []struct {
		name         string
		raw          RawStreamState
		wantPlaying  bool
		wantAutoplay bool
	}{
		{"empty wire values", RawStreamState{}, false, true},
		{"literal true/false", RawStreamState{Playing: "true", Autoplay: "false"}, true, false},
		{"non-literal playing", RawStreamState{Playing: "TRUE", Autoplay: "0"}, false, true},
		{"garbage autoplay", RawStreamState{Playing: "false", Autoplay: "nope"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.raw.Normalize()
			if got.Playing != tt.wantPlaying {
				t.Errorf("playing = %v, want %v", got.Playing, tt.wantPlaying)
			}
			if got.Autoplay != tt.wantAutoplay {
				t.Errorf("autoplay = %v, want %v", got.Autoplay, tt.wantAutoplay)
			}
		})
	}
}

func TestUpNextEntriesKeepsPositions(t *testing.T) {
	entries := UpNextEntries([]string{"a", "", "b", "", "c"})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []UpNextEntry{{0, "a"}, {2, "b"}, {4, "c"}}
	for i, e := range entries {
		if e != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, e, want[i])
		}
	}
}

func TestSelectTracks(t *testing.T) {
	tracks := TrackMap{
		"1": {TrackID: "1", Title: "Zebra", Artist: "Beta"},
		"2": {TrackID: "2", Title: "Apple", Artist: "Beta"},
		"3": {TrackID: "3", Title: "Song", Artist: "Alpha"},
	}

	all := SelectTracks(tracks, "")
	if len(all) != 3 || all[0].TrackID != "3" || all[1].TrackID != "2" || all[2].TrackID != "1" {
		t.Errorf("unexpected order: %+v", all)
	}

	filtered := SelectTracks(tracks, "BET")
	if len(filtered) != 2 {
		t.Errorf("expected 2 tracks matching artist filter, got %d", len(filtered))
	}
}

func TestScheduleCurrent(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &Schedule{Rooms: map[string][]ScheduleEvent{
		"main": {
			{ID: "a", StartTime: base, EndTime: base.Add(time.Hour)},
			{ID: "b", StartTime: base.Add(time.Hour), EndTime: base.Add(2 * time.Hour)},
		},
	}}

	ev, ok := s.Current("main", base.Add(time.Hour))
	if !ok || ev.ID != "b" {
		t.Errorf("expected event b at boundary, got %+v (ok=%v)", ev, ok)
	}
	if _, ok := s.Current("main", base.Add(3*time.Hour)); ok {
		t.Error("expected no event after the last slot")
	}

	events := s.Room("main")
	events[0].Title = "mutated"
	if s.Rooms["main"][0].Title == "mutated" {
		t.Error("Room() must return a copy")
	}
}
