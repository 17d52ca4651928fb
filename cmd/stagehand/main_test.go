package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/models"
)

func TestPrintSchedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &models.Schedule{Rooms: map[string][]models.ScheduleEvent{
		"B": {{ID: "b1", Title: "Later", StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour), IsZoom: true}},
		"A": {
			{ID: "a0", Title: "Over", StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)},
			{ID: "a1", Title: "Now", StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Hour)},
		},
	}}

	var buf bytes.Buffer
	if err := printSchedule(&buf, s, "", true, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "a0") || !strings.Contains(out, "a1") || !strings.Contains(out, "zoom") {
		t.Errorf("output:\n%s", out)
	}
	if strings.Index(out, "A\n") > strings.Index(out, "B\n") {
		t.Errorf("rooms not sorted:\n%s", out)
	}

	if err := printSchedule(&buf, s, "C", false, now); err == nil {
		t.Error("expected error for unknown room")
	}
}

func TestPrintRooms(t *testing.T) {
	var buf bytes.Buffer
	err := printRooms(&buf, []config.Room{{Name: "Main", Endpoint: "obs:4444", StreamKey: "main", TechStream: "t"}})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "Main") || !strings.HasSuffix(lines[1], "-") {
		t.Errorf("output:\n%s", buf.String())
	}
}
