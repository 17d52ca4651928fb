/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/schedule"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

var (
	scheduleRoom     string
	scheduleUpcoming bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Fetch and print the event schedule",
	Long: `Fetch the schedule feed and print it grouped by room.

Examples:
  # Whole schedule
  stagehand schedule

  # One room, only events that have not ended
  stagehand schedule --room "Main Stage" --upcoming
`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleRoom, "room", "", "Only print this room")
	scheduleCmd.Flags().BoolVar(&scheduleUpcoming, "upcoming", false, "Skip events that have already ended")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if !cfg.ScheduleEnabled() {
		return fmt.Errorf("STAGEHAND_SCHEDULE_URL is not set")
	}

	bus := events.NewBus()
	defer bus.Close()
	client := schedule.NewClient(schedule.Options{
		URL:    cfg.ScheduleURL,
		Client: telemetry.HTTPClient(cfg.RequestTimeout),
	}, bus, logger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()
	s, err := client.Get(ctx)
	if err != nil {
		return err
	}
	return printSchedule(cmd.OutOrStdout(), s, scheduleRoom, scheduleUpcoming, time.Now())
}

func printSchedule(w io.Writer, s *models.Schedule, room string, upcoming bool, now time.Time) error {
	rooms := make([]string, 0, len(s.Rooms))
	for name := range s.Rooms {
		if room == "" || name == room {
			rooms = append(rooms, name)
		}
	}
	if room != "" && len(rooms) == 0 {
		return fmt.Errorf("room %q not in schedule", room)
	}
	sort.Strings(rooms)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range rooms {
		fmt.Fprintf(tw, "%s\n", name)
		for _, ev := range s.Room(name) {
			if upcoming && !ev.EndTime.After(now) {
				continue
			}
			kind := "rtmp"
			if ev.IsZoom {
				kind = "zoom"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
				ev.StartTime.Local().Format("Mon 15:04"),
				ev.EndTime.Local().Format("15:04"),
				ev.ID, kind, ev.Title)
		}
	}
	return tw.Flush()
}
