/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/console"
	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/liveness"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Print the resolved room roster",
	Long:  "Print the rooms from STAGEHAND_ROOMS_FILE, or from the stream tracker's outputs when no file is set.",
	RunE:  runRooms,
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}

func runRooms(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	rooms, err := loadRooms()
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		bus := events.NewBus()
		defer bus.Close()
		tracker := liveness.NewTracker(liveness.Options{
			BaseURL:        cfg.StreamTrackerURL,
			Password:       cfg.Password,
			ReconnectDelay: cfg.ReconnectDelay,
			Client:         telemetry.HTTPClient(cfg.RequestTimeout),
		}, bus, logger)
		defer tracker.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
		defer cancel()
		outputs, err := tracker.FetchOutputs(ctx)
		if err != nil {
			return fmt.Errorf("fetch outputs: %w", err)
		}
		rooms = console.RoomsFromOutputs(outputs)
	}

	return printRooms(cmd.OutOrStdout(), rooms)
}

func printRooms(w io.Writer, rooms []config.Room) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENDPOINT\tKEY\tTECH\tSECONDARY")
	for _, r := range rooms {
		secondary := r.SecondaryEndpoint
		if secondary == "" {
			secondary = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Endpoint, r.StreamKey, r.TechStream, secondary)
	}
	return tw.Flush()
}
