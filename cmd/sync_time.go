// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var (
	syncTimeZone     bool
	syncTimeLocation string
)

var syncTimeCmd = &cobra.Command{
	Use:   "sync_time",
	Short: "Set the ring clock to the host clock",
	Long: `Set the ring clock to the current host time.

With --timezone the ring's UTC offset is set as well. --location picks the
zone used for both (default: the host's local zone).

The ring is also synced automatically on every connect unless
protocol.syncTimeOnConnect is false in the config file.`,
	RunE: runSyncTime,
}

func init() {
	rootCmd.AddCommand(syncTimeCmd)
	syncTimeCmd.Flags().BoolVar(&syncTimeZone, "timezone", false, "Also set the time zone")
	syncTimeCmd.Flags().StringVar(&syncTimeLocation, "location", "", "IANA zone name (e.g. Europe/Berlin)")
}

func runSyncTime(cmd *cobra.Command, args []string) error {
	loc := time.Local
	if syncTimeLocation != "" {
		var err error
		loc, err = time.LoadLocation(syncTimeLocation)
		if err != nil {
			return fmt.Errorf("invalid location: %w", err)
		}
	}
	now := func() time.Time { return time.Now().In(loc) }

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Annulus - Time Sync\n")
	fmt.Printf("Connection: %s\n\n", s.link.Describe())

	if _, err := s.client.DoRequest(ctx, ycbt.TimeSyncRequest(now, nil)); err != nil {
		return fmt.Errorf("time sync failed: %w", err)
	}
	fmt.Printf("Time set:  %s\n", now().Format("2006-01-02 15:04:05 Mon"))

	if syncTimeZone {
		if _, err := s.client.DoRequest(ctx, ycbt.TimeZoneRequest(now, nil)); err != nil {
			return fmt.Errorf("time zone sync failed: %w", err)
		}
		name, offset := now().Zone()
		fmt.Printf("Zone set:  %s (UTC%+d)\n", name, offset/3600)
	}
	return nil
}
