// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"fmt"
	"time"
)

// TimeSource returns the current time. time.Now satisfies it.
type TimeSource func() time.Time

// TimeSyncPayload encodes t for SettingTime:
// year (u16 LE), month, day, hour, minute, second, weekday (Monday = 0).
func TimeSyncPayload(t time.Time) []byte {
	year := t.Year()
	return []byte{
		byte(year),
		byte(year >> 8),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
		deviceWeekday(t.Weekday()),
	}
}

// TimeZonePayload encodes t for SettingTimeZone: unix seconds as a 64-bit
// little-endian value whose upper half the device ignores, then the UTC
// offset in whole hours.
func TimeZonePayload(t time.Time) []byte {
	ts := uint32(t.Unix())
	_, offset := t.Zone()
	return []byte{
		byte(ts),
		byte(ts >> 8),
		byte(ts >> 16),
		byte(ts >> 24),
		0, 0, 0, 0,
		byte(int8(offset / 3600)),
	}
}

// ParseTime decodes a TimeSyncPayload in loc. The weekday byte is not
// checked against the date.
func ParseTime(payload []byte, loc *time.Location) (time.Time, error) {
	if len(payload) < 8 {
		return time.Time{}, fmt.Errorf("time payload too short: %d bytes (expected 8)", len(payload))
	}
	if loc == nil {
		loc = time.Local
	}
	year := int(payload[0]) | int(payload[1])<<8
	month := time.Month(payload[2])
	if month < time.January || month > time.December {
		return time.Time{}, fmt.Errorf("invalid month %d", payload[2])
	}
	return time.Date(year, month, int(payload[3]),
		int(payload[4]), int(payload[5]), int(payload[6]), 0, loc), nil
}

// TimeSyncBootstrap returns a bootstrap hook that sets the device clock
// each time notifications become ready
func TimeSyncBootstrap(now TimeSource) BootstrapFunc {
	if now == nil {
		now = time.Now
	}
	return func() (Request, bool) {
		return TimeSyncRequest(now, nil), true
	}
}

// deviceWeekday maps Sunday-first weekdays to the device's Monday-first
// numbering
func deviceWeekday(d time.Weekday) byte {
	if d == time.Sunday {
		return 6
	}
	return byte(d - 1)
}
