// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"fmt"
	"strconv"
	"strings"
)

var commandNames = map[CommandType]string{
	// Settings (0x01xx)
	SettingTime:     "SETTING_TIME",
	SettingTimeZone: "SETTING_TIMEZONE",

	// Get (0x02xx)
	GetDeviceInfo:            "GET_DEVICE_INFO",
	GetDeviceSupportFunction: "GET_SUPPORT_FUNCTION",
	GetDeviceName:            "GET_DEVICE_NAME",
	GetDeviceVersion:         "GET_DEVICE_VERSION",

	// App control (0x03xx)
	AppFindDevice:          "APP_FIND_DEVICE",
	AppHeartSwitch:         "APP_HEART_SWITCH",
	AppBloodSwitch:         "APP_BLOOD_SWITCH",
	AppBloodCalibration:    "APP_BLOOD_CALIBRATION",
	AppControlReal:         "APP_CONTROL_REAL",
	AppControlWave:         "APP_CONTROL_WAVE",
	AppRunMode:             "APP_RUN_MODE",
	AppControlTakePhoto:    "APP_TAKE_PHOTO",
	AppTodayWeather:        "APP_TODAY_WEATHER",
	AppTomorrowWeather:     "APP_TOMORROW_WEATHER",
	AppECGPPGStatus:        "APP_ECG_PPG_STATUS",
	AppHealthArg:           "APP_HEALTH_ARG",
	AppShutDown:            "APP_SHUTDOWN",
	AppTemperatureMeasure:  "APP_TEMPERATURE_MEASURE",
	AppPushMessage:         "APP_PUSH_MESSAGE",
	AppStartBloodMeasure:   "APP_START_BLOOD_MEASURE",
	AppStartMeasurement:    "APP_START_MEASUREMENT",
	AppBloodSugarCalibrate: "APP_BLOOD_SUGAR_CALIBRATE",

	// Device control (0x04xx)
	DevMeasurementResult: "DEV_MEASUREMENT_RESULT",

	// Health (0x05xx)
	HealthHistorySport:     "HEALTH_HISTORY_SPORT",
	HealthHistorySleep:     "HEALTH_HISTORY_SLEEP",
	HealthHistoryHeart:     "HEALTH_HISTORY_HEART",
	HealthHistoryBlood:     "HEALTH_HISTORY_BLOOD",
	HealthHistoryAll:       "HEALTH_HISTORY_ALL",
	HealthDeleteSleep:      "HEALTH_DELETE_SLEEP",
	HealthSleepTimestamps:  "HEALTH_SLEEP_TIMESTAMPS",
	HealthSleepHeartRates:  "HEALTH_SLEEP_HEART_RATES",
	HealthSleepStageDetail: "HEALTH_SLEEP_STAGE_DETAIL",

	// Real-time data (0x06xx)
	RealDataSport: "REAL_DATA_SPORT",
	RealDataHeart: "REAL_DATA_HEART",
	RealDataBlood: "REAL_DATA_BLOOD",
}

// FormatCommandType returns the name of a command type, or its hex value
// for unknown types
func FormatCommandType(ct CommandType) string {
	if name, ok := commandNames[ct]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(ct))
}

// ParseCommandType accepts a known name (case insensitive) or a hex value
// such as 0x0200
func ParseCommandType(s string) (CommandType, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for ct, name := range commandNames {
		if name == upper {
			return ct, nil
		}
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(upper, "0X"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid command type %q: %w", s, err)
	}
	return CommandType(v), nil
}

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	ct := f.CommandType()

	result := fmt.Sprintf("[%s] %s (0x%04X) len=%d", timestamp, FormatCommandType(ct), uint16(ct), f.length)
	if !f.valid {
		result += fmt.Sprintf(" crc=0x%04X (MISMATCH)", f.checksum)
	}
	result += "\n"

	switch {
	case f.IsErrorFrame():
		code := f.payload[0]
		result += fmt.Sprintf("  Error: %s (0x%02X)\n", ClassifyErrorCode(code), code)
	case len(f.payload) == 0:
		result += "  (no payload)\n"
	case ct == SettingTime && len(f.payload) >= 8:
		if t, err := ParseTime(f.payload, nil); err == nil {
			result += fmt.Sprintf("  Time: %s\n", t.Format("2006-01-02 15:04:05"))
			break
		}
		result += formatPayload(f.payload)
	default:
		result += formatPayload(f.payload)
	}

	return result
}

// formatPayload renders a payload as 16-byte hex rows
func formatPayload(p []byte) string {
	var b strings.Builder
	for off := 0; off < len(p); off += 16 {
		end := off + 16
		if end > len(p) {
			end = len(p)
		}
		fmt.Fprintf(&b, "  %04X: % X\n", off, p[off:end])
	}
	return b.String()
}

// FormatState returns the name of a connection state
func FormatState(s ConnectionState) string {
	switch s {
	case StateTimedOut:
		return "TIMED_OUT"
	case StateNotOpen:
		return "NOT_OPEN"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateServicesDiscovered:
		return "SERVICES_DISCOVERED"
	case StateCharacteristicsDiscovered:
		return "CHARACTERISTICS_DISCOVERED"
	case StateNotificationsReady:
		return "NOTIFICATIONS_READY"
	case StateFullyOperational:
		return "FULLY_OPERATIONAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// FormatStatus returns a short description of a callback status
func FormatStatus(s Status) string {
	switch {
	case s == StatusOK:
		return "OK"
	case s == StatusFailed:
		return "FAILED"
	case s == StatusCancelled:
		return "CANCELLED"
	case s == StatusWriteFailed:
		return "WRITE_FAILED"
	case s >= Status(ErrCodeUnsupportedCommandID) && s <= Status(ErrCodeChecksum):
		return strings.ToUpper(strings.ReplaceAll(ClassifyErrorCode(byte(s)).String(), " ", "_"))
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}
