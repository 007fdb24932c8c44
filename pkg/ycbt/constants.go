// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ycbt implements the client side of the YCBT wearable protocol.
//
// YCBT is a binary command/response protocol carried over one BLE write
// characteristic and one notify characteristic. Every frame is
//
//	[commandId][key][length lo][length hi][payload ...][checksum lo][checksum hi]
//
// where length counts the whole frame. This package provides the frame
// codec, checksum, fragment reassembly, response routing, the single-flight
// send queue with timeout driven retries and the connection state tracker.
package ycbt

import "time"

// Frame layout
const (
	HeaderSize    = 4
	TrailerSize   = 2
	FrameOverhead = HeaderSize + TrailerSize
	MaxFrameSize  = 0xFFFF
)

// BLE transport defaults
const (
	DefaultMTU  = 500
	ATTOverhead = 3
)

// Send queue defaults
const (
	DefaultTimeout     = 5 * time.Second
	DefaultSettleDelay = 100 * time.Millisecond
	DefaultMaxRetries  = 3
)

// Checksum configuration
const (
	checksumInitial = 0xFFFF
)

// GATT identifiers of the YCBT service. Write and notify share one
// characteristic on current firmware.
const (
	ServiceUUID = "be940000-7333-be46-b7ae-689e71722bd5"
	WriteUUID   = "be940001-7333-be46-b7ae-689e71722bd5"
	NotifyUUID  = "be940001-7333-be46-b7ae-689e71722bd5"
)

// Command families (high byte of a CommandType)
const (
	CmdSetting      = 0x01
	CmdGet          = 0x02
	CmdAppControl   = 0x03
	CmdDevControl   = 0x04
	CmdHealth       = 0x05
	CmdRealData     = 0x06
	CmdCollect      = 0x07
	CmdDeviceUpdate = 0x09
)

// Setting commands
const (
	SettingTime     CommandType = 0x0100
	SettingTimeZone CommandType = 0x0144
)

// Get commands
const (
	GetDeviceInfo            CommandType = 0x0200
	GetDeviceSupportFunction CommandType = 0x0201
	GetDeviceName            CommandType = 0x0203
	GetDeviceVersion         CommandType = 0x021B
)

// App control commands
const (
	AppFindDevice          CommandType = 0x0300
	AppHeartSwitch         CommandType = 0x0301
	AppBloodSwitch         CommandType = 0x0302
	AppBloodCalibration    CommandType = 0x0303
	AppControlReal         CommandType = 0x0309
	AppControlWave         CommandType = 0x030B
	AppRunMode             CommandType = 0x030C
	AppControlTakePhoto    CommandType = 0x030E
	AppTodayWeather        CommandType = 0x0312
	AppTomorrowWeather     CommandType = 0x0313
	AppECGPPGStatus        CommandType = 0x0314
	AppHealthArg           CommandType = 0x0315
	AppShutDown            CommandType = 0x0316
	AppTemperatureMeasure  CommandType = 0x0318
	AppPushMessage         CommandType = 0x0327
	AppStartBloodMeasure   CommandType = 0x032E
	AppStartMeasurement    CommandType = 0x032F
	AppBloodSugarCalibrate CommandType = 0x0331
)

// Device control commands (device initiated)
const (
	DevMeasurementResult CommandType = 0x040E
)

// Health history commands
const (
	HealthHistorySport     CommandType = 0x0502
	HealthHistorySleep     CommandType = 0x0504
	HealthHistoryHeart     CommandType = 0x0506
	HealthHistoryBlood     CommandType = 0x0508
	HealthHistoryAll       CommandType = 0x0509
	HealthDeleteSleep      CommandType = 0x0544
	HealthSleepTimestamps  CommandType = 0x0515
	HealthSleepHeartRates  CommandType = 0x0517
	HealthSleepStageDetail CommandType = 0x0518
)

// Real-time data (device initiated)
const (
	RealDataSport CommandType = 0x0600
	RealDataHeart CommandType = 0x0601
	RealDataBlood CommandType = 0x0602
)

// Measurement types carried in AppStartMeasurement payloads
const (
	MeasureHeartRate = 0x01
	MeasureSpO2      = 0x02
)

// Error frame codes. A response whose payload is a single byte with the
// high nibble set is an error frame.
const (
	ErrCodeUnsupportedCommandID = 0xFB
	ErrCodeUnsupportedKey       = 0xFC
	ErrCodeLength               = 0xFD
	ErrCodeData                 = 0xFE
	ErrCodeChecksum             = 0xFF

	errorFrameMask = 0xF0
)

// Reassembler states (internal)
const (
	reassemblyIdle = iota
	reassemblyAccumulating
)
