// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import "fmt"

// DeviceInfoRequest returns a request for the device info block
func DeviceInfoRequest(cb Callback) Request {
	p, _ := CanonicalPayload(GetDeviceInfo)
	return Request{CommandType: GetDeviceInfo, Payload: p, Callback: cb}
}

// SupportFunctionRequest returns a request for the supported function map
func SupportFunctionRequest(cb Callback) Request {
	p, _ := CanonicalPayload(GetDeviceSupportFunction)
	return Request{CommandType: GetDeviceSupportFunction, Payload: p, Callback: cb}
}

// DeviceNameRequest returns a request for the advertised device name
func DeviceNameRequest(cb Callback) Request {
	p, _ := CanonicalPayload(GetDeviceName)
	return Request{CommandType: GetDeviceName, Payload: p, Callback: cb}
}

// FindDeviceRequest makes the device vibrate
func FindDeviceRequest(cb Callback) Request {
	return Request{CommandType: AppFindDevice, Payload: []byte{}, Callback: cb}
}

// HealthHistoryRequest returns a request for one health history block.
// History requests carry no payload.
func HealthHistoryRequest(ct CommandType, cb Callback) (Request, error) {
	if ct.ID() != CmdHealth {
		return Request{}, fmt.Errorf("not a health history command: %s", ct)
	}
	return Request{CommandType: ct, Payload: []byte{}, Callback: cb}, nil
}

// MeasurementRequest starts or stops a measurement of the given type
// (MeasureHeartRate or MeasureSpO2)
func MeasurementRequest(start bool, measure byte, cb Callback) Request {
	return Request{
		CommandType: AppStartMeasurement,
		Payload:     []byte{boolByte(start), measure},
		Callback:    cb,
	}
}

// RealTimeRequest enables or disables real-time data upload
func RealTimeRequest(enable bool, cb Callback) Request {
	return Request{
		CommandType: AppControlReal,
		Payload:     []byte{boolByte(enable), 0x00, 0x02},
		Callback:    cb,
	}
}

// TimeSyncRequest sets the device clock to t
func TimeSyncRequest(t TimeSource, cb Callback) Request {
	return Request{
		CommandType: SettingTime,
		Payload:     TimeSyncPayload(t()),
		Group:       2,
		Callback:    cb,
	}
}

// TimeZoneRequest sets the device time zone from t's location
func TimeZoneRequest(t TimeSource, cb Callback) Request {
	return Request{
		CommandType: SettingTimeZone,
		Payload:     TimeZonePayload(t()),
		Group:       2,
		Callback:    cb,
	}
}

// HistoryKinds maps the names accepted by the CLI to history command types
var HistoryKinds = map[string]CommandType{
	"sport": HealthHistorySport,
	"sleep": HealthHistorySleep,
	"heart": HealthHistoryHeart,
	"blood": HealthHistoryBlood,
	"all":   HealthHistoryAll,
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
