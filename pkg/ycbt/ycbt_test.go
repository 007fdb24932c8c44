// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Checksum Tests
// ============================================================

// ccittFalse is the textbook bitwise CRC-16/CCITT-FALSE (poly 0x1021,
// init 0xFFFF, no reflection, no final xor)
func ccittFalse(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// wideFormulation is the shift-and-mask variant used by the history sync
// helper, computed in 32 bits and masked only at the end
func wideFormulation(data []byte) uint16 {
	crc := uint32(0xFFFF)
	for _, b := range data {
		temp := (crc << 8) & 0xFF00
		temp |= (crc >> 8) & 0xFF
		temp ^= uint32(b)
		temp ^= (temp & 0xFF) >> 4
		s2 := temp & 0xFFFF
		s3 := s2 ^ ((s2 << 8) << 4)
		crc = s3 ^ (((s3 & 0xFF) << 4) << 1)
	}
	return uint16(crc)
}

func TestChecksum_Empty(t *testing.T) {
	if crc := Checksum(nil); crc != checksumInitial {
		t.Errorf("checksum of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestChecksum_CheckValue(t *testing.T) {
	if crc := Checksum([]byte("123456789")); crc != 0x29B1 {
		t.Errorf("expected 0x29B1, got 0x%04X", crc)
	}
}

func TestChecksum_MatchesPolynomialForm(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0xFF},
		{0x02, 0x00, 0x08, 0x00, 0x47, 0x43},
		[]byte("The quick brown fox jumps over the lazy dog"),
		bytes.Repeat([]byte{0xA5, 0x5A}, 300),
	}
	for _, in := range inputs {
		if got, want := Checksum(in), ccittFalse(in); got != want {
			t.Errorf("input % X: expected 0x%04X, got 0x%04X", in, want, got)
		}
		if got, want := Checksum(in), wideFormulation(in); got != want {
			t.Errorf("input % X: wide formulation 0x%04X, got 0x%04X", in, want, got)
		}
	}
}

func TestChecksum_DeviceCaptures(t *testing.T) {
	captures := []struct {
		name  string
		frame []byte
	}{
		{"heart rate start", []byte{0x03, 0x2F, 0x08, 0x00, 0x01, 0x00, 0x4F, 0x1B}},
		{"heart rate stop", []byte{0x03, 0x2F, 0x07, 0x00, 0x00, 0xEE, 0x99}},
		{"spo2 start", []byte{0x03, 0x2F, 0x08, 0x00, 0x01, 0x02, 0x0D, 0x3B}},
		{"real-time prepare", []byte{0x03, 0x09, 0x09, 0x00, 0x00, 0x00, 0x02, 0x90, 0xE9}},
		{"real-time reset", []byte{0x03, 0x09, 0x09, 0x00, 0x01, 0x00, 0x02, 0xA0, 0xDE}},
		{"sleep data", []byte{0x05, 0x04, 0x06, 0x00, 0xE3, 0x4E}},
		{"sleep stats", []byte{0x05, 0x06, 0x06, 0x00, 0x83, 0x20}},
		{"sleep stages", []byte{0x05, 0x08, 0x06, 0x00, 0x82, 0x3B}},
		{"sleep details", []byte{0x05, 0x09, 0x06, 0x00, 0xB2, 0x0C}},
		{"real-time disable", []byte{0x03, 0x09, 0x07, 0x00, 0x00, 0x39, 0x89}},
	}

	for _, c := range captures {
		t.Run(c.name, func(t *testing.T) {
			frame, err := Decode(c.frame, 497)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if !frame.Valid() {
				t.Errorf("expected valid checksum, trailer 0x%04X", frame.Checksum())
			}
		})
	}
}

func TestChecksum_Diffusion(t *testing.T) {
	base := []byte{0x02, 0x00, 0x08, 0x00, 0x47, 0x43, 0x10, 0x20, 0x30}
	want := Checksum(base)
	if Checksum(base) != want {
		t.Fatal("checksum is not deterministic")
	}

	for i := range base {
		for _, flip := range []byte{0x01, 0x80, 0xFF} {
			mutated := append([]byte(nil), base...)
			mutated[i] ^= flip
			if Checksum(mutated) == want {
				t.Errorf("flipping byte %d with 0x%02X did not change the checksum", i, flip)
			}
		}
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncode_KnownFrames(t *testing.T) {
	tests := []struct {
		name     string
		ct       CommandType
		payload  []byte
		expected []byte
	}{
		{"device info", GetDeviceInfo, []byte{0x47, 0x43}, []byte{0x02, 0x00, 0x08, 0x00, 0x47, 0x43, 0x6F, 0xEC}},
		{"support function", GetDeviceSupportFunction, []byte{0x00, 0x09}, []byte{0x02, 0x01, 0x08, 0x00, 0x00, 0x09, 0xEB, 0x3B}},
		{"time one byte", SettingTime, []byte{0x00}, []byte{0x01, 0x00, 0x07, 0x00, 0x00, 0xCD, 0x3E}},
		{"time zeros", SettingTime, make([]byte, 6), []byte{0x01, 0x00, 0x0C, 0x00, 0, 0, 0, 0, 0, 0, 0xCB, 0x9F}},
		{"real data", RealDataSport, []byte{0x01, 0x02, 0x03}, []byte{0x06, 0x00, 0x09, 0x00, 0x01, 0x02, 0x03, 0xA6, 0x99}},
		{"heart rate start", AppStartMeasurement, []byte{0x01, 0x00}, []byte{0x03, 0x2F, 0x08, 0x00, 0x01, 0x00, 0x4F, 0x1B}},
		{"no payload", HealthHistorySleep, nil, []byte{0x05, 0x04, 0x06, 0x00, 0xE3, 0x4E}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.ct, tt.payload)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("expected % X, got % X", tt.expected, got)
			}
		})
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(RealDataSport, make([]byte, MaxFrameSize))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}

	if _, err := Encode(RealDataSport, make([]byte, MaxFrameSize-FrameOverhead)); err != nil {
		t.Errorf("largest payload should encode, got %v", err)
	}
}

func TestMustEncode_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustEncode(RealDataSport, make([]byte, MaxFrameSize))
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecode_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		{0x47, 0x43},
		bytes.Repeat([]byte{0xEE}, 250),
	}
	types := []CommandType{SettingTime, GetDeviceInfo, AppStartMeasurement, HealthHistoryAll, 0xFFFF, 0x0000}

	for _, ct := range types {
		for _, p := range payloads {
			raw := MustEncode(ct, p)
			frame, err := Decode(raw, 497)
			if err != nil {
				t.Fatalf("%s/%d: decode failed: %v", ct, len(p), err)
			}
			if frame.CommandType() != ct {
				t.Errorf("expected command type %s, got %s", ct, frame.CommandType())
			}
			if !bytes.Equal(frame.Payload(), p) {
				t.Errorf("%s: payload mismatch: expected % X, got % X", ct, p, frame.Payload())
			}
			if int(frame.Length()) != len(p)+FrameOverhead {
				t.Errorf("length field %d does not count the whole frame", frame.Length())
			}
			if !bytes.Equal(frame.Bytes(), raw) {
				t.Errorf("Bytes() should reproduce the wire frame")
			}
		}
	}
}

func TestDecode_TooShort(t *testing.T) {
	for n := 0; n < FrameOverhead; n++ {
		_, err := Decode(make([]byte, n), 497)
		if !errors.Is(err, ErrTooShort) {
			t.Errorf("%d bytes: expected ErrTooShort, got %v", n, err)
		}
	}
}

func TestDecode_LengthSignals(t *testing.T) {
	raw := MustEncode(RealDataSport, make([]byte, 20))

	_, err := Decode(raw[:10], 497)
	if !errors.Is(err, ErrIncomplete) {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}

	_, err = Decode(raw[:10], 10)
	if !errors.Is(err, ErrFragmentStart) {
		t.Errorf("expected ErrFragmentStart, got %v", err)
	}
}

func TestDecode_ChecksumMismatchStillDelivers(t *testing.T) {
	// captured device-info request with a trailer that does not match
	raw := []byte{0x03, 0x01, 0x08, 0x00, 0x47, 0x46, 0xAE, 0x8F}

	frame, err := Decode(raw, 497)
	if frame == nil {
		t.Fatal("frame should still be returned")
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	var crcErr *ChecksumError
	if !errors.As(err, &crcErr) {
		t.Fatal("expected *ChecksumError")
	}
	if crcErr.Actual != 0x8FAE || crcErr.Expected != 0x533B {
		t.Errorf("expected 0x533B/0x8FAE, got 0x%04X/0x%04X", crcErr.Expected, crcErr.Actual)
	}
	if frame.Valid() {
		t.Error("frame should be marked invalid")
	}
	if !bytes.Equal(frame.Payload(), []byte{0x47, 0x46}) {
		t.Errorf("payload should still decode, got % X", frame.Payload())
	}
}

func TestFrame_PayloadIsCopied(t *testing.T) {
	frame, _ := Decode(MustEncode(GetDeviceInfo, []byte{0x47, 0x43}), 497)
	p := frame.Payload()
	p[0] = 0x00
	if frame.Payload()[0] != 0x47 {
		t.Error("mutating Payload() result should not change the frame")
	}
}

// ============================================================
// Reassembler Tests
// ============================================================

func TestReassembler_SingleChunk(t *testing.T) {
	r := NewReassembler(497)
	raw := MustEncode(GetDeviceInfo, []byte{0x00, 0x01})

	out, err := r.Feed(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("expected % X, got % X", raw, out)
	}
	if r.Pending() {
		t.Error("reassembler should be idle")
	}
}

func TestReassembler_TwoFragments(t *testing.T) {
	const frag = 497
	r := NewReassembler(frag)
	raw := MustEncode(HealthHistoryHeart, bytes.Repeat([]byte{0x5A}, 700))

	out, err := r.Feed(raw[:frag])
	if err != nil || out != nil {
		t.Fatalf("first fragment: expected (nil, nil), got (%v, %v)", out, err)
	}
	if !r.Pending() || r.Buffered() != frag {
		t.Fatalf("expected %d buffered bytes, got %d", frag, r.Buffered())
	}

	out, err = r.Feed(raw[frag:])
	if err != nil {
		t.Fatalf("second fragment: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Error("reassembled frame does not match original")
	}

	frame, err := Decode(out, frag)
	if err != nil || !frame.Valid() {
		t.Errorf("reassembled frame should decode cleanly: %v", err)
	}
}

func TestReassembler_ManyFragments(t *testing.T) {
	const frag = 20
	r := NewReassembler(frag)
	raw := MustEncode(HealthHistoryAll, bytes.Repeat([]byte{0x11}, 100))

	var out []byte
	for off := 0; off < len(raw); off += frag {
		end := off + frag
		if end > len(raw) {
			end = len(raw)
		}
		got, err := r.Feed(raw[off:end])
		if err != nil {
			t.Fatalf("chunk at %d: %v", off, err)
		}
		if got != nil {
			if end != len(raw) {
				t.Fatalf("frame emitted early at offset %d", off)
			}
			out = got
		}
	}
	if !bytes.Equal(out, raw) {
		t.Error("reassembled frame does not match original")
	}
}

func TestReassembler_Overflow(t *testing.T) {
	const frag = 497
	r := NewReassembler(frag)
	raw := MustEncode(HealthHistoryHeart, bytes.Repeat([]byte{0x5A}, 600))

	if _, err := r.Feed(raw[:frag]); err != nil {
		t.Fatalf("first fragment: %v", err)
	}

	tail := append(append([]byte(nil), raw[frag:]...), 0x00, 0x00)
	out, err := r.Feed(tail)
	if !errors.Is(err, ErrReassemblyOverflow) {
		t.Errorf("expected ErrReassemblyOverflow, got %v", err)
	}
	if out != nil {
		t.Error("no frame should be emitted on overflow")
	}
	if r.Pending() || r.Buffered() != 0 {
		t.Error("buffer should be discarded")
	}

	// reassembler recovers on the next frame
	good := MustEncode(GetDeviceInfo, []byte{0x00})
	if out, err := r.Feed(good); err != nil || !bytes.Equal(out, good) {
		t.Errorf("expected recovery, got (% X, %v)", out, err)
	}
}

func TestReassembler_TooShortChunk(t *testing.T) {
	r := NewReassembler(497)
	_, err := r.Feed([]byte{0x02, 0x00, 0x08})
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("expected ErrTooShort, got %v", err)
	}
	if r.Pending() {
		t.Error("short chunk must not start accumulation")
	}
}

func TestReassembler_LengthMismatch(t *testing.T) {
	r := NewReassembler(497)
	raw := MustEncode(RealDataHeart, make([]byte, 30))

	_, err := r.Feed(raw[:12])
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if r.Pending() {
		t.Error("mismatched chunk must not start accumulation")
	}
}

func TestReassembler_Reset(t *testing.T) {
	r := NewReassembler(10)
	raw := MustEncode(RealDataHeart, make([]byte, 30))
	if _, err := r.Feed(raw[:10]); err != nil {
		t.Fatal(err)
	}
	r.Reset()
	if r.Pending() || r.Buffered() != 0 {
		t.Error("Reset should clear partial state")
	}
}

// ============================================================
// Router Tests
// ============================================================

func TestRouter_StatusByteFamilies(t *testing.T) {
	r := NewRouter()
	frame, _ := Decode([]byte{0x02, 0x00, 0x08, 0x00, 0x00, 0x01, 0xB2, 0x10}, 497)

	o := r.Route(frame)
	if o.Error != nil {
		t.Fatalf("unexpected error frame: %v", o.Error)
	}
	if o.Status != StatusOK {
		t.Errorf("expected status 0, got %d", o.Status)
	}
	if o.Result == nil || !bytes.Equal(o.Result.Data, []byte{0x01}) {
		t.Errorf("expected data [01], got %+v", o.Result)
	}
	if o.Result.CommandType != GetDeviceInfo {
		t.Errorf("expected %s, got %s", GetDeviceInfo, o.Result.CommandType)
	}
}

func TestRouter_StatusOnly(t *testing.T) {
	r := NewRouter()
	frame := NewFrame(SettingTime, []byte{0x00}, 0, true)

	o := r.Route(frame)
	if o.Status != StatusOK || o.Result != nil {
		t.Errorf("expected status 0 without result, got %d %+v", o.Status, o.Result)
	}
}

func TestRouter_ErrorFrames(t *testing.T) {
	tests := []struct {
		code byte
		kind ErrorKind
	}{
		{0xFB, KindUnsupportedCommandID},
		{0xFC, KindUnsupportedKey},
		{0xFD, KindLength},
		{0xFE, KindData},
		{0xFF, KindChecksum},
		{0xF0, KindUnknown},
	}

	r := NewRouter()
	for _, tt := range tests {
		frame := NewFrame(AppStartMeasurement, []byte{tt.code}, 0, true)
		if !frame.IsErrorFrame() {
			t.Fatalf("0x%02X should be an error frame", tt.code)
		}
		o := r.Route(frame)
		if o.Error == nil {
			t.Fatalf("0x%02X: expected protocol error", tt.code)
		}
		if o.Error.Kind != tt.kind {
			t.Errorf("0x%02X: expected %s, got %s", tt.code, tt.kind, o.Error.Kind)
		}
		if o.Status != Status(tt.code) || o.Result != nil {
			t.Errorf("0x%02X: expected status %d without result", tt.code, tt.code)
		}
	}
}

func TestRouter_ErrorCodeNeedsSingleByte(t *testing.T) {
	frame := NewFrame(GetDeviceInfo, []byte{0xFB, 0x01}, 0, true)
	if frame.IsErrorFrame() {
		t.Error("two-byte payload is not an error frame")
	}
	o := NewRouter().Route(frame)
	if o.Error != nil || o.Status != Status(0xFB) {
		t.Errorf("expected status byte 0xFB without error, got %+v", o)
	}
}

func TestRouter_GenericFamilies(t *testing.T) {
	r := NewRouter()
	payload := []byte{0x10, 0x20, 0x30}
	frame := NewFrame(HealthHistoryHeart, payload, 0, true)

	o := r.Route(frame)
	if o.Status != StatusOK {
		t.Errorf("expected status 0, got %d", o.Status)
	}
	if o.Result == nil || !bytes.Equal(o.Result.Data, payload) {
		t.Errorf("generic handler should deliver the whole payload, got %+v", o.Result)
	}
}

func TestRouter_Register(t *testing.T) {
	r := NewRouter()
	called := false
	r.Register(CmdRealData, func(f *Frame) Outcome {
		called = true
		return Outcome{Status: 42, CommandType: f.CommandType()}
	})

	o := r.Route(NewFrame(RealDataHeart, []byte{0x01}, 0, true))
	if !called || o.Status != 42 {
		t.Error("registered handler was not used")
	}
}

// ============================================================
// Time Payload Tests
// ============================================================

func TestTimeSyncPayload(t *testing.T) {
	// Sunday
	ts := time.Date(2025, time.March, 9, 14, 30, 15, 0, time.UTC)
	expected := []byte{0xE9, 0x07, 3, 9, 14, 30, 15, 6}
	if got := TimeSyncPayload(ts); !bytes.Equal(got, expected) {
		t.Errorf("expected % X, got % X", expected, got)
	}

	// Monday
	ts = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	if got := TimeSyncPayload(ts)[7]; got != 0 {
		t.Errorf("Monday should be weekday 0, got %d", got)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	ts := time.Date(2024, time.December, 31, 23, 59, 58, 0, time.UTC)
	got, err := ParseTime(TimeSyncPayload(ts), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("expected %s, got %s", ts, got)
	}

	if _, err := ParseTime([]byte{0x01, 0x02}, time.UTC); err == nil {
		t.Error("expected error for short payload")
	}
	if _, err := ParseTime([]byte{0xE9, 0x07, 13, 1, 0, 0, 0, 0}, time.UTC); err == nil {
		t.Error("expected error for month 13")
	}
}

func TestTimeZonePayload(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	ts := time.Unix(0x01020304, 0).In(loc)
	expected := []byte{0x04, 0x03, 0x02, 0x01, 0, 0, 0, 0, 7}
	if got := TimeZonePayload(ts); !bytes.Equal(got, expected) {
		t.Errorf("expected % X, got % X", expected, got)
	}

	west := time.Unix(0, 0).In(time.FixedZone("EST", -5*3600))
	if got := TimeZonePayload(west)[8]; got != 0xFB {
		t.Errorf("expected -5 as 0xFB, got 0x%02X", got)
	}
}

// ============================================================
// Formatter & Validator Tests
// ============================================================

func TestFormatCommandType(t *testing.T) {
	if got := FormatCommandType(GetDeviceInfo); got != "GET_DEVICE_INFO" {
		t.Errorf("expected GET_DEVICE_INFO, got %s", got)
	}
	if got := FormatCommandType(0x7A01); got != "0x7A01" {
		t.Errorf("expected hex fallback, got %s", got)
	}
}

func TestParseCommandType(t *testing.T) {
	tests := []struct {
		in       string
		expected CommandType
	}{
		{"0x0200", GetDeviceInfo},
		{"0200", GetDeviceInfo},
		{"get_device_name", GetDeviceName},
		{"0x32F", AppStartMeasurement},
	}
	for _, tt := range tests {
		got, err := ParseCommandType(tt.in)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.in, tt.expected, got)
		}
	}

	for _, bad := range []string{"", "0x12345", "nope"} {
		if _, err := ParseCommandType(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestFormatFrame(t *testing.T) {
	frame, _ := Decode([]byte{0x03, 0x2F, 0x07, 0x00, 0xFB, 0x9A, 0xC7}, 497)
	out := FormatFrame(frame)
	if !strings.Contains(out, "APP_START_MEASUREMENT") || !strings.Contains(out, "unsupported command id") {
		t.Errorf("unexpected output: %q", out)
	}

	bad, _ := Decode([]byte{0x03, 0x01, 0x08, 0x00, 0x47, 0x46, 0xAE, 0x8F}, 497)
	if !strings.Contains(FormatFrame(bad), "MISMATCH") {
		t.Error("checksum mismatch should be flagged")
	}
}

func TestFormatState(t *testing.T) {
	if StateFullyOperational.String() != "FULLY_OPERATIONAL" {
		t.Errorf("got %s", StateFullyOperational)
	}
	if FormatState(ConnectionState(99)) != "UNKNOWN(99)" {
		t.Errorf("got %s", FormatState(99))
	}
}

func TestValidateFrame(t *testing.T) {
	clean, _ := Decode([]byte{0x02, 0x00, 0x08, 0x00, 0x00, 0x01, 0xB2, 0x10}, 497)
	if errs := ValidateFrame(clean); len(errs) != 0 {
		t.Errorf("expected no anomalies, got %v", errs)
	}

	errFrame, _ := Decode([]byte{0x03, 0x2F, 0x07, 0x00, 0xFB, 0x9A, 0xC7}, 497)
	errs := ValidateFrame(errFrame)
	if len(errs) != 1 || errs[0].Type != AnomalyErrorFrame {
		t.Errorf("expected one error-frame anomaly, got %v", errs)
	}

	empty := NewFrame(GetDeviceInfo, nil, 0, true)
	errs = ValidateFrame(empty)
	if len(errs) != 1 || errs[0].Type != AnomalyMissingStatus {
		t.Errorf("expected missing-status anomaly, got %v", errs)
	}

	bad, _ := Decode([]byte{0x03, 0x01, 0x08, 0x00, 0x47, 0x46, 0xAE, 0x8F}, 497)
	found := false
	for _, e := range ValidateFrame(bad) {
		if e.Type == AnomalyChecksum {
			found = true
		}
	}
	if !found {
		t.Error("expected checksum anomaly")
	}
}
