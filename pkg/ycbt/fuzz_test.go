// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzz_DecodeRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		data := randomBytes(rng, rng.Intn(64))
		frame, err := Decode(data, 20)
		if err == nil && frame == nil {
			t.Fatalf("round %d: nil frame without error for % X", i, data)
		}
	}
}

func TestFuzz_EncodeDecodeRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		ct := CommandType(rng.Intn(0x10000))
		payload := randomBytes(rng, rng.Intn(300))

		frame, err := Decode(MustEncode(ct, payload), 497)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if frame.CommandType() != ct || !bytes.Equal(frame.Payload(), payload) {
			t.Fatalf("round %d: round trip mismatch for %s", i, ct)
		}
	}
}

func TestFuzz_CorruptedFramesDetected(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		raw := MustEncode(CommandType(rng.Intn(0x10000)), randomBytes(rng, 1+rng.Intn(40)))

		// corrupt a payload byte; length stays intact
		pos := HeaderSize + rng.Intn(len(raw)-FrameOverhead)
		raw[pos] ^= byte(1 + rng.Intn(255))

		frame, err := Decode(raw, 497)
		if frame == nil || err == nil || frame.Valid() {
			t.Fatalf("round %d: single-byte corruption at %d not detected", i, pos)
		}
	}
}

// ============================================================
// Reassembler Fuzz Tests
// ============================================================

func TestFuzz_ReassemblerRandomChunks(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	r := NewReassembler(20)

	for i := 0; i < rounds; i++ {
		chunk := randomBytes(rng, rng.Intn(40))
		out, err := r.Feed(chunk)
		if out != nil && err != nil {
			t.Fatalf("round %d: frame and error returned together", i)
		}
		if out != nil {
			declared := int(out[2]) | int(out[3])<<8
			if declared != len(out) {
				t.Fatalf("round %d: emitted %d bytes, declared %d", i, len(out), declared)
			}
		}
	}
}

func TestFuzz_ReassemblerRandomSplits(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds == 0 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		frag := 8 + rng.Intn(60)
		r := NewReassembler(frag)
		raw := MustEncode(HealthHistoryAll, randomBytes(rng, rng.Intn(400)))

		var out []byte
		for off := 0; off < len(raw); off += frag {
			end := off + frag
			if end > len(raw) {
				end = len(raw)
			}
			got, err := r.Feed(raw[off:end])
			if err != nil {
				t.Fatalf("round %d (frag %d): %v", i, frag, err)
			}
			if got != nil {
				out = got
			}
		}

		if !bytes.Equal(out, raw) {
			t.Fatalf("round %d (frag %d, len %d): reassembly mismatch", i, frag, len(raw))
		}
	}
}
