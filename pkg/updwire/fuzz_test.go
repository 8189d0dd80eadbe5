// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

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

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_RandomTelegrams round-trips randomly generated telegrams
// through the encoder and decoder
func TestFuzzDecoder_RandomTelegrams(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	d := NewDecoder()
	for i := 0; i < rounds; i++ {
		op := Opcode(rng.Intn(0x100))
		payload := make([]byte, rng.Intn(256))
		rng.Read(payload)

		frame, err := EncodeFrame(op, payload)
		if err != nil {
			t.Fatalf("Round %d: encode error: %v", i, err)
		}

		var tel *Telegram
		for _, b := range frame {
			tel, err = d.DecodeByte(b)
			if err != nil {
				t.Errorf("Round %d: unexpected decode error: %v", i, err)
			}
		}
		if tel == nil {
			t.Errorf("Round %d: expected telegram, got nil", i)
			continue
		}
		if tel.Opcode() != op {
			t.Errorf("Round %d: opcode mismatch: expected %d, got %d", i, op, tel.Opcode())
		}
		if !bytes.Equal(tel.Payload(), payload) {
			t.Errorf("Round %d: payload mismatch (%d bytes)", i, len(payload))
		}
	}
}

// TestFuzzDecoder_CorruptedTelegrams flips one random byte per frame
// and verifies decoding never panics and never yields a corrupted telegram
// silently accepted as the original
func TestFuzzDecoder_CorruptedTelegrams(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		payload := make([]byte, rng.Intn(64)+1)
		rng.Read(payload)
		frame, err := EncodeFrame(OpSendData, payload)
		if err != nil {
			t.Fatalf("Round %d: encode error: %v", i, err)
		}

		// Corrupt a random inner byte (not START or END)
		if len(frame) > 2 {
			corruptIdx := rng.Intn(len(frame)-2) + 1
			frame[corruptIdx] ^= byte(rng.Intn(255) + 1)
		}

		var tel *Telegram
		for _, b := range frame {
			tel, _ = d.DecodeByte(b)
		}
		// A telegram that still decoded must carry intact payload bytes;
		// anything else must have been rejected along the way
		if tel != nil && tel.Opcode() == OpSendData && !bytes.Equal(tel.Payload(), payload) {
			t.Errorf("Round %d: corrupted payload slipped through CRC", i)
		}
	}
}

// TestFuzzDecoder_TruncatedTelegrams drops the tail of valid frames and
// verifies the decoder recovers on the next frame
func TestFuzzDecoder_TruncatedTelegrams(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	d := NewDecoder()
	probe, _ := EncodeFrame(OpGetLastError, nil)

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(64)+1)
		rng.Read(payload)
		frame, _ := EncodeFrame(OpSendData, payload)

		// Feed a truncated frame
		cut := rng.Intn(len(frame)-1) + 1
		for _, b := range frame[:cut] {
			d.DecodeByte(b)
		}

		// The next complete frame must still decode
		var tel *Telegram
		var err error
		for _, b := range probe {
			tel, err = d.DecodeByte(b)
			if err != nil {
				t.Fatalf("Round %d: decode error after truncation: %v", i, err)
			}
		}
		if tel == nil || tel.Opcode() != OpGetLastError {
			t.Fatalf("Round %d: decoder did not recover after truncation", i)
		}
	}
}
