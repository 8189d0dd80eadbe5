// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import (
	"fmt"
	"strings"
	"time"
)

// Statistics tracks telegram counts and error rates on a monitored link.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalTelegrams uint64
	Commands       uint64
	Acks           uint64
	Nacks          uint64
	CRCErrors      uint64
	DecodeErrors   uint64

	// Rates (calculated)
	TelegramRate float64 // telegrams/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update folds one decode outcome into the counters.
func (s *Statistics) Update(t *Telegram, decodeErr error) {
	s.TotalTelegrams++

	if decodeErr != nil {
		if strings.HasPrefix(decodeErr.Error(), "CRC mismatch") {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}
	if t == nil {
		return
	}

	switch {
	case t.Opcode() == OpAck:
		s.Acks++
	case t.Opcode() == OpNack:
		s.Nacks++
	case t.IsCommand():
		s.Commands++
	}
	s.LastUpdateTime = time.Now()
}

// CalculateRates refreshes the derived rate fields.
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TelegramRate = float64(s.TotalTelegrams) / elapsed
		s.ErrorRate = float64(s.CRCErrors+s.DecodeErrors) / elapsed
	}
}

// String returns a formatted statistics summary.
func (s *Statistics) String() string {
	s.CalculateRates()
	return fmt.Sprintf(
		"telegrams=%d (%.1f/s) commands=%d ack=%d nack=%d crc_err=%d decode_err=%d (%.2f err/s)",
		s.TotalTelegrams, s.TelegramRate, s.Commands, s.Acks, s.Nacks,
		s.CRCErrors, s.DecodeErrors, s.ErrorRate,
	)
}
