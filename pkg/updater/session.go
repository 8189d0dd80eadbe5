// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

import "github.com/ferromont/updbus/pkg/updwire"

// StagingSize is the capacity of the RAM staging buffer, matching the
// largest block the controller's IAP can program in one call.
const StagingSize = 4096

// LockState is the device lock gating all destructive commands.
type LockState int

const (
	Locked LockState = iota
	Unlocked
)

// Session is the single process-wide update session: lock state, the RAM
// staging buffer and the most recent command outcome. It lives as long as
// the device is up; the dispatcher is its only writer.
type Session struct {
	lockState     LockState
	staging       [StagingSize]byte
	stagingOffset int
	lastError     updwire.ErrorCode

	// runningCRC accumulates over SEND_DATA chunks for transfer-time
	// diagnostics. The authoritative checksum is recomputed wholesale when
	// PROGRAM or UPDATE_BOOT_DESC executes.
	runningCRC uint32
}

// NewSession creates a session in its boot state: locked, empty staging
// buffer, last error SUCCESS.
func NewSession() *Session {
	return &Session{
		lockState:  Locked,
		lastError:  updwire.Success,
		runningCRC: updwire.CRC32Initial,
	}
}

// Unlocked reports whether destructive commands are permitted.
func (s *Session) Unlocked() bool {
	return s.lockState == Unlocked
}

// Unlock transitions the session to the unlocked state. The state persists
// until the device restarts; there is no idle re-lock.
func (s *Session) Unlock() {
	s.lockState = Unlocked
}

// LastError returns the outcome of the most recent command.
func (s *Session) LastError() updwire.ErrorCode {
	return s.lastError
}

// StagingOffset returns the offset of the next free staging byte.
func (s *Session) StagingOffset() int {
	return s.stagingOffset
}

// Staged returns the first count staged bytes.
func (s *Session) Staged(count int) []byte {
	return s.staging[:count]
}

// RunningCRC returns the diagnostic CRC accumulated over received chunks.
func (s *Session) RunningCRC() uint32 {
	return s.runningCRC
}

// appendStaging copies data into the staging buffer at the current offset.
// When the write would reach the buffer end the buffer is left untouched and
// RAM_BUFFER_OVERFLOW is returned; there is no implicit truncation.
func (s *Session) appendStaging(data []byte) updwire.ErrorCode {
	if s.stagingOffset+len(data) >= StagingSize {
		return updwire.ErrRAMBufferOverflow
	}
	copy(s.staging[s.stagingOffset:], data)
	s.stagingOffset += len(data)
	s.runningCRC = updwire.UpdateCRC32(s.runningCRC, data)
	return updwire.Success
}

// resetStaging rewinds the staging buffer and reseeds the diagnostic CRC.
// Called at the start of an erase cycle and after every program or boot
// descriptor commit, so consumed data is never reused.
func (s *Session) resetStaging() {
	s.stagingOffset = 0
	s.runningCRC = updwire.CRC32Initial
}
