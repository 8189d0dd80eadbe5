// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import "time"

// Telegram represents one decoded protocol frame.
type Telegram struct {
	length    uint16
	opcode    Opcode
	payload   []byte
	crc       uint16
	timestamp time.Time
}

// NewTelegram creates a telegram ready for encoding.
func NewTelegram(op Opcode, payload []byte) *Telegram {
	return &Telegram{
		length:    uint16(len(payload)),
		opcode:    op,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Length returns the payload length field.
func (t *Telegram) Length() uint16 {
	return t.length
}

// Opcode returns the telegram's command or response opcode.
func (t *Telegram) Opcode() Opcode {
	return t.opcode
}

// Payload returns the raw payload bytes.
func (t *Telegram) Payload() []byte {
	return t.payload
}

// CRC returns the telegram's frame checksum as received.
func (t *Telegram) CRC() uint16 {
	return t.crc
}

// Timestamp returns the moment the telegram finished decoding.
func (t *Telegram) Timestamp() time.Time {
	return t.timestamp
}

// IsCommand reports whether the opcode lies in the command table rather than
// the acknowledge range.
func (t *Telegram) IsCommand() bool {
	return t.opcode < OpAck
}
