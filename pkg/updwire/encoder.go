// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import (
	"encoding/binary"
	"fmt"
)

// Encode produces the wire format for one telegram: framing, byte stuffing
// and the CRC-16 frame checksum.
func Encode(t *Telegram) ([]byte, error) {
	return EncodeFrame(t.Opcode(), t.Payload())
}

// EncodeFrame creates a complete wire-formatted telegram from an opcode and
// payload, ready for transmission.
func EncodeFrame(op Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	// Data section: length + opcode + payload. This is what gets CRC'd and
	// byte-stuffed.
	data := make([]byte, 4, 4+len(payload)+2)
	binary.BigEndian.PutUint16(data[0:2], uint16(len(payload)))
	binary.BigEndian.PutUint16(data[2:4], uint16(op))
	data = append(data, payload...)

	crc := CalculateCRC16(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)

	return frame, nil
}

// stuffBytes escapes framing bytes inside the data section.
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// UnstuffBytes removes byte stuffing from escaped data. Inverse of
// stuffBytes, exported for diagnostic tooling.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false
	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}
	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}
	return result, nil
}
