// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import (
	"fmt"
	"time"
)

// Decoder implements the telegram decoder state machine. Bytes are fed in
// one at a time; a telegram is returned once its END byte arrives and the
// frame CRC checks out.
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	telegram    *Telegram
	rawBuffer   []byte // raw bytes including framing, for diagnostics
}

// NewDecoder creates a new protocol decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxTelegramSize),
		rawBuffer: make([]byte, 0, MaxTelegramSize*2),
	}
}

// Reset returns the decoder to the idle state.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.escapeNext = false
	d.telegram = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// RawBytes returns the raw bytes accumulated since the last reset.
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// It returns a completed telegram, or nil while the frame is incomplete,
// and an error when the frame is rejected.
func (d *Decoder) DecodeByte(b byte) (*Telegram, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	// Byte stuffing
	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}

	originalB := b
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	// Framing bytes (only meaningful unescaped)
	if originalB == StartByte && !d.escapeNext {
		d.Reset()
		d.rawBuffer = append(d.rawBuffer[:0], originalB)
		d.state = stateLen1
		return nil, nil
	}

	if originalB == EndByte && !d.escapeNext {
		if d.state == stateCRC2 {
			tel := d.telegram
			calculated := CalculateCRC16(d.buffer[:d.bufferIndex])
			if tel.crc != calculated {
				err := fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, tel.crc)
				d.Reset()
				return nil, err
			}
			tel.timestamp = time.Now()
			d.Reset()
			return tel, nil
		}
		d.Reset()
		return nil, fmt.Errorf("unexpected END byte in state %d", d.state)
	}

	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLen1:
		d.telegram = &Telegram{length: uint16(b) << 8}
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.state = stateLen2
		return nil, nil

	case stateLen2:
		d.telegram.length |= uint16(b)
		if d.telegram.length > MaxPayloadSize {
			length := d.telegram.length
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", length, MaxPayloadSize)
		}
		d.telegram.payload = make([]byte, 0, d.telegram.length)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.state = stateOp1
		return nil, nil

	case stateOp1:
		d.telegram.opcode = Opcode(b) << 8
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.state = stateOp2
		return nil, nil

	case stateOp2:
		d.telegram.opcode |= Opcode(b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if d.telegram.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		if d.bufferIndex >= MaxTelegramSize {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: telegram exceeds max size")
		}
		d.telegram.payload = append(d.telegram.payload, b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if len(d.telegram.payload) >= int(d.telegram.length) {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.telegram.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.telegram.crc |= uint16(b)
		// Wait for END byte
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
