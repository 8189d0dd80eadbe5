// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

// Package updwire implements the updbus field-bus update protocol: telegram
// framing, the opcode and error-code tables, CRC routines, command builders
// and payload parsers shared by the device core and the host flasher.
package updwire

// Protocol framing bytes
const (
	StartByte = 0x68
	EndByte   = 0x16
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Telegram size limits. The payload ceiling leaves room for a full staging
// buffer worth of data plus command headers when telegrams travel over a
// framed serial or WebSocket link instead of the 13-byte field-bus budget.
const (
	MaxPayloadSize  = 4224
	MaxTelegramSize = MaxPayloadSize + 6 // len(2) + opcode(2) + crc(2)
)

// MaxBusChunk is the largest SendData payload a single telegram can carry on
// the real field bus, where the outer transport frame leaves 13 bytes.
const MaxBusChunk = 13

// CRC-16-CCITT configuration (telegram integrity)
const (
	crc16Polynomial = 0x1021
	crc16Initial    = 0xFFFF
)

// CRC-32 configuration (image integrity, reflected polynomial)
const (
	CRC32Initial    = 0xFFFFFFFF
	crc32Polynomial = 0xEDB88320
)

// Opcode identifies an update command or response telegram.
type Opcode uint16

// Command opcodes. The values are part of the wire contract with deployed
// devices and must not change.
const (
	OpEraseSector        Opcode = 0
	OpSendData           Opcode = 1
	OpProgram            Opcode = 2
	OpUpdateBootDesc     Opcode = 3
	OpReqData            Opcode = 10
	OpGetLastError       Opcode = 20
	OpSendLastError      Opcode = 21
	OpUnlockDevice       Opcode = 30
	OpRequestUID         Opcode = 31
	OpResponseUID        Opcode = 32
	OpAppVersionRequest  Opcode = 33
	OpAppVersionResponse Opcode = 34
)

// Bare acknowledge opcodes, used when a command produces no reply payload.
// They sit well above the command range.
const (
	OpAck  Opcode = 0x00C2
	OpNack Opcode = 0x00C3
)

// UIDLength is the size of the controller's burned-in unique ID as carried
// in UnlockDevice and ResponseUID telegrams.
const UIDLength = 12

// AppVersionLength is the size of the version string inside an application
// image, returned by AppVersionResponse.
const AppVersionLength = 12

// BootBlockSize is the on-flash size of one boot descriptor slot.
const BootBlockSize = 256

// RequiresUnlock reports whether the opcode is destructive and therefore
// gated on the device being unlocked.
func (op Opcode) RequiresUnlock() bool {
	switch op {
	case OpEraseSector, OpSendData, OpProgram, OpUpdateBootDesc, OpReqData:
		return true
	}
	return false
}

// String returns the protocol name of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpEraseSector:
		return "ERASE_SECTOR"
	case OpSendData:
		return "SEND_DATA"
	case OpProgram:
		return "PROGRAM"
	case OpUpdateBootDesc:
		return "UPDATE_BOOT_DESC"
	case OpReqData:
		return "REQ_DATA"
	case OpGetLastError:
		return "GET_LAST_ERROR"
	case OpSendLastError:
		return "SEND_LAST_ERROR"
	case OpUnlockDevice:
		return "UNLOCK_DEVICE"
	case OpRequestUID:
		return "REQUEST_UID"
	case OpResponseUID:
		return "RESPONSE_UID"
	case OpAppVersionRequest:
		return "APP_VERSION_REQUEST"
	case OpAppVersionResponse:
		return "APP_VERSION_RESPONSE"
	case OpAck:
		return "ACK"
	case OpNack:
		return "NACK"
	}
	return "UNKNOWN"
}

// Decoder states (internal)
const (
	stateIdle = iota
	stateLen1
	stateLen2
	stateOp1
	stateOp2
	statePayload
	stateCRC1
	stateCRC2
)
