// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import "fmt"

// Status is the link-level acknowledge carried back for every command.
type Status byte

// Acknowledge values, matching the bus transport's ACK/NACK PDUs.
const (
	ACK  Status = 0xC2
	NACK Status = 0xC3
)

// String returns "ACK" or "NACK".
func (s Status) String() string {
	if s == ACK {
		return "ACK"
	}
	return "NACK"
}

// ErrorCode is the device's command outcome, retrievable via GetLastError.
// Codes below 0x100 are raw controller flash (IAP) statuses; protocol-level
// codes occupy 0x100 and up. The values are part of the wire contract.
type ErrorCode uint32

const (
	Success ErrorCode = 0x000

	// ErrFlashFault is reported when the flash driver fails with a status
	// the protocol table does not name.
	ErrFlashFault ErrorCode = 0x00F

	ErrUnknownCommand           ErrorCode = 0x100
	ErrCRC                      ErrorCode = 0x101
	ErrAddressNotAllowedToFlash ErrorCode = 0x102
	ErrSectorNotAllowedToErase  ErrorCode = 0x103
	ErrRAMBufferOverflow        ErrorCode = 0x104
	ErrWrongDescriptorBlock     ErrorCode = 0x105
	ErrApplicationNotStartable  ErrorCode = 0x106
	ErrDeviceLocked             ErrorCode = 0x107
	ErrUIDMismatch              ErrorCode = 0x108

	ErrNotImplemented ErrorCode = 0xFFFF
)

// String returns the protocol name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case ErrUnknownCommand:
		return "UNKNOWN_COMMAND"
	case ErrCRC:
		return "CRC_ERROR"
	case ErrAddressNotAllowedToFlash:
		return "ADDRESS_NOT_ALLOWED_TO_FLASH"
	case ErrSectorNotAllowedToErase:
		return "SECTOR_NOT_ALLOWED_TO_ERASE"
	case ErrRAMBufferOverflow:
		return "RAM_BUFFER_OVERFLOW"
	case ErrWrongDescriptorBlock:
		return "WRONG_DESCRIPTOR_BLOCK"
	case ErrApplicationNotStartable:
		return "APPLICATION_NOT_STARTABLE"
	case ErrDeviceLocked:
		return "DEVICE_LOCKED"
	case ErrUIDMismatch:
		return "UID_MISMATCH"
	case ErrNotImplemented:
		return "NOT_IMPLEMENTED"
	}
	if c < 0x100 {
		return fmt.Sprintf("FLASH_STATUS_0x%02X", uint32(c))
	}
	return fmt.Sprintf("UNKNOWN_0x%X", uint32(c))
}

// ProtocolError is returned by the host flasher when a command is NACKed.
// It carries the operation name and the device's last-error code.
type ProtocolError struct {
	Operation string
	Code      ErrorCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%X)", e.Operation, e.Code, uint32(e.Code))
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	_, ok := err.(*ProtocolError)
	return ok
}

// Response is the outcome of dispatching one command: the link-level status
// plus, for a subset of opcodes, a reply telegram.
type Response struct {
	Status  Status
	ReplyOp Opcode // zero when the response is a bare ACK/NACK
	Payload []byte
}

// AckResponse is a bare positive acknowledge.
func AckResponse() Response {
	return Response{Status: ACK}
}

// NackResponse is a bare negative acknowledge.
func NackResponse() Response {
	return Response{Status: NACK}
}

// Handler dispatches one decoded command telegram to completion.
type Handler interface {
	Dispatch(op Opcode, payload []byte) Response
}
