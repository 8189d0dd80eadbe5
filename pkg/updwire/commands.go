// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import (
	"encoding/binary"
	"fmt"
)

// Command builders create telegrams ready for encoding. These are the host
// side of the protocol; the matching Parse functions below are used by the
// device core. Multi-byte integers travel big-endian, as the original bus
// devices expect.

// NewEraseSector creates an ERASE_SECTOR command for one flash sector.
// Erasing also rewinds the device's staging buffer, so a transfer always
// starts with an erase.
func NewEraseSector(sector uint8) *Telegram {
	return NewTelegram(OpEraseSector, []byte{sector})
}

// NewSendData creates a SEND_DATA command appending chunk to the device's
// staging buffer. The device tracks the write offset; chunks must arrive in
// order.
func NewSendData(chunk []byte) *Telegram {
	payload := make([]byte, len(chunk))
	copy(payload, chunk)
	return NewTelegram(OpSendData, payload)
}

// NewProgram creates a PROGRAM command writing count staged bytes to the
// flash address. expectedCRC is the CRC-32 of the staged data; the device
// recomputes it and programs only on an exact match.
func NewProgram(count, address, expectedCRC uint32) *Telegram {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], count)
	binary.BigEndian.PutUint32(payload[4:8], address)
	binary.BigEndian.PutUint32(payload[8:12], expectedCRC)
	return NewTelegram(OpProgram, payload)
}

// NewUpdateBootDesc creates an UPDATE_BOOT_DESC command committing the 256
// staged bytes as boot descriptor block index.
func NewUpdateBootDesc(expectedCRC uint32, index uint8) *Telegram {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[0:4], expectedCRC)
	payload[4] = index
	return NewTelegram(OpUpdateBootDesc, payload)
}

// NewGetLastError creates a GET_LAST_ERROR command. The device replies with
// SEND_LAST_ERROR and resets its stored outcome to SUCCESS.
func NewGetLastError() *Telegram {
	return NewTelegram(OpGetLastError, nil)
}

// NewUnlockDevice creates an UNLOCK_DEVICE command carrying the 12-byte UID
// candidate. With physical access indicated at the device the UID is
// ignored; pass nil to rely on that path alone.
func NewUnlockDevice(uid []byte) *Telegram {
	payload := make([]byte, UIDLength)
	copy(payload, uid)
	return NewTelegram(OpUnlockDevice, payload)
}

// NewRequestUID creates a REQUEST_UID command.
func NewRequestUID() *Telegram {
	return NewTelegram(OpRequestUID, nil)
}

// NewAppVersionRequest creates an APP_VERSION_REQUEST for the application
// described by boot descriptor block index.
func NewAppVersionRequest(index uint8) *Telegram {
	return NewTelegram(OpAppVersionRequest, []byte{index})
}

// NewReqData creates a REQ_DATA command. The readback operation is not
// implemented by deployed devices, which answer NOT_IMPLEMENTED.
func NewReqData(count, address uint32) *Telegram {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], count)
	binary.BigEndian.PutUint32(payload[4:8], address)
	return NewTelegram(OpReqData, payload)
}

// ProgramRequest is the decoded payload of a PROGRAM command.
type ProgramRequest struct {
	Count       uint32
	Address     uint32
	ExpectedCRC uint32
}

// ParseProgram decodes a PROGRAM payload.
func ParseProgram(payload []byte) (ProgramRequest, error) {
	if len(payload) < 12 {
		return ProgramRequest{}, fmt.Errorf("PROGRAM payload too short: %d bytes", len(payload))
	}
	return ProgramRequest{
		Count:       binary.BigEndian.Uint32(payload[0:4]),
		Address:     binary.BigEndian.Uint32(payload[4:8]),
		ExpectedCRC: binary.BigEndian.Uint32(payload[8:12]),
	}, nil
}

// UpdateBootDescRequest is the decoded payload of an UPDATE_BOOT_DESC command.
type UpdateBootDescRequest struct {
	ExpectedCRC uint32
	Index       uint8
}

// ParseUpdateBootDesc decodes an UPDATE_BOOT_DESC payload.
func ParseUpdateBootDesc(payload []byte) (UpdateBootDescRequest, error) {
	if len(payload) < 5 {
		return UpdateBootDescRequest{}, fmt.Errorf("UPDATE_BOOT_DESC payload too short: %d bytes", len(payload))
	}
	return UpdateBootDescRequest{
		ExpectedCRC: binary.BigEndian.Uint32(payload[0:4]),
		Index:       payload[4],
	}, nil
}

// ParseEraseSector decodes an ERASE_SECTOR payload.
func ParseEraseSector(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("ERASE_SECTOR payload empty")
	}
	return payload[0], nil
}

// ParseAppVersionRequest decodes an APP_VERSION_REQUEST payload.
func ParseAppVersionRequest(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("APP_VERSION_REQUEST payload empty")
	}
	return payload[0], nil
}

// EncodeLastError builds the SEND_LAST_ERROR reply payload. The four bytes
// travel little-endian: the original device copies its native status word
// straight into the telegram, and the host tooling has depended on that
// order ever since.
func EncodeLastError(code ErrorCode) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(code))
	return payload
}

// ParseLastError decodes a SEND_LAST_ERROR reply payload.
func ParseLastError(payload []byte) (ErrorCode, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("SEND_LAST_ERROR payload too short: %d bytes", len(payload))
	}
	return ErrorCode(binary.LittleEndian.Uint32(payload)), nil
}
