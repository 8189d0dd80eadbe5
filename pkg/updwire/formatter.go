// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import (
	"fmt"
	"strings"
)

// FormatTelegram renders a telegram in human-readable form for the monitor
// CLI: timestamp, opcode name and a decoded payload line.
func FormatTelegram(t *Telegram) string {
	timestamp := t.Timestamp().Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%04X) len=%d\n", timestamp, t.Opcode(), uint16(t.Opcode()), t.Length())
	if len(t.Payload()) > 0 || t.Opcode() == OpGetLastError || t.Opcode() == OpRequestUID {
		result += FormatPayload(t.Opcode(), t.Payload())
	}
	return result
}

// FormatPayload renders an opcode-specific payload description.
func FormatPayload(op Opcode, payload []byte) string {
	switch op {
	case OpEraseSector:
		if sector, err := ParseEraseSector(payload); err == nil {
			return fmt.Sprintf("  Sector: %d\n", sector)
		}

	case OpSendData:
		return fmt.Sprintf("  Data: %d bytes\n%s", len(payload), hexDump(payload))

	case OpProgram:
		if req, err := ParseProgram(payload); err == nil {
			return fmt.Sprintf("  Count: %d, Address: 0x%05X, CRC32: 0x%08X\n",
				req.Count, req.Address, req.ExpectedCRC)
		}

	case OpUpdateBootDesc:
		if req, err := ParseUpdateBootDesc(payload); err == nil {
			return fmt.Sprintf("  Block: %d, CRC32: 0x%08X\n", req.Index, req.ExpectedCRC)
		}

	case OpUnlockDevice:
		return fmt.Sprintf("  UID candidate: %s\n", formatUID(payload))

	case OpResponseUID:
		return fmt.Sprintf("  UID: %s\n", formatUID(payload))

	case OpAppVersionRequest:
		if index, err := ParseAppVersionRequest(payload); err == nil {
			return fmt.Sprintf("  Block: %d\n", index)
		}

	case OpAppVersionResponse:
		return fmt.Sprintf("  Version: %q\n", strings.TrimRight(string(payload), "\x00"))

	case OpSendLastError:
		if code, err := ParseLastError(payload); err == nil {
			return fmt.Sprintf("  Last error: %s (0x%X)\n", code, uint32(code))
		}

	case OpGetLastError, OpRequestUID, OpAck, OpNack:
		return "  (no payload)\n"
	}

	return hexDump(payload)
}

// formatUID renders a unique ID as colon-separated hex.
func formatUID(uid []byte) string {
	parts := make([]string, len(uid))
	for i, b := range uid {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// hexDump renders payload bytes 16 to a line.
func hexDump(payload []byte) string {
	if len(payload) == 0 {
		return "  (no payload)\n"
	}
	result := "  Payload: "
	for i, b := range payload {
		if i > 0 && i%16 == 0 {
			result += "\n           "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}
