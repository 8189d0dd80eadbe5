// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

// CalculateCRC16 computes the CRC-16-CCITT checksum protecting one telegram
// frame on the wire.
func CalculateCRC16(data []byte) uint16 {
	crc := uint16(crc16Initial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// UpdateCRC32 folds data into a running CRC-32 accumulator. Seed with
// CRC32Initial; the device computes its running transfer checksum and the
// authoritative programming checksum with the same routine.
func UpdateCRC32(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc32Polynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// ChecksumCRC32 computes the CRC-32 of data in one pass.
func ChecksumCRC32(data []byte) uint32 {
	return UpdateCRC32(CRC32Initial, data)
}
