// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

import (
	"encoding/binary"
	"fmt"

	"github.com/ferromont/updbus/pkg/updwire"
)

// Application address limits enforced before a descriptor is accepted, and
// the sanity bound on the version string pointer.
const (
	maxAppStartAddress = 0x5000
	maxAppEndAddress   = 0x100000
	versionSanityBound = 0x50000
)

// vectorTableWords is the number of 32-bit words summed for the vector
// table checksum. Their sum must be exactly zero for a plausible image.
const vectorTableWords = 8

// AppDescriptionBlock is the 256-byte on-flash record describing one
// candidate application image. The bootloader consults it at startup to
// decide what to run. Fields are little-endian in flash, the controller's
// native order; the remainder of the block is padding.
type AppDescriptionBlock struct {
	StartAddress      uint32
	EndAddress        uint32
	CRC               uint32
	AppVersionAddress uint32
}

// UnmarshalDescriptor decodes a descriptor block from its on-flash form.
func UnmarshalDescriptor(data []byte) (AppDescriptionBlock, error) {
	if len(data) < 16 {
		return AppDescriptionBlock{}, fmt.Errorf("descriptor block too short: %d bytes", len(data))
	}
	return AppDescriptionBlock{
		StartAddress:      binary.LittleEndian.Uint32(data[0:4]),
		EndAddress:        binary.LittleEndian.Uint32(data[4:8]),
		CRC:               binary.LittleEndian.Uint32(data[8:12]),
		AppVersionAddress: binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// Marshal encodes the descriptor into its fixed 256-byte on-flash form.
func (b AppDescriptionBlock) Marshal() []byte {
	data := make([]byte, updwire.BootBlockSize)
	binary.LittleEndian.PutUint32(data[0:4], b.StartAddress)
	binary.LittleEndian.PutUint32(data[4:8], b.EndAddress)
	binary.LittleEndian.PutUint32(data[8:12], b.CRC)
	binary.LittleEndian.PutUint32(data[12:16], b.AppVersionAddress)
	return data
}

// Validator checks a candidate application image against its descriptor
// before the descriptor is made bootable.
type Validator struct {
	flash FlashDriver
}

// NewValidator creates a validator reading image bytes through flash.
func NewValidator(flash FlashDriver) Validator {
	return Validator{flash: flash}
}

// CheckApplication reports whether the descriptor describes a startable
// application: address limits hold, the CRC-32 over the flashed image range
// matches the declared checksum, and the image's vector table sums to zero.
func (v Validator) CheckApplication(block AppDescriptionBlock) bool {
	if block.StartAddress > maxAppStartAddress {
		return false
	}
	if block.EndAddress > maxAppEndAddress {
		return false
	}
	if block.StartAddress == block.EndAddress {
		return false
	}

	image, err := v.flash.Read(block.StartAddress, block.EndAddress-block.StartAddress)
	if err != nil {
		return false
	}
	if updwire.ChecksumCRC32(image) != block.CRC {
		return false
	}

	return v.checkVectorTable(block.StartAddress)
}

// checkVectorTable sums the eight 32-bit words at the image entry point.
func (v Validator) checkVectorTable(start uint32) bool {
	words, err := v.flash.Read(start, vectorTableWords*4)
	if err != nil {
		return false
	}
	var sum uint32
	for i := 0; i < vectorTableWords; i++ {
		sum += binary.LittleEndian.Uint32(words[i*4 : i*4+4])
	}
	return sum == 0
}
