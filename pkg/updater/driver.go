// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

// Package updater implements the device-resident firmware update core: the
// command dispatcher and its safety gates (device lock, flash region guard,
// CRC verifier, boot descriptor validator) driven over the updwire protocol.
//
// The flash hardware and the physical-access signal are collaborators behind
// interfaces, selected at construction time. MemFlash provides a recording
// in-memory stand-in for bench work and tests.
package updater

import (
	"fmt"

	"github.com/ferromont/updbus/pkg/updwire"
)

// FlashDriver is the controller's in-application programming (IAP) surface.
// Erase and program calls are atomic from the core's point of view; the core
// never cancels one in flight.
type FlashDriver interface {
	// EraseSector erases one flash sector.
	EraseSector(sector uint8) error

	// ErasePage erases one flash page.
	ErasePage(page uint32) error

	// Program writes data to the flash address. The range must have been
	// erased beforehand.
	Program(address uint32, data []byte) error

	// ReadUID returns the 12-byte unique ID burned into the controller.
	ReadUID() ([]byte, error)

	// Read returns a copy of length flash bytes starting at address.
	Read(address, length uint32) ([]byte, error)
}

// AccessSensor reports the physical-access signal sampled at unlock time.
type AccessSensor interface {
	PhysicallyPresent() bool
}

// DriverError is a flash driver failure carrying the controller status that
// becomes the command's last-error code on the wire.
type DriverError struct {
	Op     string
	Status updwire.ErrorCode
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("flash %s failed: %s (0x%X)", e.Op, e.Status, uint32(e.Status))
}

// codeFromDriver maps a flash driver result to a wire error code.
func codeFromDriver(err error) updwire.ErrorCode {
	if err == nil {
		return updwire.Success
	}
	if de, ok := err.(*DriverError); ok {
		return de.Status
	}
	return updwire.ErrFlashFault
}

// StaticSensor is an AccessSensor with a fixed reading, for bench setups and
// tests.
type StaticSensor bool

// PhysicallyPresent returns the configured reading.
func (s StaticSensor) PhysicallyPresent() bool {
	return bool(s)
}
