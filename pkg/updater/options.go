// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

import "log"

// Default link layout and descriptor geometry of the shipped bootloader.
// The descriptor region layout is part of the flash contract with deployed
// devices: fixed 256-byte slots counted downward from DefaultDescriptorTop.
const (
	DefaultVectorsStart    = 0x0000
	DefaultTextEnd         = 0x0E00
	DefaultDescriptorTop   = 0x1000
	DefaultDescriptorCount = 2
)

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithProtectedRegion overrides the updater's own byte range, normally taken
// from the link layout.
func WithProtectedRegion(vectorsStart, textEnd uint32) Option {
	return func(d *Dispatcher) {
		d.guard = RegionGuard{VectorsStart: vectorsStart, TextEnd: textEnd}
	}
}

// WithDescriptorRegion overrides the boot descriptor geometry: slots of 256
// bytes counted downward from top, indexed 0..count-1.
func WithDescriptorRegion(top uint32, count uint8) Option {
	return func(d *Dispatcher) {
		d.descriptorTop = top
		d.descriptorCount = count
	}
}

// WithLogger installs a trace logger for command handling. Nil (the
// default) disables tracing.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}
