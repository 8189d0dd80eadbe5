// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package flasher

import (
	"log"

	"github.com/ferromont/updbus/pkg/updwire"
)

// DefaultChunkSize is the SEND_DATA payload per telegram. 13 bytes is the
// field-bus telegram budget; links with larger frames can raise it.
const DefaultChunkSize = updwire.MaxBusChunk

// DefaultBlockSize is the flash block programmed per PROGRAM command. The
// controller's IAP accepts 256, 512, 1024 or 4096; 4096 is excluded because
// the device's staging gate rejects a completely full buffer.
const DefaultBlockSize = 1024

// Config holds the programmer configuration.
type Config struct {
	// ChunkSize is the SEND_DATA payload per telegram.
	ChunkSize int

	// BlockSize is the flash block per PROGRAM command.
	BlockSize int

	// Progress receives block-by-block updates during FlashImage (optional).
	Progress ProgressCallback

	// Logger traces each command round trip (optional).
	Logger *log.Logger
}

func defaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		BlockSize: DefaultBlockSize,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithChunkSize sets the SEND_DATA payload per telegram.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= updwire.MaxPayloadSize {
			c.ChunkSize = size
		}
	}
}

// WithBlockSize sets the flash block per PROGRAM command. Accepted values
// are the controller's IAP copy sizes that fit the staging gate.
func WithBlockSize(size int) Option {
	return func(c *Config) {
		switch size {
		case 256, 512, 1024:
			c.BlockSize = size
		}
	}
}

// WithProgressCallback installs a progress callback for FlashImage.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.Progress = cb
	}
}

// WithLogger installs a trace logger for command round trips.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
