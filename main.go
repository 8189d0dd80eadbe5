// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls
//
// updbus - Bus Firmware Update Tool
//
// Host-side tooling for the bus bootloader update protocol: flash
// application images, query devices, monitor update traffic and emulate
// a device for bench work.

package main

import (
	"os"

	"github.com/ferromont/updbus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
