// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package flasher

import "time"

// Progress describes how far a FlashImage run has come. Passed to the
// progress callback after every programmed block and phase change.
type Progress struct {
	// Phase is one of "unlocking", "erasing", "programming", "descriptor",
	// "complete".
	Phase string

	// CurrentBlock and TotalBlocks count programmed flash blocks.
	CurrentBlock int
	TotalBlocks  int

	// Percentage is the completion percentage (0.0 to 100.0).
	Percentage float64

	// BytesWritten is the number of image bytes programmed so far.
	BytesWritten int

	// Elapsed is the time since the run started.
	Elapsed time.Duration
}

// ProgressCallback receives Progress updates. Implementations should return
// quickly; the callback runs on the programming goroutine.
type ProgressCallback func(Progress)
