// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package cmd

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferromont/updbus/pkg/updater"
	"github.com/ferromont/updbus/pkg/updwire"
)

var (
	simFlashSize uint32
	simFlashFile string
	simUID       string
	simPhysical  bool
	simVerbose   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an emulated device on the connection",
	Long: `Answer update commands on the connection the way a device in update
mode would, backed by an in-memory flash. Useful as the far end of a
serial loopback (socat) or a WebSocket bridge when no hardware is around.

The emulated flash persists across runs via --flash-file: state is loaded
on start when the file exists and written back on shutdown, so a flashed
image survives a restart just like real flash.

With --physical the emulated physical-access signal is held active and
UNLOCK_DEVICE succeeds without a UID. Otherwise set the emulated unique
ID with --sim-uid and unlock against it.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Uint32Var(&simFlashSize, "flash-size", 0x80000, "Emulated flash size in bytes")
	simulateCmd.Flags().StringVar(&simFlashFile, "flash-file", "", "Snapshot file for persistent flash state")
	simulateCmd.Flags().StringVar(&simUID, "sim-uid", "", "Emulated unique ID (24 hex digits)")
	simulateCmd.Flags().BoolVar(&simPhysical, "physical", false, "Hold the emulated physical-access signal active")
	simulateCmd.Flags().BoolVar(&simVerbose, "verbose", false, "Trace dispatched commands")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	flash, err := openSimFlash()
	if err != nil {
		return err
	}

	if simUID != "" {
		uid, err := parseSimUID(simUID)
		if err != nil {
			return err
		}
		flash.SetUID(uid)
	}

	var opts []updater.Option
	if simVerbose {
		opts = append(opts, updater.WithLogger(log.New(os.Stderr, "updater: ", log.Ltime)))
	}
	dispatcher := updater.NewDispatcher(flash, updater.StaticSensor(simPhysical), opts...)

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("updbus - Device Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Flash: %d bytes, physical access %v\n", len(flash.Bytes()), simPhysical)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	// Snapshot on Ctrl+C as well as on clean EOF
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		saveSimFlash(flash)
		os.Exit(0)
	}()

	serveErr := updwire.Serve(conn, dispatcher, func(err error) {
		log.Printf("Frame error: %v", err)
	})

	saveSimFlash(flash)
	return serveErr
}

// openSimFlash restores the snapshot file when one is given and exists,
// otherwise starts from erased flash.
func openSimFlash() (*updater.MemFlash, error) {
	if simFlashFile != "" {
		flash, err := updater.LoadMemFlash(simFlashFile)
		if err == nil {
			log.Printf("Restored flash state from %s", simFlashFile)
			return flash, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("restore flash state: %w", err)
		}
	}
	return updater.NewMemFlash(simFlashSize), nil
}

func saveSimFlash(flash *updater.MemFlash) {
	if simFlashFile == "" {
		return
	}
	if err := flash.SaveFile(simFlashFile); err != nil {
		log.Printf("Failed to save flash state: %v", err)
		return
	}
	log.Printf("Saved flash state to %s", simFlashFile)
}

func parseSimUID(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(":", "", " ", "").Replace(s)
	uid, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid unique ID: %w", err)
	}
	if len(uid) != updwire.UIDLength {
		return nil, fmt.Errorf("unique ID must be %d bytes, got %d", updwire.UIDLength, len(uid))
	}
	return uid, nil
}
