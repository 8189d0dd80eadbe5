// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferromont/updbus/pkg/flasher"
	"github.com/ferromont/updbus/pkg/updwire"
)

var (
	infoUID       bool
	infoBlocks    uint8
	infoLastError bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Query device identity and application versions",
	Long: `Query a device in update mode without changing anything on it.

Reads the application version string behind each boot descriptor block.
With --uid the device's 12-byte unique ID is requested too; the device
only answers that while its physical-access signal is indicated, so this
needs someone at the hardware.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoUID, "uid", false, "Request the unique ID (needs physical access at the device)")
	infoCmd.Flags().Uint8Var(&infoBlocks, "blocks", 2, "Number of boot descriptor blocks to query")
	infoCmd.Flags().BoolVar(&infoLastError, "last-error", false, "Read and clear the device's stored outcome code")
}

func runInfo(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	prog := flasher.New(conn)

	fmt.Printf("updbus - Device Info\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	if infoUID {
		uid, err := prog.RequestUID()
		if err != nil {
			if updwire.IsProtocolError(err) {
				fmt.Printf("UID:        refused (%v)\n", err)
			} else {
				return err
			}
		} else {
			fmt.Printf("UID:        % 02X\n", uid)
		}
	}

	for index := uint8(0); index < infoBlocks; index++ {
		version, err := prog.AppVersion(index)
		switch {
		case err == nil && version == "":
			fmt.Printf("Block %d:    (no valid application)\n", index)
		case err == nil:
			fmt.Printf("Block %d:    %q\n", index, version)
		case updwire.IsProtocolError(err):
			fmt.Printf("Block %d:    refused (%v)\n", index, err)
		default:
			return err
		}
	}

	if infoLastError {
		code, err := prog.LastError()
		if err != nil {
			return err
		}
		fmt.Printf("Last error: %s (0x%04X)\n", code, uint32(code))
	}

	return nil
}
