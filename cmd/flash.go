// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferromont/updbus/pkg/flasher"
	"github.com/ferromont/updbus/pkg/updwire"
)

var (
	flashAddress     uint32
	flashVersionAddr uint32
	flashBlockIndex  uint8
	flashChunkSize   int
	flashBlockSize   int
	flashPhysical    bool
	flashUseTUI      bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <image.bin>",
	Short: "Flash an application image",
	Long: `Run the complete update workflow against a device: unlock, erase the
covering sectors, stream and program the image, then commit the boot
descriptor so the bootloader starts the new application.

The device only accepts destructive commands after unlocking. With
--physical the device is expected to see the physical-access signal and
unlocks unconditionally; otherwise the 12-byte unique ID is required
(UPDBUS_UID environment variable, or prompted).

The boot descriptor is committed last. A device that fails mid-transfer
keeps booting its previous image; rerun the flash from the start to recover.

Supports both serial and WebSocket connections.`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().Uint32Var(&flashAddress, "address", 0x2000, "Flash address of the image")
	flashCmd.Flags().Uint32Var(&flashVersionAddr, "version-address", 0, "Address of the 12-byte version string inside the image (0: start+0x20)")
	flashCmd.Flags().Uint8Var(&flashBlockIndex, "block", 0, "Boot descriptor block index")
	flashCmd.Flags().IntVar(&flashChunkSize, "chunk", flasher.DefaultChunkSize, "SEND_DATA bytes per telegram")
	flashCmd.Flags().IntVar(&flashBlockSize, "block-size", flasher.DefaultBlockSize, "Flash bytes per PROGRAM command (256, 512 or 1024)")
	flashCmd.Flags().BoolVar(&flashPhysical, "physical", false, "Unlock via the physical-access signal, no UID")
	flashCmd.Flags().BoolVar(&flashUseTUI, "tui", true, "Render a progress UI (false for plain text)")
}

func runFlash(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	var uid []byte
	if !flashPhysical {
		uid, err = GetUID()
		if err != nil {
			return err
		}
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	versionAddr := flashVersionAddr
	if versionAddr == 0 {
		versionAddr = flashAddress + 0x20
	}
	img := flasher.Image{
		Data:           image,
		Address:        flashAddress,
		VersionAddress: versionAddr,
	}

	if flashUseTUI {
		return runFlashTUI(conn, connInfo, img, flashBlockIndex, uid)
	}

	prog := flasher.New(conn,
		flasher.WithChunkSize(flashChunkSize),
		flasher.WithBlockSize(flashBlockSize),
		flasher.WithProgressCallback(func(p flasher.Progress) {
			log.Printf("[%s] %5.1f%% block %d/%d (%d bytes, %s)",
				p.Phase, p.Percentage, p.CurrentBlock, p.TotalBlocks, p.BytesWritten,
				p.Elapsed.Round(10*time.Millisecond))
		}),
	)

	fmt.Printf("updbus - Flash\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Image: %s (%d bytes) -> 0x%05X, descriptor block %d\n\n",
		args[0], len(image), flashAddress, flashBlockIndex)

	if err := prog.FlashImage(context.Background(), img, flashBlockIndex, uid); err != nil {
		if updwire.IsProtocolError(err) {
			return fmt.Errorf("device rejected update: %w", err)
		}
		return err
	}

	fmt.Printf("\nUpdate complete. Restart the device to boot the new application.\n")
	return nil
}
