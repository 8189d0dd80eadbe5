// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ferromont/updbus/pkg/updwire"
)

var (
	monitorStatsInterval int
	monitorErrorsOnly    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and display protocol traffic",
	Long: `Continuously decode and display update protocol telegrams as they arrive.

Each telegram is shown with timestamp, opcode and decoded payload. Damaged
frames are highlighted, and a statistics line (telegram rate, ACK/NACK
counts, error rates) is printed at a configurable interval.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics interval in seconds (0 disables)")
	monitorCmd.Flags().BoolVar(&monitorErrorsOnly, "errors-only", false, "Show only damaged frames and NACKs")
}

var (
	monitorErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	monitorStatsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("updbus - Protocol Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := updwire.NewDecoder()
	stats := updwire.NewStatistics()
	buf := make([]byte, 512)

	lastStats := time.Now()
	statsEvery := time.Duration(monitorStatsInterval) * time.Second

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err == ErrConnectionClosed {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			tel, err := decoder.DecodeByte(buf[i])
			if tel != nil || err != nil {
				stats.Update(tel, err)
			}
			if err != nil {
				fmt.Println(monitorErrStyle.Render(fmt.Sprintf("[ERROR] %v", err)))
				continue
			}
			if tel == nil {
				continue
			}
			if monitorErrorsOnly && tel.Opcode() != updwire.OpNack {
				continue
			}
			fmt.Print(updwire.FormatTelegram(tel))
		}

		if statsEvery > 0 && time.Since(lastStats) >= statsEvery {
			fmt.Println(monitorStatsStyle.Render("--- " + stats.String()))
			lastStats = time.Now()
		}
	}
}
