// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ferromont/updbus/pkg/flasher"
)

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type flashProgressMsg flasher.Progress

type flashDoneMsg struct {
	err     error
	elapsed time.Duration
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// flashModel is the Bubble Tea model for the flash progress view
type flashModel struct {
	connInfo string
	image    flasher.Image

	bar      progress.Model
	current  flasher.Progress
	log      []string
	maxLog   int
	events   chan tea.Msg
	cancel   context.CancelFunc
	done     bool
	err      error
	elapsed  time.Duration
	quitting bool
	width    int
}

func initialFlashModel(connInfo string, img flasher.Image, events chan tea.Msg, cancel context.CancelFunc) flashModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 50

	return flashModel{
		connInfo: connInfo,
		image:    img,
		bar:      bar,
		log:      make([]string, 0),
		maxLog:   8,
		events:   events,
		cancel:   cancel,
		width:    80,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m flashModel) Init() tea.Cmd {
	return m.waitForEvent()
}

// waitForEvent pulls the next message from the flashing goroutine
func (m flashModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.cancel()
			if m.done {
				return m, tea.Quit
			}
			// Wait for the flash goroutine to unwind before quitting
			return m, m.waitForEvent()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		barWidth := msg.Width - 10
		if barWidth > 60 {
			barWidth = 60
		}
		if barWidth > 10 {
			m.bar.Width = barWidth
		}

	case flashProgressMsg:
		prev := m.current.Phase
		m.current = flasher.Progress(msg)
		if m.current.Phase != prev {
			m.addLogEntry(fmt.Sprintf("%s...", m.current.Phase))
		}
		return m, m.waitForEvent()

	case flashDoneMsg:
		m.done = true
		m.err = msg.err
		m.elapsed = msg.elapsed
		return m, tea.Quit
	}

	return m, nil
}

func (m *flashModel) addLogEntry(entry string) {
	m.log = append(m.log, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), entry))
	if len(m.log) > m.maxLog {
		m.log = m.log[len(m.log)-m.maxLog:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m flashModel) View() string {
	if m.quitting && !m.done {
		return "Cancelling update...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("UPDBUS FLASH"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | q=cancel", m.connInfo)))
	s.WriteString("\n\n")

	// Image summary
	var info strings.Builder
	info.WriteString(labelStyle.Render("Image:   "))
	info.WriteString(valueStyle.Render(fmt.Sprintf("%d bytes at 0x%05X", len(m.image.Data), m.image.Address)))
	info.WriteString("\n")
	info.WriteString(labelStyle.Render("Phase:   "))
	info.WriteString(valueStyle.Render(m.current.Phase))
	info.WriteString("\n")
	info.WriteString(labelStyle.Render("Blocks:  "))
	info.WriteString(valueStyle.Render(fmt.Sprintf("%d / %d", m.current.CurrentBlock, m.current.TotalBlocks)))
	info.WriteString("\n")
	info.WriteString(labelStyle.Render("Written: "))
	info.WriteString(valueStyle.Render(fmt.Sprintf("%d bytes in %s",
		m.current.BytesWritten, m.current.Elapsed.Round(100*time.Millisecond))))
	s.WriteString(boxStyle.Render(info.String()))
	s.WriteString("\n\n")

	// Progress bar
	s.WriteString("  ")
	s.WriteString(m.bar.ViewAs(m.current.Percentage / 100.0))
	s.WriteString("\n\n")

	// Activity log
	if len(m.log) > 0 {
		var logContent strings.Builder
		logContent.WriteString(labelStyle.Render("Activity"))
		logContent.WriteString("\n")
		for _, entry := range m.log {
			logContent.WriteString(headerStyle.Render(entry))
			logContent.WriteString("\n")
		}
		s.WriteString(boxStyle.Render(strings.TrimRight(logContent.String(), "\n")))
		s.WriteString("\n")
	}

	// Result line
	if m.done {
		s.WriteString("\n")
		if m.err != nil {
			s.WriteString(errorStyle.Render(fmt.Sprintf("FAILED: %v", m.err)))
		} else {
			s.WriteString(valueStyle.Render(fmt.Sprintf("Update complete in %s. Restart the device to boot the new application.",
				m.elapsed.Round(100*time.Millisecond))))
		}
		s.WriteString("\n")
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// Entry Point
//////////////////////////////////////////////////////////////

// runFlashTUI drives a full image update while rendering a progress view.
// The flashing itself runs in a goroutine; progress callbacks are forwarded
// to the Bubble Tea program over a channel.
func runFlashTUI(conn io.ReadWriter, connInfo string, img flasher.Image, blockIndex uint8, uid []byte) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan tea.Msg, 32)

	prog := flasher.New(conn,
		flasher.WithChunkSize(flashChunkSize),
		flasher.WithBlockSize(flashBlockSize),
		flasher.WithProgressCallback(func(p flasher.Progress) {
			events <- flashProgressMsg(p)
		}),
	)

	go func() {
		start := time.Now()
		err := prog.FlashImage(ctx, img, blockIndex, uid)
		events <- flashDoneMsg{err: err, elapsed: time.Since(start)}
	}()

	m := initialFlashModel(connInfo, img, events, cancel)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("progress view: %w", err)
	}

	if fm, ok := final.(flashModel); ok && fm.err != nil {
		return fmt.Errorf("update failed: %w", fm.err)
	}
	return nil
}
