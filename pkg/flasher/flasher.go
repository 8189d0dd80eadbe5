// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

// Package flasher drives the device-side update protocol from the host: it
// authenticates, streams image data, programs flash blocks and commits the
// boot descriptor. Retries are deliberately absent; the device never retries
// either, and a NACK surfaces the device's last-error code for the operator.
package flasher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ferromont/updbus/pkg/updater"
	"github.com/ferromont/updbus/pkg/updwire"
)

// Image describes one application image to flash.
type Image struct {
	// Data is the raw image contents.
	Data []byte

	// Address is the flash byte address the image starts at.
	Address uint32

	// VersionAddress points at the 12-byte version string inside the
	// flashed image, recorded in the boot descriptor.
	VersionAddress uint32
}

// Programmer drives one device over a telegram transport. Commands are
// strictly request/reply; the Programmer is not safe for concurrent use.
type Programmer struct {
	device  io.ReadWriter
	decoder *updwire.Decoder
	config  Config
}

// New creates a Programmer over the given transport.
func New(device io.ReadWriter, opts ...Option) *Programmer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Programmer{
		device:  device,
		decoder: updwire.NewDecoder(),
		config:  cfg,
	}
}

// roundTrip sends one command telegram and waits for the device's reply
// frame.
func (p *Programmer) roundTrip(op updwire.Opcode, payload []byte) (*updwire.Telegram, error) {
	frame, err := updwire.EncodeFrame(op, payload)
	if err != nil {
		return nil, err
	}
	if _, err := p.device.Write(frame); err != nil {
		return nil, fmt.Errorf("write %s: %w", op, err)
	}

	buf := make([]byte, 512)
	for {
		n, err := p.device.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read reply to %s: %w", op, err)
		}
		for i := 0; i < n; i++ {
			tel, err := p.decoder.DecodeByte(buf[i])
			if err != nil {
				return nil, fmt.Errorf("reply to %s: %w", op, err)
			}
			if tel != nil {
				if p.config.Logger != nil {
					p.config.Logger.Printf("%s -> %s", op, tel.Opcode())
				}
				return tel, nil
			}
		}
	}
}

// command sends one telegram and resolves a NACK into the device's last
// error.
func (p *Programmer) command(op updwire.Opcode, payload []byte) (*updwire.Telegram, error) {
	tel, err := p.roundTrip(op, payload)
	if err != nil {
		return nil, err
	}
	if tel.Opcode() != updwire.OpNack {
		return tel, nil
	}

	code, err := p.LastError()
	if err != nil {
		return nil, fmt.Errorf("%s NACKed and last-error query failed: %w", op, err)
	}
	return nil, &updwire.ProtocolError{Operation: op.String(), Code: code}
}

// LastError queries and clears the device's stored outcome code.
func (p *Programmer) LastError() (updwire.ErrorCode, error) {
	tel, err := p.roundTrip(updwire.OpGetLastError, nil)
	if err != nil {
		return 0, err
	}
	if tel.Opcode() != updwire.OpSendLastError {
		return 0, fmt.Errorf("unexpected reply %s to GET_LAST_ERROR", tel.Opcode())
	}
	return updwire.ParseLastError(tel.Payload())
}

// Unlock authenticates against the device lock. uid is the 12-byte unique
// ID candidate; it may be nil when the operator has physical access to the
// device, in which case the device unlocks unconditionally.
func (p *Programmer) Unlock(uid []byte) error {
	_, err := p.command(updwire.OpUnlockDevice, updwire.NewUnlockDevice(uid).Payload())
	return err
}

// RequestUID fetches the device's unique ID. Only answered while the
// physical-access signal is indicated at the device.
func (p *Programmer) RequestUID() ([]byte, error) {
	tel, err := p.command(updwire.OpRequestUID, nil)
	if err != nil {
		return nil, err
	}
	if tel.Opcode() != updwire.OpResponseUID {
		return nil, fmt.Errorf("unexpected reply %s to REQUEST_UID", tel.Opcode())
	}
	return tel.Payload(), nil
}

// AppVersion reads the version string of the application behind boot
// descriptor block index.
func (p *Programmer) AppVersion(index uint8) (string, error) {
	tel, err := p.command(updwire.OpAppVersionRequest, []byte{index})
	if err != nil {
		return "", err
	}
	if tel.Opcode() != updwire.OpAppVersionResponse {
		return "", fmt.Errorf("unexpected reply %s to APP_VERSION_REQUEST", tel.Opcode())
	}
	return strings.TrimRight(string(tel.Payload()), "\x00"), nil
}

// EraseSector erases one flash sector. This also rewinds the device's
// staging buffer, starting a fresh transfer cycle.
func (p *Programmer) EraseSector(sector uint8) error {
	_, err := p.command(updwire.OpEraseSector, []byte{sector})
	return err
}

// SendData streams data into the device's staging buffer in ChunkSize
// telegrams. Chunks are only meaningful in order; there is no way to
// re-send at an offset, so any failure means restarting the cycle.
func (p *Programmer) SendData(data []byte) error {
	for off := 0; off < len(data); off += p.config.ChunkSize {
		end := off + p.config.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := p.command(updwire.OpSendData, data[off:end]); err != nil {
			return fmt.Errorf("chunk at offset %d: %w", off, err)
		}
	}
	return nil
}

// Program commits count staged bytes to the flash address. The CRC-32 the
// device recomputes over its staged data must match expectedCRC or nothing
// is written.
func (p *Programmer) Program(count, address, expectedCRC uint32) error {
	_, err := p.command(updwire.OpProgram, updwire.NewProgram(count, address, expectedCRC).Payload())
	return err
}

// UpdateBootDescriptor stages the descriptor block and commits it to slot
// index. The device validates the described application first and leaves
// the previous descriptor untouched when validation fails.
func (p *Programmer) UpdateBootDescriptor(block updater.AppDescriptionBlock, index uint8) error {
	raw := block.Marshal()
	if err := p.SendData(raw); err != nil {
		return err
	}
	crc := updwire.ChecksumCRC32(raw)
	_, err := p.command(updwire.OpUpdateBootDesc, updwire.NewUpdateBootDesc(crc, index).Payload())
	return err
}

// FlashImage runs the complete update workflow: unlock, erase the covering
// sectors, stream and program the image block by block, then stage and
// commit the boot descriptor. The context is consulted between commands; an
// in-flight command always runs to completion on the device.
func (p *Programmer) FlashImage(ctx context.Context, img Image, descriptorIndex uint8, uid []byte) error {
	if len(img.Data) == 0 {
		return fmt.Errorf("image is empty")
	}
	start := time.Now()
	blocks := (len(img.Data) + p.config.BlockSize - 1) / p.config.BlockSize

	p.reportProgress(Progress{Phase: "unlocking", TotalBlocks: blocks, Elapsed: time.Since(start)})
	if err := p.Unlock(uid); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}

	p.reportProgress(Progress{Phase: "erasing", TotalBlocks: blocks, Elapsed: time.Since(start)})
	firstSector := img.Address / updater.SectorSize
	lastSector := (img.Address + uint32(len(img.Data)) - 1) / updater.SectorSize
	for sector := firstSector; sector <= lastSector; sector++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		if err := p.EraseSector(uint8(sector)); err != nil {
			return fmt.Errorf("erase sector %d: %w", sector, err)
		}
	}

	written := 0
	for block := 0; block < blocks; block++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		off := block * p.config.BlockSize
		end := off + p.config.BlockSize
		if end > len(img.Data) {
			end = len(img.Data)
		}
		// The IAP programs fixed block sizes; pad the tail with erased
		// flash bytes.
		data := img.Data[off:end]
		if len(data) < p.config.BlockSize {
			padded := make([]byte, p.config.BlockSize)
			for i := range padded {
				padded[i] = 0xFF
			}
			copy(padded, data)
			data = padded
		}

		if err := p.SendData(data); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		crc := updwire.ChecksumCRC32(data)
		if err := p.Program(uint32(len(data)), img.Address+uint32(off), crc); err != nil {
			return fmt.Errorf("program block %d: %w", block, err)
		}

		written = end
		p.reportProgress(Progress{
			Phase:        "programming",
			CurrentBlock: block + 1,
			TotalBlocks:  blocks,
			Percentage:   float64(written) / float64(len(img.Data)) * 100,
			BytesWritten: written,
			Elapsed:      time.Since(start),
		})
	}

	p.reportProgress(Progress{
		Phase: "descriptor", CurrentBlock: blocks, TotalBlocks: blocks,
		Percentage: 100, BytesWritten: written, Elapsed: time.Since(start),
	})
	block := updater.AppDescriptionBlock{
		StartAddress:      img.Address,
		EndAddress:        img.Address + uint32(len(img.Data)),
		CRC:               updwire.ChecksumCRC32(img.Data),
		AppVersionAddress: img.VersionAddress,
	}
	if err := p.UpdateBootDescriptor(block, descriptorIndex); err != nil {
		return fmt.Errorf("boot descriptor: %w", err)
	}

	p.reportProgress(Progress{
		Phase: "complete", CurrentBlock: blocks, TotalBlocks: blocks,
		Percentage: 100, BytesWritten: written, Elapsed: time.Since(start),
	})
	return nil
}

func (p *Programmer) reportProgress(pr Progress) {
	if p.config.Progress != nil {
		p.config.Progress(pr)
	}
}
