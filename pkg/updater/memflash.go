// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/ferromont/updbus/pkg/updwire"
)

// FlashOp records one destructive call issued to a MemFlash.
type FlashOp struct {
	Kind    string // "eraseSector", "erasePage", "program"
	Sector  uint8
	Page    uint32
	Address uint32
	Length  int
}

// MemFlash is an in-memory FlashDriver. It records every destructive call
// and can inject failures per operation, which makes it both the bench
// emulation target and the test double; the real IAP driver and MemFlash
// are interchangeable at dispatcher construction.
type MemFlash struct {
	mem []byte
	uid [updwire.UIDLength]byte

	// Ops records destructive calls in order.
	Ops []FlashOp

	// FailWith injects a failure for the named operation kind.
	FailWith map[string]updwire.ErrorCode
}

// NewMemFlash creates an erased (0xFF-filled) flash of size bytes.
func NewMemFlash(size uint32) *MemFlash {
	f := &MemFlash{
		mem:      make([]byte, size),
		FailWith: make(map[string]updwire.ErrorCode),
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

// SetUID sets the emulated controller's unique ID.
func (f *MemFlash) SetUID(uid []byte) {
	copy(f.uid[:], uid)
}

// Seed writes data directly into the emulated flash, bypassing the erase
// discipline. Test and bench setup only.
func (f *MemFlash) Seed(address uint32, data []byte) {
	copy(f.mem[address:], data)
}

// Bytes returns the emulated flash contents for inspection.
func (f *MemFlash) Bytes() []byte {
	return f.mem
}

func (f *MemFlash) failure(kind string) error {
	if code, ok := f.FailWith[kind]; ok {
		return &DriverError{Op: kind, Status: code}
	}
	return nil
}

// EraseSector fills one sector with 0xFF.
func (f *MemFlash) EraseSector(sector uint8) error {
	f.Ops = append(f.Ops, FlashOp{Kind: "eraseSector", Sector: sector})
	if err := f.failure("eraseSector"); err != nil {
		return err
	}
	start := uint32(sector) * SectorSize
	if start+SectorSize > uint32(len(f.mem)) {
		return &DriverError{Op: "eraseSector", Status: updwire.ErrFlashFault}
	}
	for i := start; i < start+SectorSize; i++ {
		f.mem[i] = 0xFF
	}
	return nil
}

// ErasePage fills one page with 0xFF.
func (f *MemFlash) ErasePage(page uint32) error {
	f.Ops = append(f.Ops, FlashOp{Kind: "erasePage", Page: page})
	if err := f.failure("erasePage"); err != nil {
		return err
	}
	start := page * PageSize
	if start+PageSize > uint32(len(f.mem)) {
		return &DriverError{Op: "erasePage", Status: updwire.ErrFlashFault}
	}
	for i := start; i < start+PageSize; i++ {
		f.mem[i] = 0xFF
	}
	return nil
}

// Program copies data into the emulated flash.
func (f *MemFlash) Program(address uint32, data []byte) error {
	f.Ops = append(f.Ops, FlashOp{Kind: "program", Address: address, Length: len(data)})
	if err := f.failure("program"); err != nil {
		return err
	}
	if int(address)+len(data) > len(f.mem) {
		return &DriverError{Op: "program", Status: updwire.ErrFlashFault}
	}
	copy(f.mem[address:], data)
	return nil
}

// ReadUID returns the emulated unique ID.
func (f *MemFlash) ReadUID() ([]byte, error) {
	if err := f.failure("readUID"); err != nil {
		return nil, err
	}
	uid := make([]byte, updwire.UIDLength)
	copy(uid, f.uid[:])
	return uid, nil
}

// Read returns a copy of length bytes at address, bounds-checked.
func (f *MemFlash) Read(address, length uint32) ([]byte, error) {
	end := uint64(address) + uint64(length)
	if end > uint64(len(f.mem)) {
		return nil, &DriverError{Op: "read", Status: updwire.ErrFlashFault}
	}
	out := make([]byte, length)
	copy(out, f.mem[address:end])
	return out, nil
}

// OpsOfKind returns the recorded calls of one kind.
func (f *MemFlash) OpsOfKind(kind string) []FlashOp {
	var ops []FlashOp
	for _, op := range f.Ops {
		if op.Kind == kind {
			ops = append(ops, op)
		}
	}
	return ops
}

// flashSnapshot is the CBOR on-disk form of an emulated flash.
type flashSnapshot struct {
	UID    []byte `cbor:"1,keyasint"`
	Memory []byte `cbor:"2,keyasint"`
}

// Snapshot serializes the emulated flash state to CBOR.
func (f *MemFlash) Snapshot() ([]byte, error) {
	return cbor.Marshal(flashSnapshot{UID: f.uid[:], Memory: f.mem})
}

// RestoreSnapshot loads flash state previously produced by Snapshot.
func (f *MemFlash) RestoreSnapshot(data []byte) error {
	var snap flashSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode flash snapshot: %w", err)
	}
	if len(snap.Memory) == 0 {
		return fmt.Errorf("flash snapshot carries no memory image")
	}
	f.mem = snap.Memory
	copy(f.uid[:], snap.UID)
	return nil
}

// SaveFile writes the flash snapshot to path.
func (f *MemFlash) SaveFile(path string) error {
	data, err := f.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadMemFlash restores an emulated flash from a snapshot file.
func LoadMemFlash(path string) (*MemFlash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &MemFlash{FailWith: make(map[string]updwire.ErrorCode)}
	if err := f.RestoreSnapshot(data); err != nil {
		return nil, err
	}
	return f, nil
}
