// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

import (
	"bytes"
	"log"

	"github.com/ferromont/updbus/pkg/updwire"
)

// Dispatcher is the protocol's single entry point. Each command runs to
// completion inside Dispatch; the transport must serialize delivery and
// never re-enter while a command is in progress.
type Dispatcher struct {
	session   *Session
	flash     FlashDriver
	sensor    AccessSensor
	validator Validator
	guard     RegionGuard

	descriptorTop   uint32
	descriptorCount uint8

	logger *log.Logger
}

// NewDispatcher creates a dispatcher over the given flash driver and
// physical-access sensor, with a fresh locked session.
func NewDispatcher(flash FlashDriver, sensor AccessSensor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:         NewSession(),
		flash:           flash,
		sensor:          sensor,
		validator:       NewValidator(flash),
		guard:           RegionGuard{VectorsStart: DefaultVectorsStart, TextEnd: DefaultTextEnd},
		descriptorTop:   DefaultDescriptorTop,
		descriptorCount: DefaultDescriptorCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Session exposes the dispatcher's session for inspection.
func (d *Dispatcher) Session() *Session {
	return d.session
}

// Dispatch routes one command to its handler and returns the link-level
// acknowledge plus any reply telegram. The acknowledge is ACK exactly when
// the session's last error reads SUCCESS after the handler ran; the last
// error stays observable for a subsequent GET_LAST_ERROR either way.
func (d *Dispatcher) Dispatch(op updwire.Opcode, payload []byte) updwire.Response {
	var replyOp updwire.Opcode
	var reply []byte

	switch op {
	case updwire.OpUnlockDevice:
		d.handleUnlock(payload)
	case updwire.OpRequestUID:
		replyOp, reply = d.handleRequestUID()
	case updwire.OpAppVersionRequest:
		replyOp, reply = d.handleAppVersion(payload)
	case updwire.OpEraseSector:
		d.handleEraseSector(payload)
	case updwire.OpSendData:
		d.handleSendData(payload)
	case updwire.OpProgram:
		d.handleProgram(payload)
	case updwire.OpUpdateBootDesc:
		d.handleUpdateBootDesc(payload)
	case updwire.OpReqData:
		d.handleReqData()
	case updwire.OpGetLastError:
		replyOp, reply = d.handleGetLastError()
	default:
		d.session.lastError = updwire.ErrUnknownCommand
	}

	resp := updwire.Response{ReplyOp: replyOp, Payload: reply}
	if d.session.lastError == updwire.Success {
		resp.Status = updwire.ACK
	} else {
		resp.Status = updwire.NACK
		d.tracef("%s -> %s", op, d.session.lastError)
	}
	return resp
}

// handleUnlock runs the two unlock paths. With physical access indicated
// the device unlocks unconditionally; otherwise the 12-byte candidate must
// match the controller's unique ID byte for byte.
func (d *Dispatcher) handleUnlock(payload []byte) {
	if d.sensor.PhysicallyPresent() {
		d.session.Unlock()
		d.session.lastError = updwire.Success
		d.tracef("unlocked via physical access")
		return
	}

	uid, err := d.flash.ReadUID()
	if err != nil {
		d.session.lastError = codeFromDriver(err)
		return
	}
	if len(payload) < updwire.UIDLength || !bytes.Equal(payload[:updwire.UIDLength], uid[:updwire.UIDLength]) {
		d.session.lastError = updwire.ErrUIDMismatch
		return
	}
	d.session.Unlock()
	d.session.lastError = updwire.Success
	d.tracef("unlocked via UID")
}

// handleRequestUID returns the unique ID, gated on the same physical-access
// signal as the unconditional unlock path.
func (d *Dispatcher) handleRequestUID() (updwire.Opcode, []byte) {
	if !d.sensor.PhysicallyPresent() {
		d.session.lastError = updwire.ErrDeviceLocked
		return 0, nil
	}
	uid, err := d.flash.ReadUID()
	if err != nil {
		d.session.lastError = codeFromDriver(err)
		return 0, nil
	}
	d.session.lastError = updwire.Success
	return updwire.OpResponseUID, uid[:updwire.UIDLength]
}

// handleAppVersion reads the version string of the application described by
// the indexed on-flash descriptor block.
func (d *Dispatcher) handleAppVersion(payload []byte) (updwire.Opcode, []byte) {
	index, err := updwire.ParseAppVersionRequest(payload)
	if err != nil {
		d.session.lastError = updwire.ErrUnknownCommand
		return 0, nil
	}
	if index >= d.descriptorCount {
		d.session.lastError = updwire.ErrWrongDescriptorBlock
		return 0, nil
	}

	address := d.descriptorAddress(index)
	raw, err := d.flash.Read(address, updwire.BootBlockSize)
	if err != nil {
		d.session.lastError = codeFromDriver(err)
		return 0, nil
	}
	block, err := UnmarshalDescriptor(raw)
	if err != nil {
		d.session.lastError = updwire.ErrWrongDescriptorBlock
		return 0, nil
	}

	if block.AppVersionAddress >= versionSanityBound {
		d.session.lastError = updwire.ErrApplicationNotStartable
		return 0, nil
	}
	version, err := d.flash.Read(block.AppVersionAddress, updwire.AppVersionLength)
	if err != nil {
		d.session.lastError = codeFromDriver(err)
		return 0, nil
	}
	d.session.lastError = updwire.Success
	return updwire.OpAppVersionResponse, version
}

// handleEraseSector erases one sector after the lock and region gates. The
// staging buffer rewinds no matter how the erase went: an erase marks the
// start of a transfer cycle.
func (d *Dispatcher) handleEraseSector(payload []byte) {
	defer d.session.resetStaging()

	if !d.session.Unlocked() {
		d.session.lastError = updwire.ErrDeviceLocked
		return
	}
	sector, err := updwire.ParseEraseSector(payload)
	if err != nil {
		d.session.lastError = updwire.ErrUnknownCommand
		return
	}
	if !d.guard.SectorAllowedToErase(uint32(sector)) {
		d.session.lastError = updwire.ErrSectorNotAllowedToErase
		return
	}
	d.tracef("erase sector %d", sector)
	d.session.lastError = codeFromDriver(d.flash.EraseSector(sector))
}

// handleSendData appends the chunk to the staging buffer.
func (d *Dispatcher) handleSendData(payload []byte) {
	if !d.session.Unlocked() {
		d.session.lastError = updwire.ErrDeviceLocked
		return
	}
	d.session.lastError = d.session.appendStaging(payload)
}

// handleProgram writes staged bytes to flash once the region guard and the
// authoritative CRC gate have passed. A rejected command never touches
// flash. Staging rewinds afterwards regardless of the outcome.
func (d *Dispatcher) handleProgram(payload []byte) {
	defer d.session.resetStaging()

	if !d.session.Unlocked() {
		d.session.lastError = updwire.ErrDeviceLocked
		return
	}
	req, err := updwire.ParseProgram(payload)
	if err != nil {
		d.session.lastError = updwire.ErrUnknownCommand
		return
	}
	if req.Count > StagingSize {
		d.session.lastError = updwire.ErrRAMBufferOverflow
		return
	}
	if !d.guard.AddressAllowedToProgram(req.Address, req.Count) {
		d.session.lastError = updwire.ErrAddressNotAllowedToFlash
		return
	}

	staged := d.session.Staged(int(req.Count))
	crc := updwire.ChecksumCRC32(staged)
	d.tracef("program count=%d address=0x%05X crc=0x%08X expected=0x%08X",
		req.Count, req.Address, crc, req.ExpectedCRC)
	if crc != req.ExpectedCRC {
		d.session.lastError = updwire.ErrCRC
		return
	}
	d.session.lastError = codeFromDriver(d.flash.Program(req.Address, staged))
}

// handleUpdateBootDesc commits the 256 staged bytes as a boot descriptor
// block. Validation failure leaves the on-flash descriptor untouched, so
// the device keeps booting the previous image.
func (d *Dispatcher) handleUpdateBootDesc(payload []byte) {
	defer d.session.resetStaging()

	if !d.session.Unlocked() {
		d.session.lastError = updwire.ErrDeviceLocked
		return
	}
	req, err := updwire.ParseUpdateBootDesc(payload)
	if err != nil {
		d.session.lastError = updwire.ErrUnknownCommand
		return
	}
	if req.Index >= d.descriptorCount {
		d.session.lastError = updwire.ErrWrongDescriptorBlock
		return
	}

	staged := d.session.Staged(updwire.BootBlockSize)
	if updwire.ChecksumCRC32(staged) != req.ExpectedCRC {
		d.session.lastError = updwire.ErrCRC
		return
	}

	block, err := UnmarshalDescriptor(staged)
	if err != nil {
		d.session.lastError = updwire.ErrWrongDescriptorBlock
		return
	}
	if !d.validator.CheckApplication(block) {
		d.session.lastError = updwire.ErrApplicationNotStartable
		return
	}

	address := d.descriptorAddress(req.Index)
	d.tracef("update boot descriptor %d at 0x%05X", req.Index, address)
	d.session.lastError = codeFromDriver(d.flash.ErasePage(address / PageSize))
	if d.session.lastError != updwire.Success {
		return
	}
	d.session.lastError = codeFromDriver(d.flash.Program(address, staged))
}

// handleReqData is the flash readback command, unimplemented on deployed
// devices.
func (d *Dispatcher) handleReqData() {
	if !d.session.Unlocked() {
		d.session.lastError = updwire.ErrDeviceLocked
		return
	}
	d.session.lastError = updwire.ErrNotImplemented
}

// handleGetLastError reports the stored outcome and resets it to SUCCESS.
func (d *Dispatcher) handleGetLastError() (updwire.Opcode, []byte) {
	reply := updwire.EncodeLastError(d.session.lastError)
	d.session.lastError = updwire.Success
	return updwire.OpSendLastError, reply
}

// descriptorAddress computes the flash address of descriptor block index:
// fixed slots counted downward from the top of the descriptor region.
func (d *Dispatcher) descriptorAddress(index uint8) uint32 {
	return d.descriptorTop - uint32(1+index)*updwire.BootBlockSize
}

func (d *Dispatcher) tracef(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
