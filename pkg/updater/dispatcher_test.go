// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

import (
	"bytes"
	"testing"

	"github.com/ferromont/updbus/pkg/updwire"
)

// ============================================================
// Dispatcher Test Helpers
// ============================================================

func newTestDispatcher(present bool) (*Dispatcher, *MemFlash) {
	flash := NewMemFlash(0x80000)
	flash.SetUID(testUID)
	return NewDispatcher(flash, StaticSensor(present)), flash
}

func mustAck(t *testing.T, d *Dispatcher, op updwire.Opcode, payload []byte) updwire.Response {
	t.Helper()
	resp := d.Dispatch(op, payload)
	if resp.Status != updwire.ACK {
		t.Fatalf("%s unexpectedly NACKed: %s", op, d.Session().LastError())
	}
	return resp
}

func mustNack(t *testing.T, d *Dispatcher, op updwire.Opcode, payload []byte, want updwire.ErrorCode) {
	t.Helper()
	resp := d.Dispatch(op, payload)
	if resp.Status != updwire.NACK {
		t.Fatalf("%s unexpectedly ACKed", op)
	}
	if got := d.Session().LastError(); got != want {
		t.Fatalf("%s: expected %s, got %s", op, want, got)
	}
}

func unlockWithUID(t *testing.T, d *Dispatcher) {
	t.Helper()
	mustAck(t, d, updwire.OpUnlockDevice, testUID)
}

// stageData streams data into the staging buffer in fixed chunks.
func stageData(t *testing.T, d *Dispatcher, data []byte) {
	t.Helper()
	const chunk = 512
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		mustAck(t, d, updwire.OpSendData, data[off:end])
	}
}

// programData runs erase, stage and program for one image blob.
func programData(t *testing.T, d *Dispatcher, data []byte, address uint32) {
	t.Helper()
	for sector := address / SectorSize; sector <= (address+uint32(len(data))-1)/SectorSize; sector++ {
		mustAck(t, d, updwire.OpEraseSector, []byte{uint8(sector)})
	}
	stageData(t, d, data)
	req := updwire.NewProgram(uint32(len(data)), address, updwire.ChecksumCRC32(data))
	mustAck(t, d, updwire.OpProgram, req.Payload())
}

// commitDescriptor stages and commits a boot descriptor block.
func commitDescriptor(t *testing.T, d *Dispatcher, block AppDescriptionBlock, index uint8) updwire.Response {
	t.Helper()
	raw := block.Marshal()
	stageData(t, d, raw)
	req := updwire.NewUpdateBootDesc(updwire.ChecksumCRC32(raw), index)
	return d.Dispatch(updwire.OpUpdateBootDesc, req.Payload())
}

// ============================================================
// Unlock Tests
// ============================================================

func TestDispatcher_Unlock_PhysicalAccess(t *testing.T) {
	d, _ := newTestDispatcher(true)
	// With the signal present any candidate unlocks, even none at all
	mustAck(t, d, updwire.OpUnlockDevice, nil)
	if !d.Session().Unlocked() {
		t.Error("Session should be unlocked")
	}
}

func TestDispatcher_Unlock_UIDMatch(t *testing.T) {
	d, _ := newTestDispatcher(false)
	mustAck(t, d, updwire.OpUnlockDevice, testUID)
	if !d.Session().Unlocked() {
		t.Error("Session should be unlocked")
	}
}

func TestDispatcher_Unlock_UIDOneByteOff(t *testing.T) {
	d, _ := newTestDispatcher(false)
	candidate := make([]byte, len(testUID))
	copy(candidate, testUID)
	candidate[7] ^= 0x01

	mustNack(t, d, updwire.OpUnlockDevice, candidate, updwire.ErrUIDMismatch)
	if d.Session().Unlocked() {
		t.Error("Session must stay locked after a mismatch")
	}
}

func TestDispatcher_Unlock_ShortCandidate(t *testing.T) {
	d, _ := newTestDispatcher(false)
	mustNack(t, d, updwire.OpUnlockDevice, testUID[:6], updwire.ErrUIDMismatch)
}

func TestDispatcher_Unlock_UIDReadFailureKeepsLocked(t *testing.T) {
	d, flash := newTestDispatcher(false)
	flash.FailWith["readUID"] = updwire.ErrorCode(0x05)

	resp := d.Dispatch(updwire.OpUnlockDevice, testUID)
	if resp.Status != updwire.NACK {
		t.Fatal("Unlock must fail when the UID cannot be read")
	}
	if d.Session().Unlocked() {
		t.Error("Session must stay locked when the UID cannot be read")
	}
}

func TestDispatcher_UnlockPersists(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)
	// A later failing command does not re-lock
	mustNack(t, d, updwire.OpEraseSector, []byte{0}, updwire.ErrSectorNotAllowedToErase)
	if !d.Session().Unlocked() {
		t.Error("Unlock must persist until restart")
	}
}

// ============================================================
// Lock Gate Tests
// ============================================================

func TestDispatcher_LockedCommandsRefused(t *testing.T) {
	tests := []struct {
		op      updwire.Opcode
		payload []byte
	}{
		{updwire.OpEraseSector, []byte{2}},
		{updwire.OpSendData, []byte{1, 2, 3}},
		{updwire.OpProgram, updwire.NewProgram(16, 0x2000, 0).Payload()},
		{updwire.OpUpdateBootDesc, updwire.NewUpdateBootDesc(0, 0).Payload()},
		{updwire.OpReqData, updwire.NewReqData(16, 0x2000).Payload()},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			d, flash := newTestDispatcher(false)
			mustNack(t, d, tt.op, tt.payload, updwire.ErrDeviceLocked)
			if len(flash.Ops) != 0 {
				t.Errorf("Flash touched while locked: %+v", flash.Ops)
			}
		})
	}
}

func TestDispatcher_RequestUID_NeedsPhysicalAccess(t *testing.T) {
	d, _ := newTestDispatcher(false)
	mustNack(t, d, updwire.OpRequestUID, nil, updwire.ErrDeviceLocked)
}

func TestDispatcher_RequestUID_WithPhysicalAccess(t *testing.T) {
	d, _ := newTestDispatcher(true)
	resp := mustAck(t, d, updwire.OpRequestUID, nil)
	if resp.ReplyOp != updwire.OpResponseUID {
		t.Fatalf("Expected RESPONSE_UID, got %s", resp.ReplyOp)
	}
	if !bytes.Equal(resp.Payload, testUID) {
		t.Errorf("UID mismatch: % X", resp.Payload)
	}
}

// ============================================================
// Erase Tests
// ============================================================

func TestDispatcher_EraseSector(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	mustAck(t, d, updwire.OpEraseSector, []byte{2})
	ops := flash.OpsOfKind("eraseSector")
	if len(ops) != 1 || ops[0].Sector != 2 {
		t.Errorf("Expected erase of sector 2, got %+v", ops)
	}
}

func TestDispatcher_EraseSector0Refused(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	mustNack(t, d, updwire.OpEraseSector, []byte{0}, updwire.ErrSectorNotAllowedToErase)
	if len(flash.Ops) != 0 {
		t.Error("Refused erase must not touch flash")
	}
}

func TestDispatcher_EraseProtectedSectorRefused(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)
	// Sector 1 covers the updater's own text with the default layout
	mustNack(t, d, updwire.OpEraseSector, []byte{1}, updwire.ErrSectorNotAllowedToErase)
}

func TestDispatcher_EraseRewindsStaging(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)

	mustAck(t, d, updwire.OpSendData, []byte{1, 2, 3, 4})
	mustAck(t, d, updwire.OpEraseSector, []byte{2})
	if d.Session().StagingOffset() != 0 {
		t.Errorf("Erase must rewind staging, offset=%d", d.Session().StagingOffset())
	}
}

func TestDispatcher_RefusedEraseStillRewindsStaging(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)

	mustAck(t, d, updwire.OpSendData, []byte{1, 2, 3, 4})
	mustNack(t, d, updwire.OpEraseSector, []byte{0}, updwire.ErrSectorNotAllowedToErase)
	if d.Session().StagingOffset() != 0 {
		t.Error("Even a refused erase marks the start of a cycle")
	}
}

func TestDispatcher_EraseDriverFailure(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)
	flash.FailWith["eraseSector"] = updwire.ErrorCode(0x09)

	mustNack(t, d, updwire.OpEraseSector, []byte{2}, updwire.ErrorCode(0x09))
}

// ============================================================
// Program Tests
// ============================================================

func TestDispatcher_ProgramWritesFlash(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	img := makeTestImage(1024)
	programData(t, d, img, 0x2000)

	if !bytes.Equal(flash.Bytes()[0x2000:0x2400], img) {
		t.Error("Programmed flash content differs from staged data")
	}
	if d.Session().StagingOffset() != 0 {
		t.Error("Program must rewind staging")
	}
}

func TestDispatcher_ProgramCRCMismatchNeverTouchesFlash(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	img := makeTestImage(512)
	mustAck(t, d, updwire.OpEraseSector, []byte{2})
	stageData(t, d, img)

	req := updwire.NewProgram(512, 0x2000, updwire.ChecksumCRC32(img)^1)
	mustNack(t, d, updwire.OpProgram, req.Payload(), updwire.ErrCRC)

	if len(flash.OpsOfKind("program")) != 0 {
		t.Error("Rejected PROGRAM must not reach the flash driver")
	}
	if d.Session().StagingOffset() != 0 {
		t.Error("Staging must rewind even after a rejected PROGRAM")
	}
}

func TestDispatcher_ProgramProtectedAddressRefused(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	stageData(t, d, make([]byte, 256))
	req := updwire.NewProgram(256, 0x0500, 0)
	mustNack(t, d, updwire.OpProgram, req.Payload(), updwire.ErrAddressNotAllowedToFlash)
	if len(flash.OpsOfKind("program")) != 0 {
		t.Error("Refused PROGRAM must not reach the flash driver")
	}
}

func TestDispatcher_ProgramCountBeyondStaging(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)

	req := updwire.NewProgram(StagingSize+1, 0x2000, 0)
	mustNack(t, d, updwire.OpProgram, req.Payload(), updwire.ErrRAMBufferOverflow)
}

func TestDispatcher_ProgramMalformedPayload(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)
	mustNack(t, d, updwire.OpProgram, []byte{1, 2, 3}, updwire.ErrUnknownCommand)
}

func TestDispatcher_SendDataOverflow(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)

	chunk := make([]byte, 1024)
	for i := 0; i < 3; i++ {
		mustAck(t, d, updwire.OpSendData, chunk)
	}
	// The fourth chunk would fill the buffer completely
	mustNack(t, d, updwire.OpSendData, chunk, updwire.ErrRAMBufferOverflow)
	if d.Session().StagingOffset() != 3072 {
		t.Errorf("Refused chunk must not move the offset, got %d", d.Session().StagingOffset())
	}
}

// ============================================================
// Boot Descriptor Tests
// ============================================================

func TestDispatcher_UpdateBootDescriptor(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	img := makeTestImage(1024)
	programData(t, d, img, 0x2000)

	block := AppDescriptionBlock{
		StartAddress:      0x2000,
		EndAddress:        0x2400,
		CRC:               updwire.ChecksumCRC32(img),
		AppVersionAddress: 0x2020,
	}
	resp := commitDescriptor(t, d, block, 0)
	if resp.Status != updwire.ACK {
		t.Fatalf("Descriptor commit NACKed: %s", d.Session().LastError())
	}

	// Slot 0 sits one block below the top of the descriptor region
	got, err := UnmarshalDescriptor(flash.Bytes()[0x0F00:0x1000])
	if err != nil || got != block {
		t.Errorf("On-flash descriptor mismatch: %+v (%v)", got, err)
	}
	pages := flash.OpsOfKind("erasePage")
	if len(pages) != 1 || pages[0].Page != 0x0F00/PageSize {
		t.Errorf("Expected erase of descriptor page, got %+v", pages)
	}
}

func TestDispatcher_UpdateBootDescriptor_BadIndex(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)

	block := AppDescriptionBlock{StartAddress: 0x2000, EndAddress: 0x2400}
	resp := commitDescriptor(t, d, block, DefaultDescriptorCount)
	if resp.Status != updwire.NACK || d.Session().LastError() != updwire.ErrWrongDescriptorBlock {
		t.Errorf("Expected WRONG_DESCRIPTOR_BLOCK, got %s", d.Session().LastError())
	}
}

func TestDispatcher_UpdateBootDescriptor_CRCMismatch(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	raw := AppDescriptionBlock{StartAddress: 0x2000, EndAddress: 0x2400}.Marshal()
	stageData(t, d, raw)
	req := updwire.NewUpdateBootDesc(updwire.ChecksumCRC32(raw)^1, 0)
	mustNack(t, d, updwire.OpUpdateBootDesc, req.Payload(), updwire.ErrCRC)
	if len(flash.OpsOfKind("erasePage")) != 0 {
		t.Error("Rejected commit must not touch the descriptor page")
	}
}

func TestDispatcher_UpdateBootDescriptor_UnstartableAppLeavesDescriptor(t *testing.T) {
	d, flash := newTestDispatcher(false)
	unlockWithUID(t, d)

	// Image whose vector table does not sum to zero
	img := makeTestImage(1024)
	img[28] ^= 0x01
	programData(t, d, img, 0x2000)

	block := AppDescriptionBlock{
		StartAddress:      0x2000,
		EndAddress:        0x2400,
		CRC:               updwire.ChecksumCRC32(img),
		AppVersionAddress: 0x2020,
	}
	resp := commitDescriptor(t, d, block, 0)
	if resp.Status != updwire.NACK || d.Session().LastError() != updwire.ErrApplicationNotStartable {
		t.Fatalf("Expected APPLICATION_NOT_STARTABLE, got %s", d.Session().LastError())
	}
	if len(flash.OpsOfKind("erasePage")) != 0 {
		t.Error("Failed validation must leave the descriptor region untouched")
	}
	for _, b := range flash.Bytes()[0x0F00:0x1000] {
		if b != 0xFF {
			t.Fatal("Descriptor slot written despite failed validation")
		}
	}
}

// ============================================================
// Query Tests
// ============================================================

func TestDispatcher_AppVersion(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)

	img := makeTestImage(1024)
	programData(t, d, img, 0x2000)
	block := AppDescriptionBlock{
		StartAddress:      0x2000,
		EndAddress:        0x2400,
		CRC:               updwire.ChecksumCRC32(img),
		AppVersionAddress: 0x2020,
	}
	if resp := commitDescriptor(t, d, block, 0); resp.Status != updwire.ACK {
		t.Fatalf("Setup: commit failed: %s", d.Session().LastError())
	}

	resp := mustAck(t, d, updwire.OpAppVersionRequest, []byte{0})
	if resp.ReplyOp != updwire.OpAppVersionResponse {
		t.Fatalf("Expected APP_VERSION_RESPONSE, got %s", resp.ReplyOp)
	}
	if string(resp.Payload) != "updbus/1.0.0" {
		t.Errorf("Version mismatch: %q", resp.Payload)
	}
}

func TestDispatcher_AppVersion_WorksWhileLocked(t *testing.T) {
	d, flash := newTestDispatcher(false)

	img := makeTestImage(1024)
	flash.Seed(0x2000, img)
	flash.Seed(0x0F00, AppDescriptionBlock{
		StartAddress:      0x2000,
		EndAddress:        0x2400,
		CRC:               updwire.ChecksumCRC32(img),
		AppVersionAddress: 0x2020,
	}.Marshal())

	resp := mustAck(t, d, updwire.OpAppVersionRequest, []byte{0})
	if string(resp.Payload) != "updbus/1.0.0" {
		t.Errorf("Version mismatch: %q", resp.Payload)
	}
}

func TestDispatcher_AppVersion_BadIndex(t *testing.T) {
	d, _ := newTestDispatcher(false)
	mustNack(t, d, updwire.OpAppVersionRequest, []byte{DefaultDescriptorCount}, updwire.ErrWrongDescriptorBlock)
}

func TestDispatcher_AppVersion_ImplausiblePointer(t *testing.T) {
	d, flash := newTestDispatcher(false)
	flash.Seed(0x0F00, AppDescriptionBlock{
		StartAddress:      0x2000,
		EndAddress:        0x2400,
		AppVersionAddress: versionSanityBound,
	}.Marshal())
	mustNack(t, d, updwire.OpAppVersionRequest, []byte{0}, updwire.ErrApplicationNotStartable)
}

func TestDispatcher_ReqDataNotImplemented(t *testing.T) {
	d, _ := newTestDispatcher(false)
	unlockWithUID(t, d)
	mustNack(t, d, updwire.OpReqData, updwire.NewReqData(16, 0x2000).Payload(), updwire.ErrNotImplemented)
}

func TestDispatcher_UnknownOpcode(t *testing.T) {
	d, _ := newTestDispatcher(false)
	mustNack(t, d, updwire.Opcode(99), nil, updwire.ErrUnknownCommand)
}

// ============================================================
// Last Error Tests
// ============================================================

func TestDispatcher_GetLastError_ReportsAndResets(t *testing.T) {
	d, _ := newTestDispatcher(false)

	candidate := make([]byte, len(testUID))
	copy(candidate, testUID)
	candidate[0] ^= 0xFF
	d.Dispatch(updwire.OpUnlockDevice, candidate)

	resp := d.Dispatch(updwire.OpGetLastError, nil)
	if resp.Status != updwire.ACK || resp.ReplyOp != updwire.OpSendLastError {
		t.Fatalf("Expected SEND_LAST_ERROR reply, got %+v", resp)
	}
	code, err := updwire.ParseLastError(resp.Payload)
	if err != nil || code != updwire.ErrUIDMismatch {
		t.Errorf("Expected UID_MISMATCH, got %s (%v)", code, err)
	}

	// The query resets the stored outcome
	resp = d.Dispatch(updwire.OpGetLastError, nil)
	code, _ = updwire.ParseLastError(resp.Payload)
	if code != updwire.Success {
		t.Errorf("Expected SUCCESS after reset, got %s", code)
	}
}

// ============================================================
// Full Cycle Tests
// ============================================================

func TestDispatcher_FullUpdateCycle(t *testing.T) {
	d, flash := newTestDispatcher(false)

	unlockWithUID(t, d)
	img := makeTestImage(2048)
	programData(t, d, img, 0x2000)

	block := AppDescriptionBlock{
		StartAddress:      0x2000,
		EndAddress:        0x2800,
		CRC:               updwire.ChecksumCRC32(img),
		AppVersionAddress: 0x2020,
	}
	if resp := commitDescriptor(t, d, block, 0); resp.Status != updwire.ACK {
		t.Fatalf("Commit failed: %s", d.Session().LastError())
	}

	if !bytes.Equal(flash.Bytes()[0x2000:0x2800], img) {
		t.Error("Flashed image differs from input")
	}
	if !NewValidator(flash).CheckApplication(block) {
		t.Error("Committed application should validate")
	}
}

func TestDispatcher_CustomDescriptorRegion(t *testing.T) {
	flash := NewMemFlash(0x80000)
	flash.SetUID(testUID)
	d := NewDispatcher(flash, StaticSensor(false),
		WithDescriptorRegion(0x3000, 4))
	unlockWithUID(t, d)

	img := makeTestImage(1024)
	programData(t, d, img, 0x4000)
	block := AppDescriptionBlock{
		StartAddress:      0x4000,
		EndAddress:        0x4400,
		CRC:               updwire.ChecksumCRC32(img),
		AppVersionAddress: 0x4020,
	}
	if resp := commitDescriptor(t, d, block, 3); resp.Status != updwire.ACK {
		t.Fatalf("Commit failed: %s", d.Session().LastError())
	}

	// Slot 3 of 4, counted downward from 0x3000
	got, err := UnmarshalDescriptor(flash.Bytes()[0x2C00:0x2D00])
	if err != nil || got != block {
		t.Errorf("Descriptor not at expected slot: %+v (%v)", got, err)
	}
}
