// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updater

// Flash geometry of the target controller.
const (
	SectorSize = 4096
	PageSize   = 256
)

// AddressToSector maps a byte address to its flash sector number, rounding
// up as the linker symbols demand.
func AddressToSector(address uint32) uint32 {
	return (address + SectorSize - 1) / SectorSize
}

// RegionGuard decides whether a sector or address range may be touched by a
// destructive flash call. The protected byte range [VectorsStart, TextEnd)
// is the running updater's own code, derived from its link layout; the
// updater must never be able to erase or overwrite itself. Both predicates
// are pure and must be consulted before any erase or program call.
type RegionGuard struct {
	VectorsStart uint32
	TextEnd      uint32
}

// SectorAllowedToErase reports whether the sector may be erased. Sector 0 is
// reserved unconditionally; sectors covering the protected range are refused.
func (g RegionGuard) SectorAllowedToErase(sector uint32) bool {
	if sector == 0 {
		return false
	}
	return !(sector >= AddressToSector(g.VectorsStart) &&
		sector <= AddressToSector(g.TextEnd))
}

// AddressAllowedToProgram reports whether [start, start+length) may be
// programmed. Any overlap with the protected range at all, full, partial or
// containing, is refused.
func (g RegionGuard) AddressAllowedToProgram(start, length uint32) bool {
	if length == 0 {
		return true
	}
	end := start + length
	return !(start < g.TextEnd && end > g.VectorsStart)
}
