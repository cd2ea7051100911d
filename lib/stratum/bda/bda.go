// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bda implements the Block Device Area: the engine's on-disk
// metadata header on each pool member device.
//
// Layout, in 512-byte sectors from the start of the device:
//
//	sector 0        untouched (never written by the engine)
//	sector 1        signature block
//	sectors 2-15    reserved, zeroed at initialization
//	sectors 16-     two metadata areas (MDA regions A and B), each
//	                mdaSize/2 sectors, each led by a one-sector region
//	                header followed by the variable-length payload
//
// Ownership of a device is determinable purely by reading it: a valid
// signature block means this engine owns it; an all-zero static header
// region means it is unowned; anything else means some other
// application's data is present.
package bda

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"git.lukeshu.com/go/typedsync"

	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

const (
	sigblockSector      = 1
	staticHeaderSectors = 16
)

// Signature block layout (one sector; all integers little-endian):
//
//	[ 0: 4]  CRC-32C of [4:76]
//	[ 4:20]  magic
//	[20:28]  device size in sectors
//	[28:44]  pool UUID
//	[44:60]  device UUID
//	[60:68]  MDA size in sectors
//	[68:76]  initialization time, Unix seconds
const sigblockUsed = 76

var sigblockMagic = [16]byte{'!', 'S', 't', 'r', 'a', 't', 'u', 'm', 0x86, 0xff, 0x02, '$', 0x1f, '%', 0x35, 0x7e}

// MDA region header layout (one sector):
//
//	[ 0: 4]  CRC-32C of the payload
//	[ 4:12]  payload length in bytes
//	[12:20]  timestamp, Unix seconds
//	[20:24]  timestamp, nanoseconds
const mdaHeaderUsed = 24

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var sectorPool = typedsync.Pool[[]byte]{
	New: func() []byte { return make([]byte, stratumprim.SectorSize) },
}

func getSectorBuf() []byte {
	buf, _ := sectorPool.Get()
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// OwnershipKind says who, if anyone, owns a device.
type OwnershipKind int8

const (
	// OwnershipUnowned: no signature of any application found.
	OwnershipUnowned OwnershipKind = iota + 1
	// OwnershipTheirs: data that is not ours is present where our
	// header would go.
	OwnershipTheirs
	// OwnershipOurs: a valid signature block names an owning pool.
	OwnershipOurs
)

// Ownership is the result of DetermineOwnership.  Pool is set only when
// Kind is OwnershipOurs.
type Ownership struct {
	Kind OwnershipKind
	Pool stratumprim.PoolUUID
}

// BDA is the parsed, in-memory form of one device's metadata header.
type BDA struct {
	devSize  stratumprim.Sectors
	poolUUID stratumprim.PoolUUID
	devUUID  stratumprim.DevUUID
	mdaSize  stratumprim.Sectors
	initTime time.Time

	// Timestamps of the two MDA regions; the zero time means the
	// region has never been written.
	regionTimes [2]time.Time
}

// DevSize is the whole device's size as recorded at initialization.
func (b *BDA) DevSize() stratumprim.Sectors { return b.devSize }

// Size is the total reserved metadata area: the static header plus both
// MDA regions.  Sectors below Size must never be allocated.
func (b *BDA) Size() stratumprim.Sectors { return staticHeaderSectors + b.mdaSize }

func (b *BDA) PoolUUID() stratumprim.PoolUUID { return b.poolUUID }
func (b *BDA) DevUUID() stratumprim.DevUUID   { return b.devUUID }
func (b *BDA) MDASize() stratumprim.Sectors   { return b.mdaSize }
func (b *BDA) InitializationTime() time.Time  { return b.initTime }

// MaxStateSize is the largest state payload SaveState will accept.
func (b *BDA) MaxStateSize() stratumprim.Bytes {
	return (b.mdaSize/2 - 1).Bytes()
}

// LastUpdated is the timestamp of the newest written MDA region, or the
// zero time if state has never been saved.
func (b *BDA) LastUpdated() time.Time {
	if b.regionTimes[1].After(b.regionTimes[0]) {
		return b.regionTimes[1]
	}
	return b.regionTimes[0]
}

func (b *BDA) regionStart(region int) stratumprim.Sectors {
	return staticHeaderSectors + stratumprim.Sectors(region)*(b.mdaSize/2)
}

// ValidateMDASize checks a requested MDA size against the allowed
// range.  The size must be even (two regions) and within policy bounds.
func ValidateMDASize(mdaSize stratumprim.Sectors) error {
	if mdaSize%2 != 0 {
		return enginerr.Errorf(enginerr.KindInvalidInput,
			"MDA size %d is not divisible between two regions", mdaSize)
	}
	if mdaSize < stratumprim.MinMDASectors {
		return enginerr.Errorf(enginerr.KindInvalidInput,
			"MDA size %d is smaller than the minimum of %d sectors", mdaSize, stratumprim.MinMDASectors)
	}
	if mdaSize > stratumprim.MaxMDASectors {
		return enginerr.Errorf(enginerr.KindInvalidInput,
			"MDA size %d is larger than the maximum of %d sectors", mdaSize, stratumprim.MaxMDASectors)
	}
	return nil
}

// Initialize writes a fresh BDA claiming the device for the given pool.
// It zeroes the static header region, writes the signature block, and
// resets both MDA region headers.
func Initialize(
	f stratumdev.DeviceFile,
	pool stratumprim.PoolUUID,
	dev stratumprim.DevUUID,
	mdaSize stratumprim.Sectors,
	devSize stratumprim.Sectors,
) (*BDA, error) {
	if err := ValidateMDASize(mdaSize); err != nil {
		return nil, err
	}
	b := &BDA{
		devSize:  devSize,
		poolUUID: pool,
		devUUID:  dev,
		mdaSize:  mdaSize,
		initTime: time.Unix(time.Now().Unix(), 0).UTC(),
	}
	if b.Size() >= devSize {
		return nil, enginerr.Errorf(enginerr.KindInvalidInput,
			"reserved metadata area of %d sectors leaves no space on a %d-sector device",
			b.Size(), devSize)
	}

	zeros := make([]byte, staticHeaderSectors*stratumprim.SectorSize)
	if _, err := f.WriteAt(zeros, 0); err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "zero static header on %q", f.Name())
	}

	sig := getSectorBuf()
	defer sectorPool.Put(sig)
	copy(sig[4:20], sigblockMagic[:])
	binary.LittleEndian.PutUint64(sig[20:28], uint64(devSize))
	copy(sig[28:44], pool[:])
	copy(sig[44:60], dev[:])
	binary.LittleEndian.PutUint64(sig[60:68], uint64(mdaSize))
	binary.LittleEndian.PutUint64(sig[68:76], uint64(b.initTime.Unix()))
	binary.LittleEndian.PutUint32(sig[0:4], crc32.Checksum(sig[4:sigblockUsed], castagnoli))
	if _, err := f.WriteAt(sig, sectorOff(sigblockSector)); err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "write signature block on %q", f.Name())
	}

	hdr := getSectorBuf()
	defer sectorPool.Put(hdr)
	for region := 0; region < 2; region++ {
		if _, err := f.WriteAt(hdr, sectorOff(b.regionStart(region))); err != nil {
			return nil, enginerr.Wrapf(enginerr.KindIO, err, "reset MDA region %d on %q", region, f.Name())
		}
	}

	if err := f.Sync(); err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "sync %q", f.Name())
	}
	return b, nil
}

// Load reads and validates a device's BDA.  A device with no valid
// signature block yields a NotFound error.
func Load(f stratumdev.DeviceFile) (*BDA, error) {
	sig := getSectorBuf()
	defer sectorPool.Put(sig)
	if _, err := f.ReadAt(sig, sectorOff(sigblockSector)); err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "read signature block on %q", f.Name())
	}
	b, ok := parseSigblock(sig)
	if !ok {
		return nil, enginerr.Errorf(enginerr.KindNotFound,
			"%q has no valid signature block", f.Name())
	}
	for region := 0; region < 2; region++ {
		hdr := getSectorBuf()
		if _, err := f.ReadAt(hdr, sectorOff(b.regionStart(region))); err != nil {
			sectorPool.Put(hdr)
			return nil, enginerr.Wrapf(enginerr.KindIO, err, "read MDA region %d header on %q", region, f.Name())
		}
		sec := int64(binary.LittleEndian.Uint64(hdr[12:20]))
		nsec := int64(binary.LittleEndian.Uint32(hdr[20:24]))
		if sec != 0 || nsec != 0 {
			b.regionTimes[region] = time.Unix(sec, nsec).UTC()
		}
		sectorPool.Put(hdr)
	}
	return b, nil
}

func parseSigblock(sig []byte) (*BDA, bool) {
	if binary.LittleEndian.Uint32(sig[0:4]) != crc32.Checksum(sig[4:sigblockUsed], castagnoli) {
		return nil, false
	}
	if !bytes.Equal(sig[4:20], sigblockMagic[:]) {
		return nil, false
	}
	b := &BDA{
		devSize:  stratumprim.Sectors(binary.LittleEndian.Uint64(sig[20:28])),
		mdaSize:  stratumprim.Sectors(binary.LittleEndian.Uint64(sig[60:68])),
		initTime: time.Unix(int64(binary.LittleEndian.Uint64(sig[68:76])), 0).UTC(),
	}
	copy(b.poolUUID[:], sig[28:44])
	copy(b.devUUID[:], sig[44:60])
	if err := ValidateMDASize(b.mdaSize); err != nil {
		return nil, false
	}
	return b, true
}

// DetermineOwnership reports who owns the device, purely by reading it.
func DetermineOwnership(f stratumdev.DeviceFile) (Ownership, error) {
	buf := make([]byte, staticHeaderSectors*stratumprim.SectorSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return Ownership{}, enginerr.Wrapf(enginerr.KindIO, err, "read static header on %q", f.Name())
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	sigStart := sigblockSector * stratumprim.SectorSize
	if b, ok := parseSigblock(buf[sigStart : sigStart+stratumprim.SectorSize]); ok {
		return Ownership{Kind: OwnershipOurs, Pool: b.PoolUUID()}, nil
	}
	for _, c := range buf {
		if c != 0 {
			return Ownership{Kind: OwnershipTheirs}, nil
		}
	}
	return Ownership{Kind: OwnershipUnowned}, nil
}

// Wipe erases the engine's claim on the device by zeroing the static
// header region.  Without a signature block the MDA regions are
// unreachable, so the device reads back as unowned.  Wipe is
// idempotent.
func Wipe(f stratumdev.DeviceFile) error {
	zeros := make([]byte, staticHeaderSectors*stratumprim.SectorSize)
	if _, err := f.WriteAt(zeros, 0); err != nil {
		return enginerr.Wrapf(enginerr.KindIO, err, "wipe static header on %q", f.Name())
	}
	if err := f.Sync(); err != nil {
		return enginerr.Wrapf(enginerr.KindIO, err, "sync %q", f.Name())
	}
	return nil
}

// SaveState writes a state payload to the older MDA region, stamped
// with the given time.  A timestamp that is not strictly newer than the
// last written one, or a payload over MaxStateSize, is a usage error:
// the caller broke the API contract, and the write is refused before
// touching the device.
func (b *BDA) SaveState(f stratumdev.DeviceFile, at time.Time, payload []byte) error {
	at = at.UTC()
	if stratumprim.Bytes(len(payload)) > b.MaxStateSize() {
		return enginerr.Errorf(enginerr.KindUsage,
			"state payload of %d bytes exceeds the MDA capacity of %v", len(payload), b.MaxStateSize())
	}
	if !at.After(b.LastUpdated()) {
		return enginerr.Errorf(enginerr.KindUsage,
			"state timestamp %v is not newer than the last save at %v", at, b.LastUpdated())
	}

	region := 0
	if b.regionTimes[0].After(b.regionTimes[1]) {
		region = 1
	}
	start := b.regionStart(region)

	if _, err := f.WriteAt(payload, sectorOff(start+1)); err != nil {
		return enginerr.Wrapf(enginerr.KindIO, err, "write MDA region %d payload on %q", region, f.Name())
	}
	hdr := getSectorBuf()
	defer sectorPool.Put(hdr)
	binary.LittleEndian.PutUint32(hdr[0:4], crc32.Checksum(payload, castagnoli))
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(len(payload)))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(at.Unix()))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(at.Nanosecond()))
	if _, err := f.WriteAt(hdr, sectorOff(start)); err != nil {
		return enginerr.Wrapf(enginerr.KindIO, err, "write MDA region %d header on %q", region, f.Name())
	}
	if err := f.Sync(); err != nil {
		return enginerr.Wrapf(enginerr.KindIO, err, "sync %q", f.Name())
	}

	b.regionTimes[region] = at
	return nil
}

// LoadState returns the newest valid state payload, or ok=false if
// state has never been saved to this device.
func (b *BDA) LoadState(f stratumdev.DeviceFile) (payload []byte, ok bool, err error) {
	newest, older := 0, 1
	if b.regionTimes[1].After(b.regionTimes[0]) {
		newest, older = 1, 0
	}
	for _, region := range []int{newest, older} {
		if b.regionTimes[region].IsZero() {
			continue
		}
		payload, err := b.loadRegion(f, region)
		if err != nil {
			return nil, false, err
		}
		if payload != nil {
			return payload, true, nil
		}
	}
	return nil, false, nil
}

// loadRegion returns nil (no error) if the region's checksum does not
// validate, so that the caller can fall back to the other copy.
func (b *BDA) loadRegion(f stratumdev.DeviceFile, region int) ([]byte, error) {
	start := b.regionStart(region)
	hdr := getSectorBuf()
	defer sectorPool.Put(hdr)
	if _, err := f.ReadAt(hdr, sectorOff(start)); err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "read MDA region %d header on %q", region, f.Name())
	}
	length := binary.LittleEndian.Uint64(hdr[4:12])
	if length == 0 || stratumprim.Bytes(length) > b.MaxStateSize() {
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := f.ReadAt(payload, sectorOff(start+1)); err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "read MDA region %d payload on %q", region, f.Name())
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != crc32.Checksum(payload, castagnoli) {
		return nil, nil
	}
	return payload, nil
}

func sectorOff(s stratumprim.Sectors) stratumprim.Bytes { return s.Bytes() }
