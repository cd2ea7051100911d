// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package blockdev implements the engine's record of one validated,
// initialized block device belonging to a pool.
package blockdev

import (
	"time"

	"github.com/stratum-ng/stratum/lib/stratum/bda"
	"github.com/stratum-ng/stratum/lib/stratum/rangealloc"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// BlockDev is one pool member device.  BlockDevs are constructed only
// by blockdevmgr's initialize and setup pipelines, never ad hoc, and
// are destroyed only by wiping their metadata.
//
// The file handle stays open for the life of the record; it is how
// metadata saves reach the device.
type BlockDev struct {
	dev     stratumdev.DeviceNumber
	devnode string
	file    stratumdev.DeviceFile
	bda     *bda.BDA
	used    *rangealloc.RangeAllocator
}

// New assembles a record from an already-initialized device.  Intended
// for blockdevmgr; see the package comment.
func New(
	dev stratumdev.DeviceNumber,
	devnode string,
	file stratumdev.DeviceFile,
	b *bda.BDA,
	used *rangealloc.RangeAllocator,
) *BlockDev {
	return &BlockDev{
		dev:     dev,
		devnode: devnode,
		file:    file,
		bda:     b,
		used:    used,
	}
}

func (bd *BlockDev) Device() stratumdev.DeviceNumber { return bd.dev }
func (bd *BlockDev) Devnode() string                 { return bd.devnode }

func (bd *BlockDev) UUID() stratumprim.DevUUID      { return bd.bda.DevUUID() }
func (bd *BlockDev) PoolUUID() stratumprim.PoolUUID { return bd.bda.PoolUUID() }

// Size is the device's total size.
func (bd *BlockDev) Size() stratumprim.Sectors { return bd.bda.DevSize() }

// MetadataSize is the reserved metadata area, never available for
// allocation.
func (bd *BlockDev) MetadataSize() stratumprim.Sectors { return bd.bda.Size() }

// Available is the free length left on the device.
func (bd *BlockDev) Available() stratumprim.Sectors { return bd.used.Available() }

// RequestSpace allocates up to amount sectors from the device,
// returning the length granted and the segments realizing it.
func (bd *BlockDev) RequestSpace(amount stratumprim.Sectors) (stratumprim.Sectors, []stratumdev.Segment) {
	granted, ranges := bd.used.Request(amount)
	segs := make([]stratumdev.Segment, 0, len(ranges))
	for _, r := range ranges {
		segs = append(segs, stratumdev.Segment{Dev: bd.dev, Start: r.Start, Length: r.Length})
	}
	return granted, segs
}

// MarkUsed records previously-allocated ranges when rebuilding a
// record's allocator at setup.
func (bd *BlockDev) MarkUsed(ranges []rangealloc.Range) error {
	return bd.used.MarkUsed(ranges)
}

// SaveState writes a pool-level state payload to the device's MDA.
func (bd *BlockDev) SaveState(at time.Time, payload []byte) error {
	return bd.bda.SaveState(bd.file, at, payload)
}

// LoadState reads back the newest state payload, ok=false if none was
// ever saved.
func (bd *BlockDev) LoadState() (payload []byte, ok bool, err error) {
	return bd.bda.LoadState(bd.file)
}

// LastUpdated is the timestamp of the newest saved state, or the zero
// time.
func (bd *BlockDev) LastUpdated() time.Time { return bd.bda.LastUpdated() }

// MaxStateSize is the largest payload SaveState accepts for this
// device.
func (bd *BlockDev) MaxStateSize() stratumprim.Bytes { return bd.bda.MaxStateSize() }

// WipeMetadata erases the device's pool membership and closes the
// handle, consuming the record.
func (bd *BlockDev) WipeMetadata() error {
	if err := bda.Wipe(bd.file); err != nil {
		_ = bd.file.Close()
		return err
	}
	return bd.file.Close()
}

// Close releases the device handle without wiping anything.
func (bd *BlockDev) Close() error { return bd.file.Close() }

// BlockDevSave is the persistent form of a record's identity, stored in
// the pool's own metadata keyed by the device UUID.
type BlockDevSave struct {
	Devnode   string              `json:"devnode"`
	TotalSize stratumprim.Sectors `json:"total_size"`
}

// Record serializes the device's persistent identity.
func (bd *BlockDev) Record() BlockDevSave {
	return BlockDevSave{
		Devnode:   bd.devnode,
		TotalSize: bd.Size(),
	}
}
