// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package datatier implements the tier-level façade over a block device
// manager: the manager plus the coalesced list of segments actually
// granted to the upper mapping layer.
package datatier

import (
	"context"
	"fmt"
	"time"

	"github.com/stratum-ng/stratum/lib/stratum/blockdev"
	"github.com/stratum-ng/stratum/lib/stratum/blockdevmgr"
	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/rangealloc"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// BlockDevTier classifies which tier a device serves, for callers
// looking devices up through a tier.
type BlockDevTier int8

const (
	TierData BlockDevTier = iota + 1
)

var _ fmt.Stringer = BlockDevTier(0)

func (t BlockDevTier) String() string {
	switch t {
	case TierData:
		return "data"
	default:
		return fmt.Sprintf("BlockDevTier(%d)", int8(t))
	}
}

// SegmentTriple is the persisted form of one granted segment: the
// owning device's UUID plus the extent within it.  Unlike a live
// segment it carries no OS device identity, so it survives device
// renumbering across restarts.
type SegmentTriple struct {
	UUID   stratumprim.DevUUID `json:"uuid"`
	Start  stratumprim.Sectors `json:"start"`
	Length stratumprim.Sectors `json:"length"`
}

// DataTier owns a block device manager plus the ordered list of
// segments granted to the upper mapping layer.  The tier starts empty
// and grows monotonically: segments are never removed individually,
// only with the whole tier's destruction.
type DataTier struct {
	BlockMgr *blockdevmgr.BlockDevMgr

	segments []blockdevmgr.BlkDevSegment
}

// New returns a tier over the manager with zero segments allocated.
func New(mgr *blockdevmgr.BlockDevMgr) *DataTier {
	return &DataTier{BlockMgr: mgr}
}

// Setup reconstructs a previously existing tier from persisted segment
// triples, resolving each device UUID to its live device through the
// manager and re-marking the extents used in the device allocators.
// The manager must be freshly set up, its allocators holding only the
// metadata reservations.  A triple naming a device absent from the
// manager fails with a not-found error: the hardware is missing.
func Setup(mgr *blockdevmgr.BlockDevMgr, triples []SegmentTriple) (*DataTier, error) {
	segments := make([]blockdevmgr.BlkDevSegment, 0, len(triples))
	for _, t := range triples {
		bd, ok := mgr.GetByUUID(t.UUID)
		if !ok {
			return nil, enginerr.Errorf(enginerr.KindNotFound,
				"no device with UUID %v in the pool", t.UUID)
		}
		if err := bd.MarkUsed([]rangealloc.Range{{Start: t.Start, Length: t.Length}}); err != nil {
			return nil, fmt.Errorf("restoring segment %v on %q: %w", t, bd.Devnode(), err)
		}
		segments = append(segments, blockdevmgr.BlkDevSegment{
			UUID:    t.UUID,
			Segment: stratumdev.Segment{Dev: bd.Device(), Start: t.Start, Length: t.Length},
		})
	}
	return &DataTier{
		BlockMgr: mgr,
		segments: blockdevmgr.CoalesceSegments(nil, segments),
	}, nil
}

// Add grows the tier's raw capacity with additional devices.  It does
// not itself allocate any segments.
func (dt *DataTier) Add(
	ctx context.Context,
	pool stratumprim.PoolUUID,
	paths []string,
	force bool,
) ([]stratumprim.DevUUID, error) {
	return dt.BlockMgr.Add(ctx, pool, paths, force)
}

// Alloc asks the manager for request sectors and, on success, coalesces
// the grant into the tier's segment list.  On insufficient space it
// reports false and changes nothing.
func (dt *DataTier) Alloc(request stratumprim.Sectors) bool {
	granted, ok := dt.BlockMgr.AllocSpace([]stratumprim.Sectors{request})
	if !ok {
		return false
	}
	dt.segments = blockdevmgr.CoalesceSegments(dt.segments, granted[0])
	return true
}

// AllocatedCapacity is the sum of the lengths of all segments granted
// to the upper layer.
func (dt *DataTier) AllocatedCapacity() stratumprim.Sectors {
	var total stratumprim.Sectors
	for _, seg := range dt.segments {
		total += seg.Segment.Length
	}
	return total
}

// CurrentCapacity is the total size of all the tier's devices combined.
func (dt *DataTier) CurrentCapacity() stratumprim.Sectors {
	return dt.BlockMgr.CurrentCapacity()
}

// MetadataSize is the reserved metadata space across the tier's
// devices.
func (dt *DataTier) MetadataSize() stratumprim.Sectors {
	return dt.BlockMgr.MetadataSize()
}

// Destroy wipes the tier's devices.
func (dt *DataTier) Destroy(ctx context.Context) error {
	return dt.BlockMgr.DestroyAll(ctx)
}

// SaveState persists pool-level state through the manager.
func (dt *DataTier) SaveState(ctx context.Context, at time.Time, payload []byte) error {
	return dt.BlockMgr.SaveState(ctx, at, payload)
}

// RecordSegments serializes the tier's segment list for the pool's own
// metadata.  Feeding the result back through Setup (over a freshly
// set-up manager) reconstructs an equivalent tier.
func (dt *DataTier) RecordSegments() []SegmentTriple {
	ret := make([]SegmentTriple, 0, len(dt.segments))
	for _, seg := range dt.segments {
		ret = append(ret, SegmentTriple{
			UUID:   seg.UUID,
			Start:  seg.Segment.Start,
			Length: seg.Segment.Length,
		})
	}
	return ret
}

// Segments returns the tier's granted segments in their normalized
// order.
func (dt *DataTier) Segments() []blockdevmgr.BlkDevSegment {
	ret := make([]blockdevmgr.BlkDevSegment, len(dt.segments))
	copy(ret, dt.segments)
	return ret
}

// GetBlockDevByUUID looks a device up through the tier, tagging the
// result with the tier classification.
func (dt *DataTier) GetBlockDevByUUID(uuid stratumprim.DevUUID) (BlockDevTier, *blockdev.BlockDev, bool) {
	bd, ok := dt.BlockMgr.GetByUUID(uuid)
	if !ok {
		return 0, nil, false
	}
	return TierData, bd, true
}

// BlockDevs lists the tier's devices with their UUIDs.
func (dt *DataTier) BlockDevs() map[stratumprim.DevUUID]*blockdev.BlockDev {
	bds := dt.BlockMgr.BlockDevs()
	ret := make(map[stratumprim.DevUUID]*blockdev.BlockDev, len(bds))
	for _, bd := range bds {
		ret[bd.UUID()] = bd
	}
	return ret
}
