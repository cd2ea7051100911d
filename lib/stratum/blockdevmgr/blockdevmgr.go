// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package blockdevmgr handles the collection of block devices backing
// one pool: admitting and initializing devices, fanning allocation
// requests out across them, and persisting pool state to all of them.
//
// A manager assumes exclusive access for the duration of each mutating
// operation; callers serialize access (one lock per pool).  No locking
// is performed here, multi-device loops are sequential, and there is no
// cancellation: the context parameters carry logging only.
package blockdevmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/stratum-ng/stratum/lib/maps"
	"github.com/stratum-ng/stratum/lib/stratum/bda"
	"github.com/stratum-ng/stratum/lib/stratum/blockdev"
	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/rangealloc"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// BlockDevMgr owns the ordered collection of device records for one
// pool.  Device numbers and device UUIDs are each unique within the
// collection.
type BlockDevMgr struct {
	resolver  stratumdev.Resolver
	mdaSize   stratumprim.Sectors
	blockDevs []*blockdev.BlockDev
}

// Initialize resolves paths to devices, validates them, writes pool
// membership metadata to the admitted ones, and returns the manager
// owning the resulting records.  See initialize for the rollback
// behavior on partial failure.
func Initialize(
	ctx context.Context,
	resolver stratumdev.Resolver,
	pool stratumprim.PoolUUID,
	paths []string,
	mdaSize stratumprim.Sectors,
	force bool,
) (*BlockDevMgr, error) {
	devices, err := stratumdev.ResolveDevices(resolver, paths)
	if err != nil {
		return nil, err
	}
	bds, err := initialize(ctx, resolver, pool, devices, mdaSize, force, nil)
	if err != nil {
		return nil, err
	}
	return &BlockDevMgr{resolver: resolver, mdaSize: mdaSize, blockDevs: bds}, nil
}

// Setup reassembles a manager from devices that already carry the
// pool's metadata, reading each device's header back from disk.
func Setup(
	ctx context.Context,
	resolver stratumdev.Resolver,
	pool stratumprim.PoolUUID,
	paths []string,
) (*BlockDevMgr, error) {
	devices, err := stratumdev.ResolveDevices(resolver, paths)
	if err != nil {
		return nil, err
	}
	mgr := &BlockDevMgr{resolver: resolver, mdaSize: stratumprim.MinMDASectors}
	fail := func(err error) (*BlockDevMgr, error) {
		for _, bd := range mgr.blockDevs {
			_ = bd.Close()
		}
		return nil, err
	}
	seen := make(map[stratumprim.DevUUID]string, len(devices))
	for _, devnum := range maps.SortedKeys(devices) {
		devnode := devices[devnum]
		dlog.Debugf(ctx, "setting up device %v (%q) for pool %v", devnum, devnode, pool)
		file, err := resolver.Open(devnode)
		if err != nil {
			return fail(err)
		}
		b, err := bda.Load(file)
		if err != nil {
			_ = file.Close()
			return fail(err)
		}
		if b.PoolUUID() != pool {
			_ = file.Close()
			return fail(enginerr.Errorf(enginerr.KindInvalidInput,
				"%q belongs to pool %v, not pool %v", devnode, b.PoolUUID(), pool))
		}
		size, err := file.Size()
		if err != nil {
			_ = file.Close()
			return fail(err)
		}
		if b.DevSize() != size.Sectors() {
			_ = file.Close()
			return fail(enginerr.Errorf(enginerr.KindInvalidInput,
				"%q records a size of %d sectors but the device has %d",
				devnode, b.DevSize(), size.Sectors()))
		}
		if other, dup := seen[b.DevUUID()]; dup {
			_ = file.Close()
			return fail(enginerr.Errorf(enginerr.KindInvalidInput,
				"%q and %q carry the same device UUID %v", devnode, other, b.DevUUID()))
		}
		seen[b.DevUUID()] = devnode
		// All members of a pool share one MDA size; the first device
		// read sets it.
		if len(mgr.blockDevs) == 0 {
			mgr.mdaSize = b.MDASize()
		} else if b.MDASize() != mgr.mdaSize {
			_ = file.Close()
			return fail(enginerr.Errorf(enginerr.KindInvalidInput,
				"%q has an MDA of %d sectors, but the pool's other devices have %d",
				devnode, b.MDASize(), mgr.mdaSize))
		}
		alloc, err := rangealloc.New(b.DevSize(), []rangealloc.Range{{Start: 0, Length: b.Size()}})
		if err != nil {
			panic(fmt.Sprintf("blockdevmgr: fresh allocator for %q rejected the metadata reservation: %v",
				devnode, err))
		}
		mgr.blockDevs = append(mgr.blockDevs, blockdev.New(devnum, devnode, file, b, alloc))
	}
	return mgr, nil
}

// Add runs the initialization pipeline for additional paths and appends
// the newly admitted devices, returning their UUIDs.  Devices the pool
// already holds records for are not duplicated.
func (mgr *BlockDevMgr) Add(
	ctx context.Context,
	pool stratumprim.PoolUUID,
	paths []string,
	force bool,
) ([]stratumprim.DevUUID, error) {
	devices, err := stratumdev.ResolveDevices(mgr.resolver, paths)
	if err != nil {
		return nil, err
	}
	for devnum := range devices {
		if _, ok := mgr.GetByDevice(devnum); ok {
			delete(devices, devnum)
		}
	}
	bds, err := initialize(ctx, mgr.resolver, pool, devices, mgr.mdaSize, force, func(dev stratumdev.DeviceNumber) bool {
		_, ok := mgr.GetByDevice(dev)
		return ok
	})
	if err != nil {
		return nil, err
	}
	uuids := make([]stratumprim.DevUUID, 0, len(bds))
	for _, bd := range bds {
		uuids = append(uuids, bd.UUID())
	}
	mgr.blockDevs = append(mgr.blockDevs, bds...)
	return uuids, nil
}

// GetByDevice looks a record up by its OS device identity.  No match is
// an explicit empty result, not an error.
func (mgr *BlockDevMgr) GetByDevice(dev stratumdev.DeviceNumber) (*blockdev.BlockDev, bool) {
	for _, bd := range mgr.blockDevs {
		if bd.Device() == dev {
			return bd, true
		}
	}
	return nil, false
}

// GetByUUID looks a record up by its device UUID.
func (mgr *BlockDevMgr) GetByUUID(uuid stratumprim.DevUUID) (*blockdev.BlockDev, bool) {
	for _, bd := range mgr.blockDevs {
		if bd.UUID() == uuid {
			return bd, true
		}
	}
	return nil, false
}

// BlockDevs returns the records in manager order.
func (mgr *BlockDevMgr) BlockDevs() []*blockdev.BlockDev {
	ret := make([]*blockdev.BlockDev, len(mgr.blockDevs))
	copy(ret, mgr.blockDevs)
	return ret
}

func (mgr *BlockDevMgr) Devnodes() []string {
	ret := make([]string, 0, len(mgr.blockDevs))
	for _, bd := range mgr.blockDevs {
		ret = append(ret, bd.Devnode())
	}
	return ret
}

// AvailSpace is the unused space left across all devices.
func (mgr *BlockDevMgr) AvailSpace() stratumprim.Sectors {
	var total stratumprim.Sectors
	for _, bd := range mgr.blockDevs {
		total += bd.Available()
	}
	return total
}

// CurrentCapacity is the total size of all devices combined,
// independent of how much is allocated.
func (mgr *BlockDevMgr) CurrentCapacity() stratumprim.Sectors {
	var total stratumprim.Sectors
	for _, bd := range mgr.blockDevs {
		total += bd.Size()
	}
	return total
}

// MetadataSize is the total reserved metadata area across all devices.
func (mgr *BlockDevMgr) MetadataSize() stratumprim.Sectors {
	var total stratumprim.Sectors
	for _, bd := range mgr.blockDevs {
		total += bd.MetadataSize()
	}
	return total
}

// AllocSpace services a list of allocation requests.  If the total
// available space cannot cover the total requested, it returns ok=false
// and allocates nothing: insufficient space is an expected condition
// for the caller to handle, not an error.  Otherwise every request is
// satisfied exactly, walking devices in manager order.
func (mgr *BlockDevMgr) AllocSpace(sizes []stratumprim.Sectors) ([][]BlkDevSegment, bool) {
	var total stratumprim.Sectors
	for _, size := range sizes {
		total += size
	}
	if mgr.AvailSpace() < total {
		return nil, false
	}

	ret := make([][]BlkDevSegment, len(sizes))
	for i, size := range sizes {
		alloc := make([]BlkDevSegment, 0, 1)
		needed := size
		for _, bd := range mgr.blockDevs {
			if needed == 0 {
				break
			}
			granted, segs := bd.RequestSpace(needed)
			for _, seg := range segs {
				alloc = append(alloc, BlkDevSegment{UUID: bd.UUID(), Segment: seg})
			}
			needed -= granted
		}
		if needed != 0 {
			// The precondition held, so the devices must be able
			// to cover the request; ending up short means the
			// bookkeeping is corrupt.
			panic(fmt.Sprintf("blockdevmgr: request for %d sectors fell %d sectors short despite passing the avail-space check",
				size, needed))
		}
		ret[i] = alloc
	}
	return ret, true
}

// SaveState writes the given pool-level state to every device, stamped
// with the given time.  Usage errors (a timestamp not strictly newer
// than a device's last save, or an oversize payload) are detected
// against every device before anything is written, and are never
// reported as I/O failure.
func (mgr *BlockDevMgr) SaveState(ctx context.Context, at time.Time, payload []byte) error {
	for _, bd := range mgr.blockDevs {
		if stratumprim.Bytes(len(payload)) > bd.MaxStateSize() {
			return enginerr.Errorf(enginerr.KindUsage,
				"state payload of %d bytes exceeds %q's MDA capacity of %v",
				len(payload), bd.Devnode(), bd.MaxStateSize())
		}
		if !at.After(bd.LastUpdated()) {
			return enginerr.Errorf(enginerr.KindUsage,
				"state timestamp %v is not newer than %q's last save at %v",
				at, bd.Devnode(), bd.LastUpdated())
		}
	}
	var errs derror.MultiError
	for _, bd := range mgr.blockDevs {
		dlog.Debugf(ctx, "saving pool state to %q", bd.Devnode())
		if err := bd.SaveState(at, payload); err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", bd.Devnode(), err))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// LoadState reads the newest valid saved state from the devices.
// Devices whose copies are unreadable are skipped as long as one good
// copy remains.
func (mgr *BlockDevMgr) LoadState(ctx context.Context) ([]byte, error) {
	var best []byte
	var bestTime time.Time
	for _, bd := range mgr.blockDevs {
		payload, ok, err := bd.LoadState()
		if err != nil {
			dlog.Warnf(ctx, "reading pool state from %q: %v", bd.Devnode(), err)
			continue
		}
		if ok && (best == nil || bd.LastUpdated().After(bestTime)) {
			best, bestTime = payload, bd.LastUpdated()
		}
	}
	if best == nil {
		return nil, enginerr.New(enginerr.KindNotFound, "no saved pool state found on any device")
	}
	return best, nil
}

// DestroyAll wipes the pool metadata from every device, consuming the
// manager.  All devices are attempted even if some fail; partial
// failure is reported per device.
func (mgr *BlockDevMgr) DestroyAll(ctx context.Context) error {
	var errs derror.MultiError
	for _, bd := range mgr.blockDevs {
		dlog.Infof(ctx, "wiping pool metadata from %q", bd.Devnode())
		devnode := bd.Devnode()
		if err := bd.WipeMetadata(); err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", devnode, err))
		}
	}
	mgr.blockDevs = nil
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Record serializes each record's persistent identity, keyed by the
// device UUID in string form, for inclusion in the pool's own metadata.
func (mgr *BlockDevMgr) Record() map[string]blockdev.BlockDevSave {
	ret := make(map[string]blockdev.BlockDevSave, len(mgr.blockDevs))
	for _, bd := range mgr.blockDevs {
		ret[bd.UUID().String()] = bd.Record()
	}
	return ret
}
