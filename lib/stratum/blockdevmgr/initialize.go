// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package blockdevmgr

import (
	"context"
	"fmt"

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

// devInfo is everything the filter and write phases need to know about
// one candidate device.
type devInfo struct {
	dev       stratumdev.DeviceNumber
	devnode   string
	size      stratumprim.Bytes
	ownership bda.Ownership
	file      stratumdev.DeviceFile
}

func closeInfos(infos []devInfo) {
	for _, info := range infos {
		_ = info.file.Close()
	}
}

// gatherDevInfo opens each candidate device read/write and collects its
// size and ownership state.  Devices are visited in ascending device
// number order so that failures and rollbacks are deterministic.
func gatherDevInfo(
	ctx context.Context,
	resolver stratumdev.Resolver,
	devices map[stratumdev.DeviceNumber]string,
) ([]devInfo, error) {
	infos := make([]devInfo, 0, len(devices))
	for _, devnum := range maps.SortedKeys(devices) {
		devnode := devices[devnum]
		dlog.Debugf(ctx, "gathering facts about device %v (%q)", devnum, devnode)
		file, err := resolver.Open(devnode)
		if err != nil {
			closeInfos(infos)
			return nil, err
		}
		size, err := file.Size()
		if err != nil {
			_ = file.Close()
			closeInfos(infos)
			return nil, err
		}
		ownership, err := bda.DetermineOwnership(file)
		if err != nil {
			_ = file.Close()
			closeInfos(infos)
			return nil, err
		}
		infos = append(infos, devInfo{
			dev:       devnum,
			devnode:   devnode,
			size:      size,
			ownership: ownership,
			file:      file,
		})
	}
	return infos, nil
}

// filterDevs decides which candidates are admitted to the pool.  It is
// pure validation: it performs no writes, so rejecting the batch leaves
// every device untouched.
//
// known reports whether the pool already holds a record for a device;
// it is nil when initializing a brand-new pool, in which case an
// on-disk claim of membership is taken at face value (after a
// consistency check) rather than rejected.
func filterDevs(
	ctx context.Context,
	infos []devInfo,
	pool stratumprim.PoolUUID,
	force bool,
	known func(stratumdev.DeviceNumber) bool,
) ([]devInfo, error) {
	admitted := make([]devInfo, 0, len(infos))
	for _, info := range infos {
		if info.size < stratumprim.MinDevSize {
			return nil, enginerr.Errorf(enginerr.KindInvalidInput,
				"%q is %v, smaller than the minimum device size of %v",
				info.devnode, info.size, stratumprim.MinDevSize)
		}
		switch info.ownership.Kind {
		case bda.OwnershipUnowned:
			admitted = append(admitted, info)
		case bda.OwnershipTheirs:
			if !force {
				return nil, enginerr.Errorf(enginerr.KindInvalidInput,
					"%q appears to belong to another application; pass force to claim it",
					info.devnode)
			}
			dlog.Infof(ctx, "forcibly claiming %q from another application", info.devnode)
			admitted = append(admitted, info)
		case bda.OwnershipOurs:
			if info.ownership.Pool != pool {
				return nil, enginerr.Errorf(enginerr.KindInvalidInput,
					"%q already belongs to pool %v", info.devnode, info.ownership.Pool)
			}
			// The device's header says it is already a member
			// of this pool.  Don't trust the claim blindly:
			// cross-check it before silently skipping.
			if known != nil && !known(info.dev) {
				return nil, enginerr.Errorf(enginerr.KindInvalidInput,
					"%q claims membership in pool %v, but the pool holds no record of it",
					info.devnode, pool)
			}
			b, err := bda.Load(info.file)
			if err != nil {
				return nil, err
			}
			if b.DevSize() != info.size.Sectors() {
				return nil, enginerr.Errorf(enginerr.KindInvalidInput,
					"%q records a size of %d sectors but the device has %d",
					info.devnode, b.DevSize(), info.size.Sectors())
			}
			dlog.Debugf(ctx, "skipping %q: already initialized for pool %v", info.devnode, pool)
		}
	}
	return admitted, nil
}

// initialize validates and initializes a batch of candidate devices for
// pool membership.  All validation happens before any device is
// written.  If a metadata write fails partway through the batch, the
// metadata already written in this batch is erased again best-effort;
// the returned error names the original failure and, separately, any
// devices whose erasure also failed.
func initialize(
	ctx context.Context,
	resolver stratumdev.Resolver,
	pool stratumprim.PoolUUID,
	devices map[stratumdev.DeviceNumber]string,
	mdaSize stratumprim.Sectors,
	force bool,
	known func(stratumdev.DeviceNumber) bool,
) ([]*blockdev.BlockDev, error) {
	if err := bda.ValidateMDASize(mdaSize); err != nil {
		return nil, err
	}

	infos, err := gatherDevInfo(ctx, resolver, devices)
	if err != nil {
		return nil, err
	}
	admitted, err := filterDevs(ctx, infos, pool, force, known)
	if err != nil {
		closeInfos(infos)
		return nil, err
	}
	// Release the handles of devices that were filtered out as
	// already-known; the admitted handles move into the records.
	isAdmitted := make(map[stratumdev.DeviceNumber]bool, len(admitted))
	for _, info := range admitted {
		isAdmitted[info.dev] = true
	}
	for _, info := range infos {
		if !isAdmitted[info.dev] {
			_ = info.file.Close()
		}
	}

	bds := make([]*blockdev.BlockDev, 0, len(admitted))
	for i, info := range admitted {
		dlog.Debugf(ctx, "writing pool %v metadata to %v (%q)", pool, info.dev, info.devnode)
		b, err := bda.Initialize(info.file, pool, stratumprim.NewDevUUID(), mdaSize, info.size.Sectors())
		if err != nil {
			cause := fmt.Errorf("initializing %q: %w", info.devnode, err)
			var cleanup derror.MultiError
			if werr := bda.Wipe(info.file); werr != nil {
				cleanup = append(cleanup, fmt.Errorf("%q: %w", info.devnode, werr))
			}
			_ = info.file.Close()
			for _, bd := range bds {
				devnode := bd.Devnode()
				if werr := bd.WipeMetadata(); werr != nil {
					cleanup = append(cleanup, fmt.Errorf("%q: %w", devnode, werr))
				}
			}
			for _, rest := range admitted[i+1:] {
				_ = rest.file.Close()
			}
			if len(cleanup) == 0 {
				return nil, cause
			}
			return nil, &enginerr.CleanupError{Cause: cause, Cleanup: cleanup}
		}
		alloc, err := rangealloc.New(b.DevSize(), []rangealloc.Range{{Start: 0, Length: b.Size()}})
		if err != nil {
			panic(fmt.Sprintf("blockdevmgr: fresh allocator for %q rejected the metadata reservation: %v",
				info.devnode, err))
		}
		bds = append(bds, blockdev.New(info.dev, info.devnode, info.file, b, alloc))
	}
	return bds, nil
}
