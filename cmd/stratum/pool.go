// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/stratum-ng/stratum/lib/stratum/bda"
	"github.com/stratum-ng/stratum/lib/stratum/blockdev"
	"github.com/stratum-ng/stratum/lib/stratum/blockdevmgr"
	"github.com/stratum-ng/stratum/lib/stratum/datatier"
	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// poolSave is the pool-level state written to every member device's
// metadata area.  It is everything needed to reassemble the pool given
// the member devnodes.
type poolSave struct {
	Pool     stratumprim.PoolUUID             `json:"pool"`
	Devices  map[string]blockdev.BlockDevSave `json:"devices"`
	Segments []datatier.SegmentTriple         `json:"segments"`
}

// poolUUIDOf reads the pool UUID off the first device's header, so that
// the caller does not have to name the pool on the command line.
func poolUUIDOf(resolver stratumdev.Resolver, devnode string) (stratumprim.PoolUUID, error) {
	file, err := resolver.Open(devnode)
	if err != nil {
		return stratumprim.PoolUUID{}, err
	}
	defer func() {
		_ = file.Close()
	}()
	b, err := bda.Load(file)
	if err != nil {
		return stratumprim.PoolUUID{}, err
	}
	return b.PoolUUID(), nil
}

// openPool assembles a tier from the given member devnodes, reading the
// pool UUID off the first device and the segment list out of the saved
// pool state.
func openPool(ctx context.Context, resolver stratumdev.Resolver, devnodes []string) (*datatier.DataTier, error) {
	if len(devnodes) == 0 {
		return nil, enginerr.New(enginerr.KindUsage, "at least one --dev is required")
	}
	pool, err := poolUUIDOf(resolver, devnodes[0])
	if err != nil {
		return nil, err
	}
	mgr, err := blockdevmgr.Setup(ctx, resolver, pool, devnodes)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*datatier.DataTier, error) {
		for _, bd := range mgr.BlockDevs() {
			_ = bd.Close()
		}
		return nil, err
	}
	state, err := mgr.LoadState(ctx)
	if err != nil {
		return fail(err)
	}
	save, err := decodeJSON[poolSave](state)
	if err != nil {
		return fail(err)
	}
	tier, err := datatier.Setup(mgr, save.Segments)
	if err != nil {
		return fail(err)
	}
	dlog.Debugf(ctx, "assembled pool %v from %d devices", pool, len(mgr.BlockDevs()))
	return tier, nil
}

// savePool persists the pool-level state to every member device.
func savePool(ctx context.Context, pool stratumprim.PoolUUID, tier *datatier.DataTier) error {
	state, err := encodeJSON(poolSave{
		Pool:     pool,
		Devices:  tier.BlockMgr.Record(),
		Segments: tier.RecordSegments(),
	})
	if err != nil {
		return err
	}
	return tier.SaveState(ctx, time.Now(), state)
}

// tierPool names the pool a tier belongs to, off any member's header.
func tierPool(tier *datatier.DataTier) stratumprim.PoolUUID {
	bds := tier.BlockMgr.BlockDevs()
	if len(bds) == 0 {
		return stratumprim.PoolUUID{}
	}
	return bds[0].PoolUUID()
}
