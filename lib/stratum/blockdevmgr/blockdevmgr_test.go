// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package blockdevmgr_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-ng/stratum/lib/stratum/bda"
	"github.com/stratum-ng/stratum/lib/stratum/blockdevmgr"
	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

func mkdev(t *testing.T, dir, name string, size stratumprim.Bytes) string {
	t.Helper()
	path := filepath.Join(dir, name)
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(int64(size)))
	require.NoError(t, fh.Close())
	return path
}

func ownershipOf(t *testing.T, path string) bda.Ownership {
	t.Helper()
	file, err := stratumdev.OpenDevice(path)
	require.NoError(t, err)
	defer func() {
		_ = file.Close()
	}()
	ownership, err := bda.DetermineOwnership(file)
	require.NoError(t, err)
	return ownership
}

func closeAll(t *testing.T, mgr *blockdevmgr.BlockDevMgr) {
	t.Helper()
	for _, bd := range mgr.BlockDevs() {
		assert.NoError(t, bd.Close())
	}
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	paths := []string{
		mkdev(t, dir, "a.img", stratumprim.GiB),
		mkdev(t, dir, "b.img", 2*stratumprim.GiB),
	}
	pool := stratumprim.NewPoolUUID()

	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool, paths,
		stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	defer closeAll(t, mgr)

	require.Len(t, mgr.BlockDevs(), 2)
	assert.Equal(t, (3 * stratumprim.GiB).Sectors(), mgr.CurrentCapacity())
	perDev := stratumprim.Sectors(16) + stratumprim.MinMDASectors
	assert.Equal(t, 2*perDev, mgr.MetadataSize())
	assert.Equal(t, mgr.CurrentCapacity()-mgr.MetadataSize(), mgr.AvailSpace())

	for _, path := range paths {
		ownership := ownershipOf(t, path)
		assert.Equal(t, bda.Ownership{Kind: bda.OwnershipOurs, Pool: pool}, ownership)
	}
	for _, bd := range mgr.BlockDevs() {
		assert.Equal(t, pool, bd.PoolUUID())
		got, ok := mgr.GetByUUID(bd.UUID())
		require.True(t, ok)
		assert.Same(t, bd, got)
		got, ok = mgr.GetByDevice(bd.Device())
		require.True(t, ok)
		assert.Same(t, bd, got)
	}
}

func TestInitializeRejectsSmallDevice(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	good := mkdev(t, dir, "good.img", stratumprim.GiB)
	small := mkdev(t, dir, "small.img", 512*stratumprim.MiB)

	_, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, stratumprim.NewPoolUUID(),
		[]string{good, small}, stratumprim.MinMDASectors, false)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))

	// Validation happens before any write: the good device is untouched.
	assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, good).Kind)
	assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, small).Kind)
}

func TestInitializeForeignData(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	path := mkdev(t, dir, "theirs.img", stratumprim.GiB)
	file, err := stratumdev.OpenDevice(path)
	require.NoError(t, err)
	_, err = file.WriteAt([]byte("another application's superblock"), 0)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	pool := stratumprim.NewPoolUUID()
	_, err = blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool,
		[]string{path}, stratumprim.MinMDASectors, false)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
	assert.Equal(t, bda.OwnershipTheirs, ownershipOf(t, path).Kind)

	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool,
		[]string{path}, stratumprim.MinMDASectors, true)
	require.NoError(t, err)
	defer closeAll(t, mgr)
	assert.Equal(t, bda.Ownership{Kind: bda.OwnershipOurs, Pool: pool}, ownershipOf(t, path))
}

func TestInitializeOtherPool(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	path := mkdev(t, dir, "dev.img", stratumprim.GiB)

	mgrA, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, stratumprim.NewPoolUUID(),
		[]string{path}, stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	closeAll(t, mgrA)

	// Even force does not let another pool steal a member device.
	for _, force := range []bool{false, true} {
		_, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, stratumprim.NewPoolUUID(),
			[]string{path}, stratumprim.MinMDASectors, force)
		require.Error(t, err)
		assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
	}
}

// brokenFile fails the next n writes, then behaves normally again.
type brokenFile struct {
	stratumdev.DeviceFile
	failures *int
}

func (f *brokenFile) WriteAt(p []byte, off stratumprim.Bytes) (int, error) {
	if *f.failures > 0 {
		*f.failures--
		return 0, errors.New("injected write failure")
	}
	return f.DeviceFile.WriteAt(p, off)
}

// brokenResolver hands out a write-failing handle for one path.
type brokenResolver struct {
	stratumdev.FileResolver
	path     string
	failures *int
}

func (r brokenResolver) Open(path string) (stratumdev.DeviceFile, error) {
	file, err := r.FileResolver.Open(path)
	if err != nil || path != r.path {
		return file, err
	}
	return &brokenFile{DeviceFile: file, failures: r.failures}, nil
}

func TestInitializeRollsBackOnWriteFailure(t *testing.T) {
	t.Parallel()

	// The first write to the broken device fails; the wipe that rolls
	// it back succeeds.  Every device ends up unowned and the error is
	// the plain write failure.
	t.Run("cleanup-succeeds", func(t *testing.T) {
		t.Parallel()
		ctx := dlog.NewTestContext(t, false)
		dir := t.TempDir()
		good := mkdev(t, dir, "good.img", stratumprim.GiB)
		broken := mkdev(t, dir, "broken.img", stratumprim.GiB)
		failures := 1

		_, err := blockdevmgr.Initialize(ctx,
			brokenResolver{path: broken, failures: &failures},
			stratumprim.NewPoolUUID(), []string{good, broken},
			stratumprim.MinMDASectors, false)
		require.Error(t, err)
		assert.Equal(t, enginerr.KindIO, enginerr.KindOf(err))
		var cerr *enginerr.CleanupError
		assert.False(t, errors.As(err, &cerr))

		assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, good).Kind)
		assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, broken).Kind)
	})

	// Every write to the broken device fails, so rolling it back fails
	// too: the error must report the original failure and the failed
	// erasure separately.  The healthy device is still wiped back.
	t.Run("cleanup-fails", func(t *testing.T) {
		t.Parallel()
		ctx := dlog.NewTestContext(t, false)
		dir := t.TempDir()
		good := mkdev(t, dir, "good.img", stratumprim.GiB)
		broken := mkdev(t, dir, "broken.img", stratumprim.GiB)
		failures := math.MaxInt

		_, err := blockdevmgr.Initialize(ctx,
			brokenResolver{path: broken, failures: &failures},
			stratumprim.NewPoolUUID(), []string{good, broken},
			stratumprim.MinMDASectors, false)
		require.Error(t, err)
		var cerr *enginerr.CleanupError
		require.ErrorAs(t, err, &cerr)
		assert.Contains(t, cerr.Cause.Error(), "injected write failure")
		require.Len(t, cerr.Cleanup, 1)
		assert.Contains(t, cerr.Cleanup[0].Error(), broken)

		assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, good).Kind)
		assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, broken).Kind)
	})
}

func TestAdd(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	first := mkdev(t, dir, "first.img", stratumprim.GiB)
	second := mkdev(t, dir, "second.img", stratumprim.GiB)
	pool := stratumprim.NewPoolUUID()

	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool,
		[]string{first}, stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	defer closeAll(t, mgr)

	// Naming an existing member alongside the new device is harmless.
	uuids, err := mgr.Add(ctx, pool, []string{second, first}, false)
	require.NoError(t, err)
	assert.Len(t, uuids, 1)
	assert.Len(t, mgr.BlockDevs(), 2)
	assert.Equal(t, (2 * stratumprim.GiB).Sectors(), mgr.CurrentCapacity())

	// Adding the same paths again is a no-op.
	uuids, err = mgr.Add(ctx, pool, []string{second, first}, false)
	require.NoError(t, err)
	assert.Empty(t, uuids)
	assert.Len(t, mgr.BlockDevs(), 2)
}

func TestAddRejectsImpostor(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	member := mkdev(t, dir, "member.img", stratumprim.GiB)
	impostor := mkdev(t, dir, "impostor.img", stratumprim.GiB)
	pool := stratumprim.NewPoolUUID()

	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool,
		[]string{member}, stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	defer closeAll(t, mgr)

	// A device whose header claims membership in this pool, but that the
	// pool has no record of, is rejected rather than silently adopted.
	file, err := stratumdev.OpenDevice(impostor)
	require.NoError(t, err)
	_, err = bda.Initialize(file, pool, stratumprim.NewDevUUID(),
		stratumprim.MinMDASectors, stratumprim.GiB.Sectors())
	require.NoError(t, err)
	require.NoError(t, file.Close())

	_, err = mgr.Add(ctx, pool, []string{impostor}, false)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
	assert.Len(t, mgr.BlockDevs(), 1)
}

func TestSetup(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	paths := []string{
		mkdev(t, dir, "a.img", stratumprim.GiB),
		mkdev(t, dir, "b.img", 2*stratumprim.GiB),
	}
	pool := stratumprim.NewPoolUUID()

	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool, paths,
		stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	wantUUIDs := make(map[stratumprim.DevUUID]bool)
	for _, bd := range mgr.BlockDevs() {
		wantUUIDs[bd.UUID()] = true
	}
	closeAll(t, mgr)

	mgr2, err := blockdevmgr.Setup(ctx, stratumdev.FileResolver{}, pool, paths)
	require.NoError(t, err)
	defer closeAll(t, mgr2)
	require.Len(t, mgr2.BlockDevs(), 2)
	for _, bd := range mgr2.BlockDevs() {
		assert.True(t, wantUUIDs[bd.UUID()])
	}
	assert.Equal(t, mgr2.CurrentCapacity()-mgr2.MetadataSize(), mgr2.AvailSpace())

	// Setting up under the wrong pool UUID fails.
	_, err = blockdevmgr.Setup(ctx, stratumdev.FileResolver{}, stratumprim.NewPoolUUID(), paths)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
}

func TestSetupMismatchedMDASizes(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	a := mkdev(t, dir, "a.img", stratumprim.GiB)
	b := mkdev(t, dir, "b.img", stratumprim.GiB)
	pool := stratumprim.NewPoolUUID()

	mgrA, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool,
		[]string{a}, stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	closeAll(t, mgrA)
	mgrB, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool,
		[]string{b}, 2*stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	closeAll(t, mgrB)

	// Pool members must agree on the MDA size; devices initialized
	// with different sizes cannot be assembled into one pool.
	_, err = blockdevmgr.Setup(ctx, stratumdev.FileResolver{}, pool, []string{a, b})
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
}

func TestAllocSpace(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	paths := []string{
		mkdev(t, dir, "a.img", stratumprim.GiB),
		mkdev(t, dir, "b.img", stratumprim.GiB),
	}
	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, stratumprim.NewPoolUUID(),
		paths, stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	defer closeAll(t, mgr)

	before := mgr.AvailSpace()

	// A request bigger than everything allocates nothing.
	_, ok := mgr.AllocSpace([]stratumprim.Sectors{before + 1})
	assert.False(t, ok)
	assert.Equal(t, before, mgr.AvailSpace())

	requests := []stratumprim.Sectors{1000, 100, before - 1100}
	allocs, ok := mgr.AllocSpace(requests)
	require.True(t, ok)
	require.Len(t, allocs, len(requests))
	for i, request := range requests {
		var total stratumprim.Sectors
		for _, s := range allocs[i] {
			total += s.Segment.Length
			bd, ok := mgr.GetByUUID(s.UUID)
			require.True(t, ok)
			assert.Equal(t, bd.Device(), s.Segment.Dev)
		}
		assert.Equal(t, request, total, "each request is satisfied exactly")
	}
	assert.Equal(t, stratumprim.Sectors(0), mgr.AvailSpace())
}

func TestSaveLoadState(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	paths := []string{
		mkdev(t, dir, "a.img", stratumprim.GiB),
		mkdev(t, dir, "b.img", stratumprim.GiB),
	}
	pool := stratumprim.NewPoolUUID()
	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, pool, paths,
		stratumprim.MinMDASectors, false)
	require.NoError(t, err)
	closeAll(t, mgr)

	mgr, err = blockdevmgr.Setup(ctx, stratumdev.FileResolver{}, pool, paths)
	require.NoError(t, err)
	defer closeAll(t, mgr)

	_, err = mgr.LoadState(ctx)
	assert.Equal(t, enginerr.KindNotFound, enginerr.KindOf(err))

	t1 := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, mgr.SaveState(ctx, t1, []byte(`{"gen":1}`)))
	state, err := mgr.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"gen":1}`), state)

	// A stale timestamp is refused before anything is written.
	err = mgr.SaveState(ctx, t1, []byte(`{"gen":2}`))
	assert.Equal(t, enginerr.KindUsage, enginerr.KindOf(err))
	state, err = mgr.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"gen":1}`), state)

	require.NoError(t, mgr.SaveState(ctx, t1.Add(time.Second), []byte(`{"gen":2}`)))
	state, err = mgr.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"gen":2}`), state)
}

func TestDestroyAll(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	paths := []string{
		mkdev(t, dir, "a.img", stratumprim.GiB),
		mkdev(t, dir, "b.img", stratumprim.GiB),
	}
	mgr, err := blockdevmgr.Initialize(ctx, stratumdev.FileResolver{}, stratumprim.NewPoolUUID(),
		paths, stratumprim.MinMDASectors, false)
	require.NoError(t, err)

	require.NoError(t, mgr.DestroyAll(ctx))
	assert.Empty(t, mgr.BlockDevs())
	for _, path := range paths {
		assert.Equal(t, bda.OwnershipUnowned, ownershipOf(t, path).Kind)
	}
}
