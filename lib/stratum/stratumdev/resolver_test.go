// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumdev_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

func mkfile(t *testing.T, name string, size stratumprim.Bytes) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(int64(size)))
	require.NoError(t, fh.Close())
	return path
}

func TestFileResolverDedup(t *testing.T) {
	t.Parallel()
	a := mkfile(t, "a.img", 4096)
	b := mkfile(t, "b.img", 4096)

	devices, err := stratumdev.ResolveDevices(stratumdev.FileResolver{}, []string{a, b, a, a})
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	// Hard links to one file are one device.
	link := filepath.Join(filepath.Dir(a), "a.link")
	require.NoError(t, os.Link(a, link))
	devices, err = stratumdev.ResolveDevices(stratumdev.FileResolver{}, []string{a, link})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	for _, path := range devices {
		assert.Equal(t, a, path, "the first path for a device wins")
	}
}

func TestFileResolverErrors(t *testing.T) {
	t.Parallel()
	_, err := stratumdev.FileResolver{}.Resolve(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.Equal(t, enginerr.KindIO, enginerr.KindOf(err))

	_, err = stratumdev.FileResolver{}.Resolve(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
}

func TestSysResolverRejectsFiles(t *testing.T) {
	t.Parallel()
	path := mkfile(t, "a.img", 4096)
	_, err := stratumdev.SysResolver{}.Resolve(path)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
}

func TestOSDeviceSize(t *testing.T) {
	t.Parallel()
	path := mkfile(t, "a.img", 3*stratumprim.MiB)
	file, err := stratumdev.OpenDevice(path)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, file.Close())
	}()
	size, err := file.Size()
	require.NoError(t, err)
	assert.Equal(t, 3*stratumprim.MiB, size)
}

func TestSegmentString(t *testing.T) {
	t.Parallel()
	seg := stratumdev.Segment{Dev: stratumdev.MkDev(8, 16), Start: 100, Length: 50}
	assert.Equal(t, stratumprim.Sectors(150), seg.End())
	assert.NotEmpty(t, seg.String())
}
