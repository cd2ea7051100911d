// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumdev

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// DeviceFile is the engine's access handle to one device.  Offsets are
// in bytes.
type DeviceFile interface {
	Name() string
	Size() (stratumprim.Bytes, error)
	ReadAt(p []byte, off stratumprim.Bytes) (n int, err error)
	WriteAt(p []byte, off stratumprim.Bytes) (n int, err error)
	Sync() error
	Close() error
}

// OSDevice implements DeviceFile over an *os.File, which may be a block
// device node or (under FileResolver) a regular file.
type OSDevice struct {
	*os.File
}

var _ DeviceFile = (*OSDevice)(nil)

// OpenDevice opens the device node at path for read/write.
func OpenDevice(path string) (*OSDevice, error) {
	fh, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, enginerr.Wrapf(enginerr.KindIO, err, "open %q", path)
	}
	return &OSDevice{File: fh}, nil
}

// Size returns the device's total size: BLKGETSIZE64 for block devices,
// fstat for regular files.
func (f *OSDevice) Size() (stratumprim.Bytes, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, enginerr.Wrapf(enginerr.KindIO, err, "fstat %q", f.Name())
	}
	if st.Mode&unix.S_IFMT == unix.S_IFBLK {
		size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
		if err != nil {
			return 0, enginerr.Wrapf(enginerr.KindIO, err, "BLKGETSIZE64 %q", f.Name())
		}
		return stratumprim.Bytes(size), nil
	}
	return stratumprim.Bytes(st.Size), nil
}

func (f *OSDevice) ReadAt(p []byte, off stratumprim.Bytes) (int, error) {
	return f.File.ReadAt(p, int64(off))
}

func (f *OSDevice) WriteAt(p []byte, off stratumprim.Bytes) (int, error) {
	return f.File.WriteAt(p, int64(off))
}
