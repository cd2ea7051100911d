// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumdev

import (
	"golang.org/x/sys/unix"

	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
)

// Resolver maps a device node path to the physical device's identity,
// and opens resolved paths for engine access.  Resolution itself is
// read-only; it never modifies the device.
type Resolver interface {
	Resolve(path string) (DeviceNumber, error)
	Open(path string) (DeviceFile, error)
}

// SysResolver resolves real block device nodes via stat(2); the
// identity is the node's device number.
type SysResolver struct{}

var _ Resolver = SysResolver{}

func (SysResolver) Open(path string) (DeviceFile, error) {
	return OpenDevice(path)
}

func (SysResolver) Resolve(path string) (DeviceNumber, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, enginerr.Wrapf(enginerr.KindIO, err, "stat %q", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return 0, enginerr.Errorf(enginerr.KindInvalidInput,
			"%q is not a block device", path)
	}
	return DeviceNumber(st.Rdev), nil
}

// FileResolver admits regular files as stand-in devices, for loopback
// and test use.  A file's identity is synthesized from the backing
// filesystem's device number and the file's inode, so hard links to one
// file resolve to one identity, just as multiple node paths for one
// block device do.  Block device nodes still resolve normally.
type FileResolver struct{}

var _ Resolver = FileResolver{}

func (FileResolver) Open(path string) (DeviceFile, error) {
	return OpenDevice(path)
}

func (FileResolver) Resolve(path string) (DeviceNumber, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, enginerr.Wrapf(enginerr.KindIO, err, "stat %q", path)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		return DeviceNumber(st.Rdev), nil
	case unix.S_IFREG:
		return DeviceNumber(st.Dev)<<32 ^ DeviceNumber(st.Ino), nil
	default:
		return 0, enginerr.Errorf(enginerr.KindInvalidInput,
			"%q is neither a block device nor a regular file", path)
	}
}

// ResolveDevices resolves a list of paths to the set of unique devices
// that they denote, mapping each device to the first of its paths.
// Duplicate paths for one device collapse to a single entry.
func ResolveDevices(r Resolver, paths []string) (map[DeviceNumber]string, error) {
	devices := make(map[DeviceNumber]string, len(paths))
	for _, path := range paths {
		devnum, err := r.Resolve(path)
		if err != nil {
			return nil, err
		}
		if _, ok := devices[devnum]; !ok {
			devices[devnum] = path
		}
	}
	return devices, nil
}
