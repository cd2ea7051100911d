// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stratumdev implements OS-level identification of and access
// to the physical devices backing a pool: resolving device node paths
// to stable device identities, and reading/writing devices through a
// narrow file interface that tests can satisfy with plain files.
package stratumdev

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DeviceNumber is the identity of one physical device, as derived from
// the OS.  Multiple paths may resolve to the same DeviceNumber; one
// DeviceNumber maps to exactly one device node at resolution time.  It
// is comparable and usable as a map key.
type DeviceNumber uint64

var _ fmt.Stringer = DeviceNumber(0)

func MkDev(major, minor uint32) DeviceNumber {
	return DeviceNumber(unix.Mkdev(major, minor))
}

func (d DeviceNumber) Major() uint32 { return unix.Major(uint64(d)) }
func (d DeviceNumber) Minor() uint32 { return unix.Minor(uint64(d)) }

func (d DeviceNumber) String() string {
	return fmt.Sprintf("%d:%d", d.Major(), d.Minor())
}
