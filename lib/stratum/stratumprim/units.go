// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stratumprim implements the primitive types shared by all of
// the engine's storage-management packages: sector/byte quantities and
// the pool/device UUID types.
package stratumprim

import (
	"fmt"
	"strconv"
	"strings"
)

// SectorSize is the unit in which this engine addresses devices, in
// bytes.
const SectorSize = 512

type (
	// Bytes is a byte count or byte offset on a device.
	Bytes int64
	// Sectors is a sector count or sector offset on a device.
	Sectors int64
)

const (
	KiB Bytes = 1 << (10 * (iota + 1))
	MiB
	GiB
	TiB
)

// Sectors converts to whole sectors, rounding down.
func (b Bytes) Sectors() Sectors { return Sectors(b / SectorSize) }

func (s Sectors) Bytes() Bytes { return Bytes(s) * SectorSize }

var _ fmt.Stringer = Bytes(0)

// String renders the quantity with an IEC binary-unit suffix.
func (b Bytes) String() string {
	abs := b
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= TiB:
		return fmt.Sprintf("%.2f TiB", float64(b)/float64(TiB))
	case abs >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(GiB))
	case abs >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(MiB))
	case abs >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", int64(b))
	}
}

// ParseBytes parses a quantity with an optional IEC binary-unit suffix
// ("B", "KiB", "MiB", "GiB", "TiB"); a bare number is taken as bytes.
func ParseBytes(str string) (Bytes, error) {
	trimmed := strings.TrimSpace(str)
	unit := Bytes(1)
	for _, u := range []struct {
		suffix string
		unit   Bytes
	}{
		{"TiB", TiB},
		{"GiB", GiB},
		{"MiB", MiB},
		{"KiB", KiB},
		{"B", 1},
	} {
		if strings.HasSuffix(trimmed, u.suffix) {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, u.suffix))
			unit = u.unit
			break
		}
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", str, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must not be negative", str)
	}
	return Bytes(n) * unit, nil
}
