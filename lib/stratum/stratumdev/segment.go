// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumdev

import (
	"fmt"

	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// Segment is a contiguous run of sectors on one device.  Length is
// always > 0 in any authoritative list, and segments within one device
// never overlap there.
type Segment struct {
	Dev    DeviceNumber
	Start  stratumprim.Sectors
	Length stratumprim.Sectors
}

var _ fmt.Stringer = Segment{}

// End is the first sector past the segment.
func (s Segment) End() stratumprim.Sectors { return s.Start + s.Length }

func (s Segment) String() string {
	return fmt.Sprintf("%v[%d:%d]", s.Dev, s.Start, s.End())
}
