// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package blockdevmgr

import (
	"fmt"

	"github.com/stratum-ng/stratum/lib/slices"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// BlkDevSegment tags a segment with the owning device's UUID rather
// than its live OS identity, so that segment lists survive device
// renumbering across restarts.
type BlkDevSegment struct {
	UUID    stratumprim.DevUUID
	Segment stratumdev.Segment
}

var _ fmt.Stringer = BlkDevSegment{}

func (s BlkDevSegment) String() string {
	return fmt.Sprintf("%v@%v", s.Segment, s.UUID)
}

func compareSegments(a, b BlkDevSegment) int {
	if d := a.UUID.Compare(b.UUID); d != 0 {
		return d
	}
	switch {
	case a.Segment.Start < b.Segment.Start:
		return -1
	case a.Segment.Start > b.Segment.Start:
		return 1
	default:
		return 0
	}
}

// CoalesceSegments merges two segment lists into the minimal-length
// list covering the same sectors.  Two segments merge iff they are on
// the same device and the end of one is the start of the other; merging
// runs to fixpoint in a single pass over the sorted input.  The output
// is sorted by (device UUID, start), so it is deterministic for a given
// allocation history, and the operation is idempotent.
//
// Inputs must be non-overlapping, both within and between the lists.
func CoalesceSegments(existing, added []BlkDevSegment) []BlkDevSegment {
	all := make([]BlkDevSegment, 0, len(existing)+len(added))
	all = append(all, existing...)
	all = append(all, added...)
	slices.SortFunc(all, compareSegments)

	ret := make([]BlkDevSegment, 0, len(all))
	for _, seg := range all {
		if n := len(ret); n > 0 &&
			ret[n-1].UUID == seg.UUID &&
			ret[n-1].Segment.End() == seg.Segment.Start {
			ret[n-1].Segment.Length += seg.Segment.Length
			continue
		}
		ret = append(ret, seg)
	}
	return ret
}
