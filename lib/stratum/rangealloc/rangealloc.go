// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rangealloc tracks the used and free extents within a single
// device and services allocation requests against the free extents,
// first-fit in ascending sector order.
package rangealloc

import (
	"fmt"
	"sort"

	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// Range is a contiguous extent of sectors within one device.
type Range struct {
	Start  stratumprim.Sectors
	Length stratumprim.Sectors
}

var _ fmt.Stringer = Range{}

// End is the first sector past the range.
func (r Range) End() stratumprim.Sectors { return r.Start + r.Length }

func (r Range) String() string {
	return fmt.Sprintf("[%d:%d]", r.Start, r.End())
}

// RangeAllocator tracks which sectors of a device are used.  The used
// list is kept sorted by start and coalesced, so adjacent used ranges
// never appear as two entries.
type RangeAllocator struct {
	limit stratumprim.Sectors
	used  []Range
}

// New returns an allocator over sectors [0, limit), with the given
// ranges (typically the reserved metadata area) already marked used.
func New(limit stratumprim.Sectors, used []Range) (*RangeAllocator, error) {
	ra := &RangeAllocator{limit: limit}
	if err := ra.MarkUsed(used); err != nil {
		return nil, err
	}
	return ra, nil
}

// Limit is the total addressable size, in sectors.
func (ra *RangeAllocator) Limit() stratumprim.Sectors { return ra.limit }

// Used is the total of all used ranges.
func (ra *RangeAllocator) Used() stratumprim.Sectors {
	var total stratumprim.Sectors
	for _, r := range ra.used {
		total += r.Length
	}
	return total
}

// Available is the total free length.
func (ra *RangeAllocator) Available() stratumprim.Sectors {
	return ra.limit - ra.Used()
}

// MarkUsed records the given ranges as allocated.  It fails, without
// changing the allocator, if any range is empty, extends past the
// device, overlaps a range already marked used, or overlaps another
// range in the batch.
func (ra *RangeAllocator) MarkUsed(ranges []Range) error {
	for _, r := range ranges {
		if r.Length <= 0 {
			return enginerr.Errorf(enginerr.KindInvalidInput,
				"cannot mark empty range %v used", r)
		}
		if r.Start < 0 || r.End() > ra.limit {
			return enginerr.Errorf(enginerr.KindInvalidInput,
				"range %v extends past the device limit of %d sectors", r, ra.limit)
		}
		if overlap, ok := ra.findOverlap(r); ok {
			return enginerr.Errorf(enginerr.KindInvalidInput,
				"range %v overlaps already-used range %v", r, overlap)
		}
	}
	// The batch must also be self-consistent before anything is
	// inserted; a check during insertion would leave the earlier
	// ranges marked on failure.
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].End() > sorted[i].Start {
			return enginerr.Errorf(enginerr.KindInvalidInput,
				"ranges %v and %v in one batch overlap each other", sorted[i-1], sorted[i])
		}
	}
	for _, r := range ranges {
		ra.insert(r)
	}
	return nil
}

// Request allocates up to amount sectors from the free extents,
// first-fit in ascending order.  It returns the total granted (which is
// min(amount, Available())) and the concrete ranges realizing the
// grant.  A request never over-grants.
func (ra *RangeAllocator) Request(amount stratumprim.Sectors) (stratumprim.Sectors, []Range) {
	var granted stratumprim.Sectors
	var got []Range
	for _, gap := range ra.freeRanges() {
		if granted == amount {
			break
		}
		take := gap.Length
		if remaining := amount - granted; take > remaining {
			take = remaining
		}
		got = append(got, Range{Start: gap.Start, Length: take})
		granted += take
	}
	for _, r := range got {
		ra.insert(r)
	}
	return granted, got
}

// findOverlap returns the used range overlapping r, if any.
func (ra *RangeAllocator) findOverlap(r Range) (Range, bool) {
	// First used range ending past r's start.
	i := sort.Search(len(ra.used), func(i int) bool {
		return ra.used[i].End() > r.Start
	})
	if i < len(ra.used) && ra.used[i].Start < r.End() {
		return ra.used[i], true
	}
	return Range{}, false
}

// insert adds r to the used list, coalescing with neighbors.  The
// caller must have established that r does not overlap anything.
func (ra *RangeAllocator) insert(r Range) {
	i := sort.Search(len(ra.used), func(i int) bool {
		return ra.used[i].Start > r.Start
	})
	ra.used = append(ra.used, Range{})
	copy(ra.used[i+1:], ra.used[i:])
	ra.used[i] = r
	// Coalesce with the right neighbor, then the left.
	if i+1 < len(ra.used) && ra.used[i].End() == ra.used[i+1].Start {
		ra.used[i].Length += ra.used[i+1].Length
		ra.used = append(ra.used[:i+1], ra.used[i+2:]...)
	}
	if i > 0 && ra.used[i-1].End() == ra.used[i].Start {
		ra.used[i-1].Length += ra.used[i].Length
		ra.used = append(ra.used[:i], ra.used[i+1:]...)
	}
}

// freeRanges lists the gaps between used ranges, ascending.
func (ra *RangeAllocator) freeRanges() []Range {
	var free []Range
	var pos stratumprim.Sectors
	for _, r := range ra.used {
		if r.Start > pos {
			free = append(free, Range{Start: pos, Length: r.Start - pos})
		}
		pos = r.End()
	}
	if pos < ra.limit {
		free = append(free, Range{Start: pos, Length: ra.limit - pos})
	}
	return free
}
