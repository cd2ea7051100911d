// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumprim

// Admission policy for devices joining a pool.
const (
	// MinDevSize is the smallest device the engine will admit to a
	// pool.
	MinDevSize = 1 * GiB

	// MinMDASectors and MaxMDASectors bound the per-device reserved
	// metadata area (excluding the static header).  The minimum
	// leaves the whole reserved region at exactly 1 MiB.
	MinMDASectors Sectors = 2032
	MaxMDASectors Sectors = 262144
)
