// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package enginerr

import (
	"fmt"

	"github.com/datawire/dlib/derror"
)

// CleanupError reports a failure whose best-effort rollback also
// partially failed.  Cause is the original failure; Cleanup holds one
// error per device whose just-written metadata could not be erased
// again, leaving that device in an ambiguous, possibly-owned state that
// may need manual intervention.
type CleanupError struct {
	Cause   error
	Cleanup derror.MultiError
}

var _ error = (*CleanupError)(nil)

func (e *CleanupError) Error() string {
	if len(e.Cleanup) == 0 {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%v; cleanup also failed, leaving devices in an ambiguous state: %v",
		e.Cause, error(e.Cleanup))
}

func (e *CleanupError) Unwrap() error { return e.Cause }
