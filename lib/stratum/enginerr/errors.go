// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package enginerr classifies the errors returned by the
// storage-management layer, so that callers can branch on what went
// wrong without parsing message strings.
//
// Insufficient space for an allocation is not an error at all (it is an
// ordinary negative result), and internal bookkeeping inconsistencies
// are panics rather than errors; neither has a Kind here.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind says which class of failure an error is.
type Kind int8

const (
	// KindNotFound: a referenced device or UUID is absent.
	KindNotFound Kind = iota + 1
	// KindInvalidInput: a device or parameter failed validation
	// before anything was written.
	KindInvalidInput
	// KindIO: an open/read/write on a device failed.
	KindIO
	// KindUsage: the caller broke an API contract (non-monotonic
	// save timestamp, oversize metadata payload).  A programming
	// error, not an operational condition.
	KindUsage
)

var _ fmt.Stringer = Kind(0)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidInput:
		return "invalid input"
	case KindIO:
		return "I/O failure"
	case KindUsage:
		return "usage error"
	default:
		return fmt.Sprintf("Kind(%d)", int8(k))
	}
}

// Error is an error with a Kind attached.  The zero Kind is never
// produced by this package.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Errorf(kind Kind, format string, a ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}

// Wrap attaches a Kind and a message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Wrapf(kind Kind, err error, format string, a ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...), Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or 0
// if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
