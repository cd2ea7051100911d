// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textui implements utilities for emitting human-friendly
// text on stdout and stderr.
package textui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// Fprintf is like `fmt.Fprintf`, but (1) includes the extensions of
// `golang.org/x/text/message.Printer`, and (2) is useful for marking
// when a print call is part of the UI, rather than something
// internal.
func Fprintf(w io.Writer, key string, a ...any) (n int, err error) {
	return printer.Fprintf(w, key, a...)
}

// Sprintf is like `fmt.Sprintf`, but (1) includes the extensions of
// `golang.org/x/text/message.Printer`, and (2) is useful for marking
// when a sprint call is part of the UI, rather than something
// internal.
func Sprintf(key string, a ...any) string {
	return printer.Sprintf(key, a...)
}

////////////////////////////////////////////////////////////////////////////////

// Humanized wraps a value such that formatting of it can make use of
// the `golang.org/x/text/message.Printer` extensions even when used
// with plain-old `fmt`.
func Humanized(x any) any {
	return humanized{val: x}
}

type humanized struct {
	val any
}

var (
	_ fmt.Formatter = humanized{}
	_ fmt.Stringer  = humanized{}
)

// Format implements fmt.Formatter.
func (h humanized) Format(f fmt.State, verb rune) {
	_, _ = printer.Fprintf(f, fmtStateString(f, verb), h.val)
}

// String implements fmt.Stringer.
func (h humanized) String() string {
	return fmt.Sprint(h)
}

// fmtStateString returns the fmt.Printf string that produced a given
// fmt.State and verb.
func fmtStateString(st fmt.State, verb rune) string {
	var ret strings.Builder
	ret.WriteByte('%')
	for _, flag := range []int{'-', '+', '#', ' ', '0'} {
		if st.Flag(flag) {
			ret.WriteByte(byte(flag))
		}
	}
	if width, ok := st.Width(); ok {
		fmt.Fprintf(&ret, "%v", width)
	}
	if prec, ok := st.Precision(); ok {
		if prec == 0 {
			ret.WriteByte('.')
		} else {
			fmt.Fprintf(&ret, ".%v", prec)
		}
	}
	ret.WriteRune(verb)
	return ret.String()
}

////////////////////////////////////////////////////////////////////////////////

type iec struct {
	Val  float64
	Unit string
}

var (
	_ fmt.Formatter = iec{}
	_ fmt.Stringer  = iec{}
)

// IEC wraps a quantity such that it formats with a binary prefix on
// the given unit; `fmt.Sprint(IEC(2048, "B"))` ⇒ "2.0 KiB".
func IEC[T constraints.Integer | constraints.Float](x T, unit string) iec {
	return iec{
		Val:  float64(x),
		Unit: unit,
	}
}

var iecPrefixes = []string{
	"Ki",
	"Mi",
	"Gi",
	"Ti",
	"Pi",
	"Ei",
	"Zi",
	"Yi",
}

// Format implements fmt.Formatter.
func (v iec) Format(f fmt.State, verb rune) {
	val := v.Val
	neg := val < 0
	if neg {
		val = -val
	}
	var prefix string
	for i := 0; val >= 1024 && i < len(iecPrefixes); i++ {
		val /= 1024
		prefix = iecPrefixes[i]
	}
	if neg {
		val = -val
	}
	suffix := " " + prefix + v.Unit

	var options []number.Option
	width, hasWidth := f.Width()
	if hasWidth {
		options = append(options, number.FormatWidth(width-utf8.RuneCountInString(suffix)))
	}
	if prec, ok := f.Precision(); ok {
		options = append(options, number.Precision(prec))
	} else {
		options = append(options, number.MinFractionDigits(1), number.MaxFractionDigits(1))
	}
	var format string
	if hasWidth {
		format = fmtStateString(widthlessState{f}, verb)
	} else {
		format = fmtStateString(f, verb)
	}
	_, _ = printer.Fprintf(f, format+"%s",
		number.Decimal(val, options...), suffix)
}

// String implements fmt.Stringer.
func (v iec) String() string {
	return fmt.Sprintf("%v", v)
}

// widthlessState hides the width of a fmt.State, for when the width
// has already been consumed by number formatting options.
type widthlessState struct {
	fmt.State
}

func (s widthlessState) Width() (int, bool) { return 0, false }
