// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"bytes"
	"io"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/spf13/pflag"

	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

// sizeFlag is a pflag.Value accepting byte quantities with IEC binary
// suffixes, "512MiB" and the like.
type sizeFlag struct {
	Val stratumprim.Bytes
}

var _ pflag.Value = (*sizeFlag)(nil)

// Type implements pflag.Value.
func (f *sizeFlag) Type() string { return "size" }

// Set implements pflag.Value.
func (f *sizeFlag) Set(str string) error {
	val, err := stratumprim.ParseBytes(str)
	if err != nil {
		return err
	}
	f.Val = val
	return nil
}

// String implements pflag.Value.
func (f *sizeFlag) String() string { return f.Val.String() }

func encodeJSON(obj any) ([]byte, error) {
	var buf bytes.Buffer
	if err := lowmemjson.NewEncoder(&buf).Encode(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJSON[T any](data []byte) (T, error) {
	var ret T
	if err := lowmemjson.NewDecoder(bytes.NewReader(data)).DecodeThenEOF(&ret); err != nil {
		var zero T
		return zero, err
	}
	return ret, nil
}

func writeJSON(w io.Writer, obj any, cfg lowmemjson.ReEncoderConfig) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	return lowmemjson.NewEncoder(lowmemjson.NewReEncoder(buffer, cfg)).Encode(obj)
}
