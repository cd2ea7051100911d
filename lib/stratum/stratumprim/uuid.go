// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumprim

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/google/uuid"
)

// PoolUUID identifies a pool.  It is written to every member device's
// metadata header, and is how a device names the pool that owns it.
type PoolUUID uuid.UUID

// DevUUID identifies a device within a pool.  Unlike the device's
// OS-level identity (stratumdev.DeviceNumber), it survives renumbering
// and path changes across reboots.
type DevUUID uuid.UUID

var (
	_ fmt.Stringer             = PoolUUID{}
	_ encoding.TextMarshaler   = PoolUUID{}
	_ encoding.TextUnmarshaler = (*PoolUUID)(nil)
	_ fmt.Stringer             = DevUUID{}
	_ encoding.TextMarshaler   = DevUUID{}
	_ encoding.TextUnmarshaler = (*DevUUID)(nil)
)

func NewPoolUUID() PoolUUID { return PoolUUID(uuid.New()) }
func NewDevUUID() DevUUID   { return DevUUID(uuid.New()) }

func (u PoolUUID) String() string { return uuid.UUID(u).String() }
func (u DevUUID) String() string  { return uuid.UUID(u).String() }

func (u PoolUUID) IsZero() bool { return u == PoolUUID{} }
func (u DevUUID) IsZero() bool  { return u == DevUUID{} }

func (a PoolUUID) Compare(b PoolUUID) int { return bytes.Compare(a[:], b[:]) }
func (a DevUUID) Compare(b DevUUID) int   { return bytes.Compare(a[:], b[:]) }

func (u PoolUUID) MarshalText() ([]byte, error) { return []byte(u.String()), nil }
func (u DevUUID) MarshalText() ([]byte, error)  { return []byte(u.String()), nil }

func (u *PoolUUID) UnmarshalText(text []byte) error {
	parsed, err := ParsePoolUUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func (u *DevUUID) UnmarshalText(text []byte) error {
	parsed, err := ParseDevUUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func ParsePoolUUID(str string) (PoolUUID, error) {
	parsed, err := uuid.Parse(str)
	if err != nil {
		return PoolUUID{}, fmt.Errorf("pool UUID: %w", err)
	}
	return PoolUUID(parsed), nil
}

func ParseDevUUID(str string) (DevUUID, error) {
	parsed, err := uuid.Parse(str)
	if err != nil {
		return DevUUID{}, fmt.Errorf("device UUID: %w", err)
	}
	return DevUUID(parsed), nil
}

func MustParsePoolUUID(str string) PoolUUID {
	ret, err := ParsePoolUUID(str)
	if err != nil {
		panic(err)
	}
	return ret
}

func MustParseDevUUID(str string) DevUUID {
	ret, err := ParseDevUUID(str)
	if err != nil {
		panic(err)
	}
	return ret
}
