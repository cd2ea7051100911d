// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package stratumprim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
)

func TestUUIDRoundTrip(t *testing.T) {
	t.Parallel()
	const str = "5ca23b1b-b71e-40dd-a285-27c0bcc430b3"

	pool := stratumprim.MustParsePoolUUID(str)
	assert.Equal(t, str, pool.String())
	text, err := pool.MarshalText()
	require.NoError(t, err)
	var pool2 stratumprim.PoolUUID
	require.NoError(t, pool2.UnmarshalText(text))
	assert.Equal(t, pool, pool2)

	dev := stratumprim.MustParseDevUUID(str)
	assert.Equal(t, str, dev.String())
}

func TestUUIDParseErrors(t *testing.T) {
	t.Parallel()
	_, err := stratumprim.ParsePoolUUID("not-a-uuid")
	assert.Error(t, err)
	_, err = stratumprim.ParseDevUUID("")
	assert.Error(t, err)
}

func TestUUIDZero(t *testing.T) {
	t.Parallel()
	assert.True(t, stratumprim.PoolUUID{}.IsZero())
	assert.True(t, stratumprim.DevUUID{}.IsZero())
	assert.False(t, stratumprim.NewPoolUUID().IsZero())
	assert.False(t, stratumprim.NewDevUUID().IsZero())
}

func TestUUIDCompare(t *testing.T) {
	t.Parallel()
	lo := stratumprim.MustParseDevUUID("00000000-0000-0000-0000-000000000001")
	hi := stratumprim.MustParseDevUUID("ffffffff-0000-0000-0000-000000000000")
	assert.Negative(t, lo.Compare(hi))
	assert.Positive(t, hi.Compare(lo))
	assert.Zero(t, lo.Compare(lo))
}
