// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/datatier"
	"github.com/stratum-ng/stratum/lib/stratum/enginerr"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
	"github.com/stratum-ng/stratum/lib/textui"
)

func init() {
	poolCommands = append(poolCommands, poolSubcommand{
		Command: cobra.Command{
			Use:   "alloc SIZE",
			Short: "Allocate space from the pool's devices",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(tier *datatier.DataTier, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			size, err := stratumprim.ParseBytes(args[0])
			if err != nil {
				return enginerr.Wrap(enginerr.KindInvalidInput, err, "parsing SIZE")
			}
			if !tier.Alloc(size.Sectors()) {
				return enginerr.Errorf(enginerr.KindInvalidInput,
					"not enough free space for %v (%v available)",
					size, tier.BlockMgr.AvailSpace().Bytes())
			}
			if err := savePool(ctx, tierPool(tier), tier); err != nil {
				return err
			}
			for _, seg := range tier.Segments() {
				textui.Fprintf(os.Stdout, "%v\n", seg)
			}
			return nil
		},
	})
}
