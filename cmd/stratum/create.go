// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/blockdevmgr"
	"github.com/stratum-ng/stratum/lib/stratum/datatier"
	"github.com/stratum-ng/stratum/lib/stratum/stratumprim"
	"github.com/stratum-ng/stratum/lib/textui"
)

func init() {
	mdaSizeFlag := sizeFlag{
		Val: stratumprim.MinMDASectors.Bytes(),
	}
	var forceFlag bool

	cmd := rawSubcommand{
		Command: cobra.Command{
			Use:   "create [flags] DEVICE...",
			Short: "Create a new pool on the given devices",
			Args:  cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool := stratumprim.NewPoolUUID()
			mgr, err := blockdevmgr.Initialize(ctx, flags.resolver(), pool, args,
				mdaSizeFlag.Val.Sectors(), forceFlag)
			if err != nil {
				return err
			}
			tier := datatier.New(mgr)
			defer func() {
				for _, bd := range mgr.BlockDevs() {
					_ = bd.Close()
				}
			}()
			if err := savePool(ctx, pool, tier); err != nil {
				return err
			}
			textui.Fprintf(os.Stdout, "pool %v\n", pool)
			for _, bd := range mgr.BlockDevs() {
				textui.Fprintf(os.Stdout, "  %v  %v  %v\n",
					bd.UUID(), bd.Devnode(), textui.IEC(bd.Size().Bytes(), "B"))
			}
			return nil
		},
	}
	cmd.Command.Flags().Var(&mdaSizeFlag, "mda-size", "reserve `size` per device for pool metadata")
	cmd.Command.Flags().BoolVar(&forceFlag, "force", false, "claim devices that appear to belong to another application")
	rawCommands = append(rawCommands, cmd)
}
