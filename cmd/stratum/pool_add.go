// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/datatier"
	"github.com/stratum-ng/stratum/lib/textui"
)

func init() {
	var forceFlag bool

	cmd := poolSubcommand{
		Command: cobra.Command{
			Use:   "add [flags] DEVICE...",
			Short: "Add devices to the pool",
			Args:  cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		},
		RunE: func(tier *datatier.DataTier, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool := tierPool(tier)
			uuids, err := tier.Add(ctx, pool, args, forceFlag)
			if err != nil {
				return err
			}
			if err := savePool(ctx, pool, tier); err != nil {
				return err
			}
			for _, uuid := range uuids {
				textui.Fprintf(os.Stdout, "%v\n", uuid)
			}
			return nil
		},
	}
	cmd.Command.Flags().BoolVar(&forceFlag, "force", false, "claim devices that appear to belong to another application")
	poolCommands = append(poolCommands, cmd)
}
