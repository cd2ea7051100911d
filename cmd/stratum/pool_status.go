// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"text/tabwriter"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/datatier"
	"github.com/stratum-ng/stratum/lib/textui"
)

func init() {
	poolCommands = append(poolCommands, poolSubcommand{
		Command: cobra.Command{
			Use:   "status",
			Short: "Show the pool's devices and space usage",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(tier *datatier.DataTier, _ *cobra.Command, _ []string) error {
			textui.Fprintf(os.Stdout, "pool %v\n", tierPool(tier))
			textui.Fprintf(os.Stdout, "  capacity:  %v\n", textui.IEC(tier.CurrentCapacity().Bytes(), "B"))
			textui.Fprintf(os.Stdout, "  metadata:  %v\n", textui.IEC(tier.MetadataSize().Bytes(), "B"))
			textui.Fprintf(os.Stdout, "  allocated: %v\n", textui.IEC(tier.AllocatedCapacity().Bytes(), "B"))
			textui.Fprintf(os.Stdout, "  available: %v\n", textui.IEC(tier.BlockMgr.AvailSpace().Bytes(), "B"))

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			textui.Fprintf(w, "\tUUID\tDEVNODE\tSIZE\tFREE\n")
			for _, bd := range tier.BlockMgr.BlockDevs() {
				textui.Fprintf(w, "\t%v\t%v\t%v\t%v\n",
					bd.UUID(), bd.Devnode(),
					textui.IEC(bd.Size().Bytes(), "B"),
					textui.IEC(bd.Available().Bytes(), "B"))
			}
			return w.Flush()
		},
	})
}
