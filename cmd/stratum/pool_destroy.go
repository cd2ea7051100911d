// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/datatier"
)

func init() {
	poolCommands = append(poolCommands, poolSubcommand{
		Command: cobra.Command{
			Use:   "destroy",
			Short: "Destroy the pool, erasing its metadata from every device",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(tier *datatier.DataTier, cmd *cobra.Command, _ []string) error {
			return tier.Destroy(cmd.Context())
		},
	})
}
