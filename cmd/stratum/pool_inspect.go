// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/datatier"
)

func init() {
	var spewFlag bool

	cmd := poolSubcommand{
		Command: cobra.Command{
			Use:   "inspect",
			Short: "Dump the pool-level state as stored in the metadata areas",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(tier *datatier.DataTier, _ *cobra.Command, _ []string) error {
			save := poolSave{
				Pool:     tierPool(tier),
				Devices:  tier.BlockMgr.Record(),
				Segments: tier.RecordSegments(),
			}
			if spewFlag {
				spew := spew.NewDefaultConfig()
				spew.DisablePointerAddresses = true
				spew.Dump(save)
				return nil
			}
			return writeJSON(os.Stdout, save, lowmemjson.ReEncoderConfig{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		},
	}
	cmd.Command.Flags().BoolVar(&spewFlag, "spew", false, "dump the in-memory representation instead of JSON")
	poolCommands = append(poolCommands, cmd)
}
