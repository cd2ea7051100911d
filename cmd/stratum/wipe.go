// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/bda"
)

func init() {
	rawCommands = append(rawCommands, rawSubcommand{
		Command: cobra.Command{
			Use:   "wipe DEVICE...",
			Short: "Erase pool metadata from devices without assembling the pool",
			Long: "Erase pool metadata from each named device individually.  " +
				"Unlike `pool destroy`, this does not require the pool to be assemblable, " +
				"so it works on devices left behind by a partially-created or damaged pool.",
			Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			resolver := flags.resolver()
			for _, devnode := range args {
				file, err := resolver.Open(devnode)
				if err != nil {
					return err
				}
				ownership, err := bda.DetermineOwnership(file)
				if err != nil {
					_ = file.Close()
					return err
				}
				if ownership.Kind == bda.OwnershipUnowned {
					dlog.Infof(ctx, "%q carries no metadata, nothing to wipe", devnode)
					_ = file.Close()
					continue
				}
				dlog.Infof(ctx, "wiping %q", devnode)
				if err := bda.Wipe(file); err != nil {
					_ = file.Close()
					return err
				}
				if err := file.Close(); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
