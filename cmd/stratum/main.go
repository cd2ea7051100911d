// Copyright (C) 2026  The stratum-ng Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stratum-ng/stratum/lib/stratum/datatier"
	"github.com/stratum-ng/stratum/lib/stratum/stratumdev"
	"github.com/stratum-ng/stratum/lib/textui"
)

type rawSubcommand struct {
	cobra.Command
	RunE func(*cobra.Command, []string) error
}

type poolSubcommand struct {
	cobra.Command
	RunE func(*datatier.DataTier, *cobra.Command, []string) error
}

var (
	rawCommands  []rawSubcommand
	poolCommands []poolSubcommand
)

var flags = globalFlags{
	logLevel: textui.LogLevelFlag{
		Level: logrus.InfoLevel,
	},
}

type globalFlags struct {
	logLevel    textui.LogLevelFlag
	fileDevices bool
}

func (f *globalFlags) resolver() stratumdev.Resolver {
	if f.fileDevices {
		return stratumdev.FileResolver{}
	}
	return stratumdev.SysResolver{}
}

// run wraps every leaf command with the logging and signal-handling
// boilerplate.
func (f *globalFlags) run(cmd *cobra.Command, inner func(ctx context.Context) error) error {
	logrusLogger := logrus.New()
	logrusLogger.SetLevel(f.logLevel.Level)
	logger := dlog.WrapLogrus(logrusLogger)
	ctx := dlog.WithLogger(cmd.Context(), logger)
	dlog.SetFallbackLogger(logger.WithField("stratum.THIS_IS_A_BUG", true))

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})
	grp.Go("main", func(ctx context.Context) error {
		return inner(ctx)
	})
	return grp.Wait()
}

func main() {
	var devsFlag []string

	argparser := &cobra.Command{
		Use:   "stratum {[flags]|SUBCOMMAND}",
		Short: "Manage the block devices backing storage pools",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&flags.logLevel, "verbosity", "set the verbosity")
	argparser.PersistentFlags().BoolVar(&flags.fileDevices, "file-devices", false,
		"accept regular files in place of block devices")

	argparserPool := &cobra.Command{
		Use:   "pool {[flags]|SUBCOMMAND}",
		Short: "Operate on an assembled pool",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,
	}
	argparserPool.PersistentFlags().StringArrayVar(&devsFlag, "dev", nil,
		"assemble the pool from the `device` (repeatable)")
	if err := argparserPool.MarkPersistentFlagFilename("dev"); err != nil {
		panic(err)
	}
	if err := argparserPool.MarkPersistentFlagRequired("dev"); err != nil {
		panic(err)
	}
	argparser.AddCommand(argparserPool)

	for _, child := range rawCommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context) error {
				cmd.SetContext(ctx)
				return runE(cmd, args)
			})
		}
		argparser.AddCommand(&cmd)
	}

	for _, child := range poolCommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context) error {
				tier, err := openPool(ctx, flags.resolver(), devsFlag)
				if err != nil {
					return err
				}
				defer func() {
					for _, bd := range tier.BlockMgr.BlockDevs() {
						_ = bd.Close()
					}
				}()
				cmd.SetContext(ctx)
				return runE(tier, cmd, args)
			})
		}
		argparserPool.AddCommand(&cmd)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
