package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	noColor    bool
	stats      bool
}

// appRunE opens the app for the duration of one command.
type appRunE func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

func (o *rootOptions) withApp(fn appRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := openApp(ctx, o.configPath, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, a.close(context.WithoutCancel(ctx))) }()
		if err := fn(ctx, a, cmd, args); err != nil {
			return err
		}
		if o.stats {
			stats, err := a.telemetry.stats()
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), "yaml", map[string]any{"operations": stats})
		}
		return nil
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "metagraph",
		Short: "Inspect and maintain metagraph documents",
		Long: `metagraph works on the graph document held by the configured backend.

Configuration comes from metagraph.yaml in the working directory, the file
given with --config, and METAGRAPH_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./metagraph.yaml)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVar(&opts.stats, "stats", false, "print operation statistics after the command")

	root.AddCommand(
		newVersionCommand(),
		newNodesCommand(opts),
		newShowCommand(opts),
		newWalkCommand(opts),
		newValidateCommand(opts),
		newGCCommand(opts),
		newArchiveCommand(opts),
		newPluginsCommand(opts),
		newGroupCommand(opts),
		newAssetCommand(opts),
		newTagCommand(opts),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			headerColor.Fprint(w, "metagraph ")
			fmt.Fprintf(w, "%s (%s)\n", Version, runtime.Version())
		},
	}
}
