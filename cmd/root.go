// Package cmd wires up the CLI and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"fluxctl/internal/transcript"
)

// version is overridable at link time:
//
//	go build -ldflags "-X fluxctl/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected command.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var verbose int
	root := &cobra.Command{
		Use:   "fluxctl",
		Short: "Remote control client for networked fabrication devices",
		Long: `fluxctl opens a device's control socket through its device manager,
authenticates with a client key and runs commands: given on the command
line as a script, or typed into an interactive shell.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("fluxctl {{.Version}}\n")
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")

	root.AddCommand(
		newControlCmd(&verbose),
		newTranscriptCmd(),
		newVersionCmd(),
	)
	return root
}

func newTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <file>",
		Short: "Print a recorded session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open transcript")
			}
			defer f.Close()
			return transcript.Dump(cmd.OutOrStdout(), f)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fluxctl %s\n", version)
		},
	}
}
