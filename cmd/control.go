package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"fluxctl/config"
	"fluxctl/internal/core"
	"fluxctl/util"
)

func newControlCmd(verbose *int) *cobra.Command {
	// Env vars seed the flag defaults so that flags win.
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	cmd := &cobra.Command{
		Use:   "control <host[:port]> <device-id> [command ...]",
		Short: "Connect to a device and run commands",
		Long: `Connect to the control socket of <device-id> through the device manager
at <host>.  Commands given after the device id run in order as a script;
without them an interactive shell reads commands from stdin.

A command of the form "cmd < file" uploads file once the device asks
for it; {size} in cmd is replaced with the file's size.`,
		Example: `  fluxctl control 192.168.1.5:8000 6a8f2b3c4d5e4f60a1b2c3d4e5f60718 -k client.key
  fluxctl control flux.local $DEVICE "play info" "upload text/gcode {size} < job.gcode"
  fluxctl control -T admin@bastion 10.0.0.7:8000 $DEVICE --record session.cbor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *verbose > 0 {
				cfg.Verbose = *verbose
			}
			applyPositional(cfg, args)
			if err := cfg.ApplyTunnelSpec(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := util.NewLogger(cfg.Verbose)
			mode, err := core.Build(cfg, logger)
			if err != nil {
				return err
			}
			if cfg.DryRun {
				if cm, ok := mode.(*core.ControlMode); ok {
					fmt.Fprint(cmd.OutOrStdout(), cm.Plan())
				}
				return nil
			}
			return errors.Wrap(mode.Run(cmd.Context()), "control")
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(dashedFlags)

	// ── connection ───────────────────────────────────────────────
	fs.StringVarP(&cfg.ClientKeyPath, "key", "k", cfg.ClientKeyPath, "Client key file")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Dial and connect timeout")
	fs.IntVar(&cfg.DialAttempts, "dial-attempts", cfg.DialAttempts, "Websocket dial attempts")

	// ── session ──────────────────────────────────────────────────
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", cfg.CommandTimeout, "Per-command wait (0 waits forever)")
	fs.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "Shell idle ping interval (0 disables)")
	fs.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Directory for downloaded binaries")
	fs.StringVar(&cfg.RecordPath, "record", cfg.RecordPath, "Record frames to a CBOR transcript")
	fs.BoolVar(&cfg.StrictFrames, "strict", cfg.StrictFrames, "Check inbound frames against known shapes")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate and print the plan without connecting")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	return cmd
}

// dashedFlags accepts --ssh_key for --ssh-key.
func dashedFlags(_ *flag.FlagSet, name string) flag.NormalizedName {
	return flag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// applyPositional fills host, device and commands from args.  Host and
// device may also come from the environment, so missing ones are left
// for Validate to report.
func applyPositional(cfg *config.Config, args []string) {
	if len(args) > 0 {
		cfg.Host = args[0]
	}
	if len(args) > 1 {
		cfg.DeviceID = args[1]
	}
	if len(args) > 2 {
		cfg.Commands = args[2:]
	}
}
