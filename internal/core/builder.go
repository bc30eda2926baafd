package core

import (
	"github.com/pkg/errors"

	"fluxctl/config"
	"fluxctl/internal/capability"
	"fluxctl/internal/metrics"
	"fluxctl/internal/protocol"
	"fluxctl/internal/transport"
	"fluxctl/tunnel"
	"fluxctl/util"
)

// Build constructs the control Mode described by cfg.  cfg must
// already be validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	credential, err := cfg.Credential()
	if err != nil {
		return nil, err
	}

	var validator *protocol.Validator
	if cfg.StrictFrames {
		if validator, err = protocol.NewValidator(); err != nil {
			return nil, errors.Wrap(err, "frame schemas")
		}
	}

	return &ControlMode{
		Dialer:     buildDialer(cfg, logger),
		URL:        cfg.ControlURL(),
		Credential: credential,
		Capability: buildCapability(cfg, logger),
		Logger:     logger.WithField("device", shortDevice(cfg.DeviceID)),
		Metrics:    metrics.New(),
		Validator:  validator,
		Attempts:   cfg.DialAttempts,
		Timeout:    cfg.Timeout,
		CloseGrace: config.DefaultCloseGrace,
		RecordPath: cfg.RecordPath,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: cfg.Timeout}
}

// buildCapability runs the given commands as a script, or an
// interactive shell when there are none.
func buildCapability(cfg *config.Config, logger *util.Logger) capability.Capability {
	if len(cfg.Commands) > 0 {
		return &capability.Script{
			Commands:       cfg.Commands,
			CommandTimeout: cfg.CommandTimeout,
			OutputDir:      cfg.OutputDir,
			Logger:         logger,
		}
	}
	return &capability.Shell{
		KeepAlive:      cfg.KeepAlive,
		CommandTimeout: cfg.CommandTimeout,
		Logger:         logger,
	}
}

func shortDevice(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
