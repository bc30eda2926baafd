package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds the TCP dial, the websocket handshake
	// and the SSH handshake.
	DefaultConnTimeout = 10 * time.Second

	// DefaultCommandTimeout is how long script mode waits for each
	// command's terminal response.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultDialAttempts is how many times the websocket dial is tried
	// before giving up.
	DefaultDialAttempts = 3

	// DefaultKeepAlive is the idle ping interval in shell mode.
	DefaultKeepAlive = 20 * time.Second

	// DefaultCloseGrace is how long a local close waits for the device
	// to acknowledge.
	DefaultCloseGrace = 2 * time.Second

	// DefaultOutputDir receives binaries downloaded in script mode.
	DefaultOutputDir = "."
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		Timeout:        DefaultConnTimeout,
		CommandTimeout: DefaultCommandTimeout,
		DialAttempts:   DefaultDialAttempts,
		KeepAlive:      DefaultKeepAlive,
		OutputDir:      DefaultOutputDir,
		TunnelPort:     DefaultSSHPort,
	}
}
