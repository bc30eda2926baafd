package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the FLUXCTL_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations are whole
// seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FLUXCTL_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("FLUXCTL_DEVICE"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("FLUXCTL_CLIENT_KEY"); v != "" {
		cfg.ClientKeyPath = v
	}
	if v := envInt("FLUXCTL_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := envInt("FLUXCTL_COMMAND_TIMEOUT"); v > 0 {
		cfg.CommandTimeout = secondsDuration(v)
	}
	if v := envInt("FLUXCTL_DIAL_ATTEMPTS"); v > 0 {
		cfg.DialAttempts = v
	}
	if v, ok := os.LookupEnv("FLUXCTL_KEEPALIVE"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.KeepAlive = secondsDuration(n)
		}
	}

	// Session
	if v := os.Getenv("FLUXCTL_OUTPUT"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("FLUXCTL_RECORD"); v != "" {
		cfg.RecordPath = v
	}
	if envBool("FLUXCTL_STRICT") {
		cfg.StrictFrames = true
	}

	// SSH tunnel
	if v := os.Getenv("FLUXCTL_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("FLUXCTL_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("FLUXCTL_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("FLUXCTL_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("FLUXCTL_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("FLUXCTL_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("FLUXCTL_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
