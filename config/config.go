// Package config defines the runtime configuration for fluxctl and
// provides helpers for device ids, credentials and tunnel specs.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
	"fluxctl/util"
)

// Config holds every tuneable for a single control session.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host          string // device manager host[:port]
	DeviceID      string
	ClientKeyPath string // file holding the client credential
	ClientKey     string // credential given inline (wins over the file)
	Timeout       time.Duration
	DialAttempts  int

	// ── Session ──────────────────────────────────────────────────────
	Commands       []string // script mode when non-empty
	CommandTimeout time.Duration
	KeepAlive      time.Duration // shell mode idle ping interval
	OutputDir      string
	RecordPath     string // CBOR transcript destination
	StrictFrames   bool

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// ControlURL returns the websocket endpoint for the configured device.
func (c *Config) ControlURL() string {
	return protocol.ControlURL(c.Host, c.DeviceID)
}

// Credential returns the client key sent when the socket opens.  An
// inline key wins over the key file; a trailing newline in the file is
// dropped.
func (c *Config) Credential() (string, error) {
	if c.ClientKey != "" {
		return c.ClientKey, nil
	}
	data, err := os.ReadFile(c.ClientKeyPath)
	if err != nil {
		return "", &ncerr.ConfigError{
			Field:   "key",
			Value:   c.ClientKeyPath,
			Message: err.Error(),
			Hint:    "the key file holds the client credential registered with the device",
		}
	}
	key := strings.TrimRight(string(data), "\r\n")
	if key == "" {
		return "", &ncerr.ConfigError{Field: "key", Value: c.ClientKeyPath, Message: "key file is empty"}
	}
	return key, nil
}

// ── Device ids ───────────────────────────────────────────────────────

// ValidateDeviceID reports whether id is a device UUID, in either the
// dashed or the bare 32-hex form.
func ValidateDeviceID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid device id %q: %w", id, err)
	}
	return nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the tunnel fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ncerr.ConfigError{
			Field:   "host",
			Message: "device manager host is required",
			Hint:    "fluxctl control <host[:port]> <device-id>",
		}
	}
	if strings.Contains(c.Host, "://") || strings.Contains(c.Host, "/") {
		return &ncerr.ConfigError{
			Field:   "host",
			Value:   c.Host,
			Message: "expected host[:port], not a URL",
			Hint:    "the control path is added automatically",
		}
	}
	if err := util.CheckHostPort(c.Host); err != nil {
		return &ncerr.ConfigError{Field: "host", Value: c.Host, Message: err.Error()}
	}

	if c.DeviceID == "" {
		return &ncerr.ConfigError{Field: "device", Message: "device id is required"}
	}
	if err := ValidateDeviceID(c.DeviceID); err != nil {
		return &ncerr.ConfigError{
			Field:   "device",
			Value:   c.DeviceID,
			Message: "not a UUID",
			Hint:    "device ids look like 6a8f2b3c4d5e4f60a1b2c3d4e5f60718",
		}
	}

	if c.ClientKey == "" && c.ClientKeyPath == "" {
		return &ncerr.ConfigError{
			Field:   "key",
			Message: "a client key is required",
			Hint:    "pass --key <file> or set FLUXCTL_CLIENT_KEY",
		}
	}

	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.CommandTimeout < 0 {
		return &ncerr.ConfigError{Field: "command-timeout", Value: c.CommandTimeout, Message: "must not be negative"}
	}
	if c.DialAttempts < 1 {
		return &ncerr.ConfigError{
			Field:   "dial-attempts",
			Value:   c.DialAttempts,
			Message: "must be at least 1",
		}
	}
	if c.KeepAlive < 0 {
		return &ncerr.ConfigError{Field: "keepalive", Value: c.KeepAlive, Message: "must not be negative", Hint: "use 0 to disable idle pings"}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	if c.StrictHostKey && !c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "strict-hostkey",
			Message: "only applies to SSH tunnels",
			Hint:    "add --tunnel user@gateway",
		}
	}

	return nil
}
