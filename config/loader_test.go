package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Connection(t *testing.T) {
	t.Setenv("FLUXCTL_HOST", "flux.local:8000")
	t.Setenv("FLUXCTL_DEVICE", testDevice)
	t.Setenv("FLUXCTL_CLIENT_KEY", "/etc/fluxctl/client.pem")
	t.Setenv("FLUXCTL_DIAL_ATTEMPTS", "5")

	cfg := &Config{}
	LoadFromEnv(cfg)

	if cfg.Host != "flux.local:8000" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.DeviceID != testDevice {
		t.Errorf("DeviceID = %q", cfg.DeviceID)
	}
	if cfg.ClientKeyPath != "/etc/fluxctl/client.pem" {
		t.Errorf("ClientKeyPath = %q", cfg.ClientKeyPath)
	}
	if cfg.DialAttempts != 5 {
		t.Errorf("DialAttempts = %d", cfg.DialAttempts)
	}
}

func TestLoadFromEnv_Durations(t *testing.T) {
	t.Setenv("FLUXCTL_TIMEOUT", "10")
	t.Setenv("FLUXCTL_COMMAND_TIMEOUT", "120")
	t.Setenv("FLUXCTL_KEEPALIVE", "0")

	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.CommandTimeout != 2*time.Minute {
		t.Errorf("CommandTimeout = %v, want 2m", cfg.CommandTimeout)
	}
	if cfg.KeepAlive != 0 {
		t.Errorf("KeepAlive = %v, want 0 (disabled)", cfg.KeepAlive)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "TRUE", "Yes"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("FLUXCTL_STRICT", v)
			cfg := &Config{}
			LoadFromEnv(cfg)
			if !cfg.StrictFrames {
				t.Error("StrictFrames should be true")
			}
		})
	}
}

func TestLoadFromEnv_Session(t *testing.T) {
	t.Setenv("FLUXCTL_OUTPUT", "/tmp/out")
	t.Setenv("FLUXCTL_RECORD", "/tmp/session.cbor")

	cfg := &Config{}
	LoadFromEnv(cfg)
	if cfg.OutputDir != "/tmp/out" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.RecordPath != "/tmp/session.cbor" {
		t.Errorf("RecordPath = %q", cfg.RecordPath)
	}
}

func TestLoadFromEnv_SSHFields(t *testing.T) {
	t.Setenv("FLUXCTL_TUNNEL", "admin@bastion:2222")
	t.Setenv("FLUXCTL_SSH_KEY", "/home/user/.ssh/id_rsa")
	t.Setenv("FLUXCTL_SSH_PASSWORD", "true")
	t.Setenv("FLUXCTL_SSH_AGENT", "1")
	t.Setenv("FLUXCTL_STRICT_HOSTKEY", "yes")
	t.Setenv("FLUXCTL_KNOWN_HOSTS", "/custom/known_hosts")

	cfg := &Config{}
	LoadFromEnv(cfg)

	if cfg.TunnelSpec != "admin@bastion:2222" {
		t.Errorf("TunnelSpec = %q", cfg.TunnelSpec)
	}
	if cfg.SSHKeyPath != "/home/user/.ssh/id_rsa" {
		t.Errorf("SSHKeyPath = %q", cfg.SSHKeyPath)
	}
	if !cfg.SSHPassword {
		t.Error("SSHPassword should be true")
	}
	if !cfg.UseSSHAgent {
		t.Error("UseSSHAgent should be true")
	}
	if !cfg.StrictHostKey {
		t.Error("StrictHostKey should be true")
	}
	if cfg.KnownHostsPath != "/custom/known_hosts" {
		t.Errorf("KnownHostsPath = %q", cfg.KnownHostsPath)
	}
}

func TestLoadFromEnv_NoOverrideWhenEmpty(t *testing.T) {
	t.Setenv("FLUXCTL_HOST", "")
	t.Setenv("FLUXCTL_DIAL_ATTEMPTS", "")

	cfg := &Config{Host: "original", DialAttempts: 7}
	LoadFromEnv(cfg)

	if cfg.Host != "original" {
		t.Errorf("Host was overridden: %q", cfg.Host)
	}
	if cfg.DialAttempts != 7 {
		t.Errorf("DialAttempts was overridden: %d", cfg.DialAttempts)
	}
}

func TestLoadFromEnv_InvalidIntIgnored(t *testing.T) {
	t.Setenv("FLUXCTL_DIAL_ATTEMPTS", "not-a-number")
	t.Setenv("FLUXCTL_KEEPALIVE", "-5")
	cfg := &Config{DialAttempts: 3, KeepAlive: time.Second}
	LoadFromEnv(cfg)
	if cfg.DialAttempts != 3 {
		t.Errorf("DialAttempts should be unchanged for invalid input, got %d", cfg.DialAttempts)
	}
	if cfg.KeepAlive != time.Second {
		t.Errorf("KeepAlive should be unchanged for negative input, got %v", cfg.KeepAlive)
	}
}

func TestLoadFromEnv_Verbose(t *testing.T) {
	t.Setenv("FLUXCTL_VERBOSE", "3")
	cfg := &Config{}
	LoadFromEnv(cfg)
	if cfg.Verbose != 3 {
		t.Errorf("Verbose = %d, want 3", cfg.Verbose)
	}
}
