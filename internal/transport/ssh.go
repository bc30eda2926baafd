package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"fluxctl/tunnel"
	"fluxctl/util"
)

// SSHDialer routes connections through an SSH jump host.  The tunnel is
// connected lazily on the first Dial, re-established if the gateway
// dropped between dials, and torn down on Close.
type SSHDialer struct {
	tunnel tunnel.Tunnel
	gw     string
	logger *util.Logger
	mu     sync.Mutex
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  The tunnel is not connected until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	t := tunnel.NewSSHTunnel(cfg, logger)
	return &SSHDialer{tunnel: t, gw: t.String(), logger: logger}
}

// connect establishes the SSH tunnel unless it is already up.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel.IsAlive() {
		return nil
	}
	d.logger.Verbose("establishing SSH tunnel via %s", d.gw)
	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	d.logger.Verbose("SSH tunnel established")
	return nil
}

// Dial connects to address through the SSH tunnel.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnel.Close()
}

// String names the gateway for plan and log output.
func (d *SSHDialer) String() string { return "ssh via " + d.gw }
