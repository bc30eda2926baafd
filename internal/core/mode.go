// Package core is the orchestration layer.  It composes a transport, a
// control session and a capability into a runnable mode and provides a
// builder that assembles that mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  capability  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of fluxctl.  It owns its full
// lifecycle from dialing the device to closing the socket.
type Mode interface {
	Run(ctx context.Context) error
}
