// Package conn manages live sessions to network devices over SSH or
// Telnet, optionally tunnelled through a jumphost. One session per device;
// reconnect replaces. Failures are explicit errors; there is no mock
// fallback and no silent success.
package conn

import (
	"time"

	"github.com/netman-network/netman/pkg/inventory"
)

// Session is a live interactive session with a device.
type Session interface {
	// Send writes a command and returns the raw output up to the next
	// device prompt. It blocks until output is complete or readTimeout
	// elapses, in which case it fails with a transport error.
	Send(command string, readTimeout time.Duration) (string, error)

	// Platform reports the driver in effect (never auto; resolved at
	// connect time and cached for the session's lifetime).
	Platform() inventory.Platform

	// Close terminates the session. Safe to call more than once.
	Close() error
}

// Dialer establishes a Session to a device. The production dialer speaks
// SSH/Telnet; tests substitute fakes.
type Dialer interface {
	Dial(device *inventory.Device, password string, connectTimeout time.Duration) (Session, error)
}
