// Package relayerr defines the relay's error taxonomy and the
// recovery policy attached to each kind.
package relayerr

import "errors"

// Sentinel errors, wrapped with context via fmt.Errorf("...: %w", Err...).
var (
	// ErrSerialIO covers read/write failures on the Gateway's serial port.
	ErrSerialIO = errors.New("serial i/o error")

	// ErrSocketIO covers TCP read/write failures on any of the rover,
	// upstream, or Gateway-to-Caster connections.
	ErrSocketIO = errors.New("socket i/o error")

	// ErrProtocolParse covers recoverable line/frame-header parse
	// failures: chunk-size lines, GGA sentences, sourcetable lines.
	ErrProtocolParse = errors.New("protocol parse error")

	// ErrCRCMismatch marks an RTCM3 frame whose CRC-24/LTE-A did not
	// match; the offending bytes are discarded and framing continues.
	ErrCRCMismatch = errors.New("rtcm crc mismatch")

	// ErrDirectoryUnavailable marks a fatal failure to fetch the
	// reference-station sourcetable (non-2xx, timeout, or unreadable
	// body).
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrUpstreamAuthFailed marks a rejected NTRIP v2 Basic-auth
	// handshake with the remote caster.
	ErrUpstreamAuthFailed = errors.New("upstream auth failed")

	// ErrStopped is a clean, silent exit path requested by the caller.
	ErrStopped = errors.New("stopped")
)

// Recoverable reports whether err should be handled locally (discard
// and continue) rather than tearing down the owning session/activity.
func Recoverable(err error) bool {
	return errors.Is(err, ErrCRCMismatch) || errors.Is(err, ErrProtocolParse)
}
