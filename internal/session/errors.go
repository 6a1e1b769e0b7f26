package session

import "errors"

// Sentinel errors identify the outcome a completed or aborted session
// handler run should be recorded under.
var (
	ErrClientProtocolMismatch      = errors.New("session: client protocol version is not RFB 003.008")
	ErrClientAuthFailed            = errors.New("session: no registered mapping matched the client's challenge response")
	ErrUpstreamDialFailed          = errors.New("session: could not connect to the upstream VNC server")
	ErrUpstreamProtocolMismatch    = errors.New("session: upstream protocol version is not RFB 003.008")
	ErrUpstreamSecurityUnsupported = errors.New("session: upstream did not offer a security type we can satisfy, or rejected our authentication")
	ErrRegistryUnavailable         = errors.New("session: mapping registry lookup failed")
)
