// Package session implements the per-connection state machine:
// version and security handshake with the client, challenge/response
// authentication against the mapping registry, and — once a mapping is
// found — the matching handshake against the mapped upstream server before
// handing both sockets off to the forwarding engine.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/santazhang/vncproxy/internal/desvnc"
	"github.com/santazhang/vncproxy/internal/forwarder"
	"github.com/santazhang/vncproxy/internal/metrics"
	"github.com/santazhang/vncproxy/internal/registry"
	"github.com/santazhang/vncproxy/internal/rfbwire"
)

// Handler runs the S0-S12 state machine for one inbound client connection.
type Handler struct {
	store       registry.Store
	engine      *forwarder.Engine
	dialTimeout time.Duration
	logger      zerolog.Logger
}

// Config bundles Handler construction parameters.
type Config struct {
	Store       registry.Store
	Engine      *forwarder.Engine
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// New builds a Handler. DialTimeout defaults to 5s when zero.
func New(cfg Config) *Handler {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Handler{
		store:       cfg.Store,
		engine:      cfg.Engine,
		dialTimeout: cfg.DialTimeout,
		logger:      cfg.Logger,
	}
}

// Handle drives one client connection through the full handshake. On
// success, ownership of clientConn and the dialed upstream connection passes
// to the forwarding engine and Handle returns nil; on any failure Handle
// closes whatever sockets it opened and returns an error describing why:
// one of the sentinel errors in errors.go (possibly wrapped) for protocol,
// authentication, registry and upstream failures, or a wrapped I/O error
// when a read or write fails.
func (h *Handler) Handle(ctx context.Context, clientConn net.Conn) error {
	sessionID := uuid.NewString()
	log := h.logger.With().Str("session_id", sessionID).Str("remote", clientConn.RemoteAddr().String()).Logger()

	outcome := "io_error"
	defer func() {
		metrics.SessionsTotal.WithLabelValues(outcome).Inc()
		log.Debug().Str("outcome", outcome).Msg("session handler finished")
	}()

	handedOff := false
	defer func() {
		if !handedOff {
			clientConn.Close()
		}
	}()

	cr := rfbwire.NewReader(clientConn)
	cw := rfbwire.NewWriter(clientConn)

	// S0: advertise our version.
	if err := cw.WriteString(rfbwire.ProtocolVersion38); err != nil {
		return fmt.Errorf("session: writing client version: %w", err)
	}

	// S1: the client must echo exactly RFB 003.008.
	clientVersion, err := cr.ReadExact(rfbwire.ProtocolVersionLength)
	if err != nil {
		return fmt.Errorf("session: reading client version: %w", err)
	}
	if !rfbwire.IsVersion38(clientVersion) {
		outcome = "protocol_mismatch"
		return ErrClientProtocolMismatch
	}

	// S2: offer exactly one security type, VNC authentication.
	if err := cw.WriteU8(1); err != nil {
		return fmt.Errorf("session: writing security type count: %w", err)
	}
	if err := cw.WriteU8(uint8(rfbwire.SecurityTypeVNCAuth)); err != nil {
		return fmt.Errorf("session: writing security type: %w", err)
	}

	// S3: the client echoes back its chosen type. With only one type on
	// offer there's nothing to branch on, but the byte must still be
	// drained off the wire.
	if _, err := cr.ReadExact(1); err != nil {
		return fmt.Errorf("session: reading chosen security type: %w", err)
	}

	// S4: send a fresh 16-byte challenge.
	challenge := nextChallenge()
	if err := cw.Write(challenge[:]); err != nil {
		return fmt.Errorf("session: writing challenge: %w", err)
	}

	// S5: collect the 16-byte response.
	responseBytes, err := cr.ReadExact(16)
	if err != nil {
		return fmt.Errorf("session: reading challenge response: %w", err)
	}
	var response [16]byte
	copy(response[:], responseBytes)

	// S6: scan the registry for a mapping whose forward_key explains the
	// response.
	mapping, err := h.authScan(ctx, challenge, response)
	if err != nil {
		outcome = "registry_error"
		h.failClient(cw)
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if mapping == nil {
		outcome = "client_auth_failed"
		h.failClient(cw)
		return ErrClientAuthFailed
	}

	// S7: dial the mapped upstream. The client doesn't learn the result of
	// its own authentication yet — that waits until we know whether the
	// upstream accepted us too, so we can forward its SecurityResult
	// verbatim instead of synthesizing one.
	dialCtx, cancel := context.WithTimeout(ctx, h.dialTimeout)
	upstreamConn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", mapping.DestAddr)
	cancel()
	if err != nil {
		outcome = "upstream_dial_failed"
		h.failClient(cw)
		return fmt.Errorf("%w: %v", ErrUpstreamDialFailed, err)
	}

	upstreamResult, err := h.negotiateUpstream(upstreamConn, mapping)
	if err != nil {
		upstreamConn.Close()
		h.failClient(cw)
		switch err {
		case ErrUpstreamProtocolMismatch:
			outcome = "upstream_protocol_mismatch"
		case ErrUpstreamSecurityUnsupported:
			outcome = "upstream_security_unsupported"
		default:
			outcome = "upstream_dial_failed"
		}
		return err
	}

	// S11c: forward the upstream's SecurityResult to the client verbatim.
	if err := cw.Write(upstreamResult[:]); err != nil {
		upstreamConn.Close()
		return fmt.Errorf("session: forwarding security result: %w", err)
	}
	if binary.BigEndian.Uint32(upstreamResult[:]) != rfbwire.SecurityResultOK {
		upstreamConn.Close()
		outcome = "upstream_security_unsupported"
		return ErrUpstreamSecurityUnsupported
	}

	// S12: hand both sockets to the forwarding engine.
	h.engine.Tie(clientConn, upstreamConn, mapping.ForwardKey)
	handedOff = true
	outcome = "established"
	return nil
}

// authScan scans for a matching mapping: for every mapping currently in the
// registry, compute the expected response under its forward_key and compare
// against what the client sent. The first match wins.
func (h *Handler) authScan(ctx context.Context, challenge, response [16]byte) (*registry.Mapping, error) {
	mappings, err := h.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range mappings {
		m := &mappings[i]
		expected, err := desvnc.ExpectedResponse(m.ForwardKey, challenge)
		if err != nil {
			h.logger.Warn().Err(err).Msg("auth scan: skipping mapping with unusable forward_key")
			continue
		}
		if expected == response {
			return m, nil
		}
	}
	return nil, nil
}

// failClient sends the SecurityResult=failed reply to the client before its
// connection is closed: on the S6 no-match and registry-error paths, and when
// dialing or handshaking with the upstream fails.
func (h *Handler) failClient(cw *rfbwire.Writer) {
	_ = cw.WriteU32(rfbwire.SecurityResultFailed)
}

// negotiateUpstream drives S8-S11b: confirm the upstream speaks RFB 3.8,
// pick a security type we can satisfy (None, or VNCAuth when the mapping
// carries an upstream password), complete it, and return the upstream's
// raw 4-byte SecurityResult for the caller to forward verbatim.
func (h *Handler) negotiateUpstream(upstreamConn net.Conn, mapping *registry.Mapping) ([4]byte, error) {
	var result [4]byte
	ur := rfbwire.NewReader(upstreamConn)
	uw := rfbwire.NewWriter(upstreamConn)

	// S8: upstream must also be RFB 3.8.
	upstreamVersion, err := ur.ReadExact(rfbwire.ProtocolVersionLength)
	if err != nil {
		return result, fmt.Errorf("session: reading upstream version: %w", err)
	}
	if !rfbwire.IsVersion38(upstreamVersion) {
		return result, ErrUpstreamProtocolMismatch
	}

	// S9: echo our version back.
	if err := uw.WriteString(rfbwire.ProtocolVersion38); err != nil {
		return result, fmt.Errorf("session: writing upstream version: %w", err)
	}

	// S10: read the upstream's offered security types.
	count, err := ur.ReadU8()
	if err != nil {
		return result, fmt.Errorf("session: reading upstream security type count: %w", err)
	}
	types, err := ur.ReadExact(int(count))
	if err != nil {
		return result, fmt.Errorf("session: reading upstream security types: %w", err)
	}

	hasNone, hasVNCAuth := false, false
	for _, t := range types {
		switch rfbwire.SecurityType(t) {
		case rfbwire.SecurityTypeNone:
			hasNone = true
		case rfbwire.SecurityTypeVNCAuth:
			hasVNCAuth = true
		}
	}

	switch {
	case hasNone:
		// S11a
		if err := uw.WriteU8(uint8(rfbwire.SecurityTypeNone)); err != nil {
			return result, fmt.Errorf("session: choosing upstream security type: %w", err)
		}
	case hasVNCAuth && len(mapping.DestPasswd) > 0:
		// S11b
		if err := uw.WriteU8(uint8(rfbwire.SecurityTypeVNCAuth)); err != nil {
			return result, fmt.Errorf("session: choosing upstream security type: %w", err)
		}
		challengeBytes, err := ur.ReadExact(16)
		if err != nil {
			return result, fmt.Errorf("session: reading upstream challenge: %w", err)
		}
		var challenge [16]byte
		copy(challenge[:], challengeBytes)

		response, err := desvnc.ComputeResponse(mapping.DestPasswd, challenge)
		if err != nil {
			return result, fmt.Errorf("session: computing upstream response: %w", err)
		}
		if err := uw.Write(response[:]); err != nil {
			return result, fmt.Errorf("session: writing upstream response: %w", err)
		}
	default:
		return result, ErrUpstreamSecurityUnsupported
	}

	resultBytes, err := ur.ReadExact(4)
	if err != nil {
		return result, fmt.Errorf("session: reading upstream security result: %w", err)
	}
	copy(result[:], resultBytes)
	return result, nil
}
