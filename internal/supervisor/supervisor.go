// Package supervisor implements the acceptor loop: it binds the
// client-facing listener, dispatches one session handler goroutine per
// inbound connection, and runs the periodic sweep that tears down sessions
// whose mapping has been removed from the registry while they were live.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/santazhang/vncproxy/internal/forwarder"
	"github.com/santazhang/vncproxy/internal/metrics"
	"github.com/santazhang/vncproxy/internal/registry"
)

// SessionHandler is the subset of session.Handler the supervisor depends on,
// narrowed to ease testing with a stub.
type SessionHandler interface {
	Handle(ctx context.Context, conn net.Conn) error
}

// Supervisor owns the listener, the worker goroutines it spawns, and the
// cleanup ticker.
type Supervisor struct {
	listenAddr      string
	handler         SessionHandler
	store           registry.Store
	index           *forwarder.Index
	cleanupInterval time.Duration
	logger          zerolog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	listener net.Listener
}

// Config bundles Supervisor construction parameters.
type Config struct {
	ListenAddr      string
	Handler         SessionHandler
	Store           registry.Store
	Index           *forwarder.Index
	CleanupInterval time.Duration
	Logger          zerolog.Logger
}

// New builds a Supervisor. CleanupInterval defaults to one second when zero,
// matching the cadence the original polling loop used.
func New(cfg Config) *Supervisor {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Second
	}
	return &Supervisor{
		listenAddr:      cfg.ListenAddr,
		handler:         cfg.Handler,
		store:           cfg.Store,
		index:           cfg.Index,
		cleanupInterval: cfg.CleanupInterval,
		logger:          cfg.Logger,
	}
}

// Run binds the listener and blocks, accepting connections and running the
// cleanup sweep, until ctx is canceled. It always returns nil on a clean
// shutdown triggered by ctx; any other error is a bind or accept failure.
func (s *Supervisor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("supervisor: listen on %s: %w", s.listenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.listenAddr).Msg("accepting VNC client connections")

	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		s.runCleanupLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				<-cleanupDone
				return nil
			default:
				return fmt.Errorf("supervisor: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handler.Handle(ctx, conn); err != nil {
				s.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("session ended")
			}
		}()
	}
}

// runCleanupLoop periodically removes live sessions whose mapping has
// disappeared from the registry. A mapping removed while a session is live
// doesn't tear down that session immediately; a later sweep notices the
// forward_key is gone and closes it.
func (s *Supervisor) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Supervisor) sweepOnce(ctx context.Context) {
	mappings, err := s.store.Snapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cleanup sweep: registry snapshot failed")
		return
	}
	valid := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		valid[string(m.ForwardKey)] = struct{}{}
	}

	stale := s.index.ScanAbsent(valid)
	for _, leader := range stale {
		// Shutdown runs pair.teardown, which also decrements LiveSessions;
		// evictions and normal closes share that single accounting point.
		leader.Shutdown()
		metrics.SessionsEvicted.Inc()
	}
	if len(stale) > 0 {
		s.logger.Info().Int("count", len(stale)).Msg("cleanup sweep evicted sessions with removed mappings")
	}
}
