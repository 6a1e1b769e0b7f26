// Command vncproxyd is the VNC reverse-proxy daemon: it accepts client
// connections, authenticates them against the mapping registry, and
// forwards the authenticated session to the mapped upstream VNC server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/santazhang/vncproxy/internal/config"
	"github.com/santazhang/vncproxy/internal/forwarder"
	"github.com/santazhang/vncproxy/internal/registry"
	"github.com/santazhang/vncproxy/internal/session"
	"github.com/santazhang/vncproxy/internal/supervisor"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	var configPath, seedFile string
	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&seedFile, "seed-file", "", "path to a YAML mapping file bulk-inserted at startup")
	flag.Parse()

	if configPath == "" {
		configPath = config.FindConfigFile("vncproxyd")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Log.ConfigureZerolog()

	log.Info().Str("config_file", configPath).Msg("starting vncproxyd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := registry.Open(ctx, cfg.Registry.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mapping registry")
	}
	defer store.Close()

	if seedFile == "" {
		seedFile = cfg.Registry.SeedFile
	}
	if seedFile != "" {
		sf, err := config.LoadSeedFile(seedFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load seed file")
		}
		inserted, skipped, err := config.ApplySeedFile(ctx, store, sf)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to apply seed file")
		}
		log.Info().Int("inserted", inserted).Int("skipped", skipped).Str("file", seedFile).Msg("applied seed file")
	}

	index := forwarder.NewIndex()
	engine := forwarder.NewEngine(index, forwarder.Options{
		ReadBufSize:  cfg.Forwarder.ReadBufSize,
		SoftCapBytes: cfg.Forwarder.SoftCapBytes,
		Logger:       log.Logger,
	})

	handler := session.New(session.Config{
		Store:       store,
		Engine:      engine,
		DialTimeout: cfg.Forwarder.DialTimeout,
		Logger:      log.Logger,
	})

	sup := supervisor.New(supervisor.Config{
		ListenAddr:      cfg.Listen.Address,
		Handler:         handler,
		Store:           store,
		Index:           index,
		CleanupInterval: cfg.Cleanup.Interval,
		Logger:          log.Logger,
	})

	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("address", cfg.Metrics.Address).Msg("serving /metrics")
	}

	// SIGHUP and SIGPIPE must not terminate the daemon: ignore both outright
	// rather than merely leaving them unregistered, since Go's default
	// action for an unhandled SIGHUP is still process termination. There is
	// no config-reload-on-SIGHUP behavior to wire up here, just the ignore.
	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	errChan := make(chan error, 1)
	go func() {
		errChan <- sup.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		select {
		case <-errChan:
		case <-time.After(10 * time.Second):
			log.Warn().Msg("timed out waiting for supervisor to stop")
		}
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("supervisor exited with an error")
		}
		cancel()
	}

	log.Info().Msg("vncproxyd stopped")
}
