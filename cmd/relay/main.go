// Command relay stores the latest alignment payload per room and serves it
// back to polling devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/spaceshare/internal/config"
	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/relay"
	"github.com/banshee-data/spaceshare/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .toml config file")
	listen      = flag.String("listen", "", "Listen address (overrides relay_listen)")
	dbPath      = flag.String("db", "", "SQLite database path; empty keeps payloads in memory (overrides relay_db)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.SyncConfig, error) {
	cfg := config.EmptySyncConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadSyncConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *listen != "" {
		cfg.RelayListen = listen
	}
	if *dbPath != "" {
		cfg.RelayDB = dbPath
	}
	return cfg, nil
}

func openStore(cfg *config.SyncConfig) (relay.Store, error) {
	if path := cfg.GetRelayDB(); path != "" {
		return relay.OpenSQLite(path, cfg.GetHistoryLimit())
	}
	return relay.NewMemoryStore(cfg.GetHistoryLimit()), nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	monitoring.InitLogger("relay")
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	srv := relay.NewServer(store, nil)
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              cfg.GetRelayListen(),
		Handler:           httputil.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("version", version.Version).Str("db", cfg.GetRelayDB()).Msg("relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("relay server failed")
			store.Close()
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
		if err := server.Close(); err != nil {
			log.Warn().Err(err).Msg("HTTP server force close error")
		}
	}
	log.Info().Msg("graceful shutdown complete")
}
