// Command device runs one shared-space participant without a headset: it
// replays a script of marker detections and gestures into a session,
// publishes its payload to the relay and polls the relay for its peer's.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/spaceshare/internal/config"
	"github.com/banshee-data/spaceshare/internal/detect"
	"github.com/banshee-data/spaceshare/internal/fsutil"
	"github.com/banshee-data/spaceshare/internal/httputil"
	"github.com/banshee-data/spaceshare/internal/monitoring"
	"github.com/banshee-data/spaceshare/internal/session"
	"github.com/banshee-data/spaceshare/internal/sharing"
	"github.com/banshee-data/spaceshare/internal/timeutil"
	"github.com/banshee-data/spaceshare/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .toml config file")
	scriptPath  = flag.String("script", "", "Path to a JSON-lines script of detections and gestures")
	role        = flag.String("role", "", "publisher, subscriber or both (overrides role)")
	deviceID    = flag.String("device-id", "", "Device identifier (overrides device_id)")
	debugListen = flag.String("debug-listen", "", "Debug HTTP listen address (overrides debug_listen)")
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
	if *role != "" {
		cfg.Role = role
	}
	if *deviceID != "" {
		cfg.DeviceID = deviceID
	}
	if *debugListen != "" {
		cfg.DebugListen = debugListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func publishes(r string) bool  { return r == config.RolePublisher || r == config.RoleBoth }
func subscribes(r string) bool { return r == config.RoleSubscriber || r == config.RoleBoth }

// node is one wired-up device.
type node struct {
	device     *session.Device
	differ     *detect.FrameDiffer
	publisher  *sharing.Publisher
	subscriber *sharing.Subscriber
}

func newNode(cfg *config.SyncConfig, client httputil.HTTPClient, clock timeutil.Clock) *node {
	n := &node{device: session.NewDevice(cfg.GetDeviceID(), session.WithClock(clock))}
	n.differ = detect.NewFrameDiffer(n.device)

	if publishes(cfg.GetRole()) {
		n.publisher = sharing.NewPublisher(client, cfg.GetPublishURL(), cfg.GetPublishTimeout(), n.device)
		n.device.Attach(sharing.Dispatcher{Publisher: n.publisher})
	}
	if subscribes(cfg.GetRole()) {
		n.subscriber = sharing.NewSubscriber(client, n.device, sharing.SubscriberOptions{
			URL:          cfg.GetPollURL(),
			PollInterval: cfg.GetPollInterval(),
			FetchTimeout: cfg.GetFetchTimeout(),
			CacheBust:    cfg.GetCacheBust(),
			Clock:        clock,
		})
	}
	n.device.Attach(session.EmitterFunc(func(e session.Event) {
		if e.Kind != session.CandidateChanged && e.Kind != session.PoseChanged {
			monitoring.Logf("[Session] %s", e)
		}
	}))
	return n
}

func (n *node) close() {
	if n.publisher != nil {
		n.publisher.Close()
	}
}

func serveDebug(ctx context.Context, addr string, n *node) error {
	mux := http.NewServeMux()
	n.device.AttachAdminRoutes(mux)
	if n.publisher != nil {
		mux.HandleFunc("/api/publisher", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, n.publisher.Stats())
		})
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           httputil.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("debug server listening")

	select {
	case err := <-errc:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("debug server shutdown error")
		server.Close()
	}
	return nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	monitoring.InitLogger("device")
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var steps []step
	if *scriptPath != "" {
		steps, err = loadScript(fsutil.OSFileSystem{}, *scriptPath)
		if err != nil {
			log.Fatal().Err(err).Str("script", *scriptPath).Msg("invalid script")
		}
	}

	clock := timeutil.RealClock{}
	client := httputil.NewStandardClient(&http.Client{})
	n := newNode(cfg, client, clock)
	defer n.close()

	log.Info().
		Str("device", n.device.ID()).
		Str("role", cfg.GetRole()).
		Str("version", version.String()).
		Msg("device started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if n.subscriber != nil {
		g.Go(func() error {
			if err := n.subscriber.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if len(steps) > 0 {
		g.Go(func() error {
			err := runScript(ctx, n.device, n.differ, clock, steps)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil {
				log.Info().Int("steps", len(steps)).Msg("script finished")
			}
			return err
		})
	}
	if addr := cfg.GetDebugListen(); addr != "" {
		g.Go(func() error { return serveDebug(ctx, addr, n) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("device stopped")
		n.close()
		os.Exit(1)
	}
	log.Info().Msg("graceful shutdown complete")
}
