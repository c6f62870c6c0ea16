package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	_ "github.com/NomadCrew/nomad-crew-proximity/docs"
	"github.com/NomadCrew/nomad-crew-proximity/handlers"
	"github.com/NomadCrew/nomad-crew-proximity/internal/capture"
	"github.com/NomadCrew/nomad-crew-proximity/internal/device"
	"github.com/NomadCrew/nomad-crew-proximity/internal/notification"
	"github.com/NomadCrew/nomad-crew-proximity/internal/orchestrator"
	"github.com/NomadCrew/nomad-crew-proximity/internal/permission"
	"github.com/NomadCrew/nomad-crew-proximity/internal/proximity"
	"github.com/NomadCrew/nomad-crew-proximity/internal/session"
	"github.com/NomadCrew/nomad-crew-proximity/internal/storage"
	"github.com/NomadCrew/nomad-crew-proximity/internal/store/postgres"
	"github.com/NomadCrew/nomad-crew-proximity/internal/supabase"
	"github.com/NomadCrew/nomad-crew-proximity/internal/websocket"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/router"
	"github.com/NomadCrew/nomad-crew-proximity/services"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// remoteBackend is the session and proximity surface of the selected backend.
type remoteBackend struct {
	sessions  session.API
	proximity proximity.API
	feed      proximity.Feed
	userID    string
	pool      *pgxpool.Pool
}

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer logger.Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	flags := config.GetFeatureFlags()
	clk := clock.New()

	// Durable device store
	var redisClient *redis.Client
	var store storage.Store
	if cfg.Capture.Store == config.StoreRedis {
		redisClient = redis.NewClient(config.ConfigureRedisOptions(&cfg.Redis))
		if err := config.TestRedisConnection(redisClient, 3, 2*time.Second); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		store = storage.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
	} else {
		log.Warnw("Using in-memory device store, background context will not survive restarts")
		store = storage.NewMemoryStore()
	}

	// Device side
	bridge := device.NewHostBridge(clk)
	permissions := permission.NewManager(bridge, store)
	cache := capture.NewLocationCache()
	watcher := capture.NewForegroundWatcher(bridge, cache)

	var agent session.Agent
	if flags.EnableBackgroundCapture {
		opts := capture.DefaultAgentOptions()
		opts.Updates.DistanceIntervalMeters = cfg.Capture.BackgroundDistanceMeters
		opts.Updates.TimeInterval = seconds(cfg.Capture.BackgroundIntervalSeconds)
		opts.Updates.DeferredBatchInterval = seconds(cfg.Capture.DeferredBatchSeconds)
		opts.MaxMissedDeliveries = cfg.Capture.MaxMissedDeliveries
		a, err := capture.NewBackgroundCaptureAgent(bridge, store, cache, opts)
		if err != nil {
			log.Fatalf("Failed to create background capture agent: %v", err)
		}
		agent = a
	}

	// Uploads and notifications
	workerPool := services.NewWorkerPool(cfg.WorkerPool)
	workerPool.Start()

	var limiter notification.RateLimiter
	if redisClient != nil {
		limiter = services.NewRateLimitService(redisClient)
	} else {
		limiter = services.NewMemoryRateLimiter(clk)
	}
	notifier := notification.NewSharingNotifier(
		notification.NewClient(cfg.Notification.APIUrl, cfg.Notification.APIKey,
			notification.WithTimeout(seconds(cfg.Notification.TimeoutSeconds))),
		limiter,
		notification.NotifierOptionsFromConfig(cfg.Notification, cfg.RateLimit),
	)

	backend, err := newRemoteBackend(cfg, clk)
	if err != nil {
		log.Fatalf("Failed to initialize %s backend: %v", cfg.Sharing.Backend, err)
	}
	if backend.pool != nil {
		defer backend.pool.Close()
	}

	sessionOpts := session.DefaultOptions(backend.userID)
	if cfg.Sharing.DefaultDurationMinutes > 0 {
		sessionOpts.DefaultDurationMinutes = cfg.Sharing.DefaultDurationMinutes
	}
	sessionOpts.WatchOptions.DistanceIntervalMeters = cfg.Capture.WatchDistanceMeters
	sessionOpts.WatchOptions.TimeInterval = seconds(cfg.Capture.WatchIntervalSeconds)
	sessions := session.NewController(session.Dependencies{
		API:         backend.sessions,
		Permissions: permissions,
		Locations:   bridge,
		Watcher:     watcher,
		Agent:       agent,
		Store:       store,
		Uploads:     workerPool,
		Notifier:    notifier,
		Clock:       clk,
	}, sessionOpts)

	nearby := proximity.NewService(backend.proximity, cache, sessions, clk, proximity.Options{
		PointOfInterestRadiusMeters: cfg.Proximity.PointOfInterestRadiusMeters,
		PeerRadiusMeters:            cfg.Proximity.PeerRadiusMeters,
		RefreshInterval:             seconds(cfg.Proximity.RefreshIntervalSeconds),
	})
	var feed proximity.Feed
	if flags.EnableSupabaseRealtime {
		feed = backend.feed
	}
	realtime := proximity.NewRealtimeBridge(feed, nearby, cfg.Proximity.RealtimePeerCap)

	core := orchestrator.New(orchestrator.Dependencies{
		Permissions: permissions,
		Sessions:    sessions,
		Proximity:   nearby,
		Realtime:    realtime,
		Watcher:     watcher,
		Cache:       cache,
	}, orchestrator.Options{
		FestivalID: cfg.Sharing.FestivalID,
		LocalTrackingOptions: types.WatchOptions{
			Accuracy:               types.AccuracyBalanced,
			DistanceIntervalMeters: cfg.Proximity.LocalTrackingDistanceMeters,
			TimeInterval:           seconds(cfg.Proximity.LocalTrackingIntervalSeconds),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.Initialize(ctx)

	// Control API
	var dbPinger services.DatabasePinger
	if backend.pool != nil {
		dbPinger = backend.pool
	}
	healthService := services.NewHealthService(dbPinger, redisClient, cfg.Server.Version)
	healthService.SetSessionStateGetter(sessions.State)

	hub := websocket.NewHub(core)
	hub.Start()

	r := router.SetupRouter(router.Dependencies{
		Config:           cfg,
		HealthHandler:    handlers.NewHealthHandler(healthService),
		ProximityHandler: handlers.NewProximityHandler(core),
		DeviceHandler:    handlers.NewDeviceHandler(bridge, permissions),
		StreamHandler:    websocket.NewHandler(hub, &cfg.Server, core),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("Starting control API", "port", cfg.Server.Port, "backend", cfg.Sharing.Backend)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), seconds(cfg.WorkerPool.ShutdownTimeoutSeconds))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("HTTP server shutdown failed", "error", err)
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Snapshot stream shutdown failed", "error", err)
		}
		// The session is left running so a restarted process can resume it.
		core.Shutdown(shutdownCtx)
		if err := workerPool.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Worker pool shutdown failed", "error", err)
		}
		bridge.Close()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Warnw("Failed to close Redis client", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("Shutdown complete")
}

// newRemoteBackend builds the session and proximity APIs of the configured
// backend.
func newRemoteBackend(cfg *config.Config, clk clock.Clock) (*remoteBackend, error) {
	switch cfg.Sharing.Backend {
	case config.BackendPostgres:
		if err := postgres.RunMigrations(cfg.Database.URL()); err != nil {
			return nil, err
		}
		poolConfig, err := config.ConfigurePostgresPool(&cfg.Database)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &remoteBackend{
			sessions:  postgres.NewSessionAPI(pool, cfg.Sharing.UserID, clk),
			proximity: postgres.NewProximityAPI(pool),
			feed:      postgres.NewNotifyFeed(cfg.Database.URL(), cfg.Database.NotifyChannel),
			userID:    cfg.Sharing.UserID,
			pool:      pool,
		}, nil
	default:
		var opts []supabase.Option
		if cfg.Sharing.UserID != "" {
			opts = append(opts, supabase.WithUserID(cfg.Sharing.UserID))
		}
		client, err := supabase.NewClient(cfg.Supabase, opts...)
		if err != nil {
			return nil, err
		}
		return &remoteBackend{
			sessions:  supabase.NewSessionAPI(client),
			proximity: supabase.NewProximityAPI(client),
			feed:      supabase.NewFeed(client),
			userID:    client.UserID(),
		}, nil
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
