package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"airmap/internal/api"
	"airmap/pkg/cache"
	"airmap/pkg/config"
	"airmap/pkg/db"
	"airmap/pkg/loader"
	"airmap/pkg/logging"
	"airmap/pkg/mapapi"
	"airmap/pkg/mapstate"
	"airmap/pkg/probe"
	"airmap/pkg/refresh"
	"airmap/pkg/request"
	"airmap/pkg/store"
	"airmap/pkg/tracker"
	"airmap/pkg/version"
)

const defaultConfigPath = "configs/airmap.yaml"

// maintenanceInterval is how often old snapshots and cache rows are pruned.
const maintenanceInterval = time.Hour

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	trace      = flag.Bool("trace", false, "Log every aircraft record at DEBUG level")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}
	logging.EnableTrace = *trace

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("airmap started", "version", version.Version, "api", appCfg.API.BaseURL)

	tr := tracker.New()
	var respCache cache.Cacher = cache.NewLRU(appCfg.Cache.Size, appCfg.Cache.AirspaceTTL.Std())

	// Persistence
	var (
		dbConn *db.DB
		st     *store.SQLiteStore
	)
	if appCfg.DB.Path != "" {
		dbConn, st, err = initDB(appCfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()
		runMaintenance(dbConn, appCfg)
		respCache = cache.NewTiered(respCache, st)
	}

	// Remote data
	client := request.New(respCache, tr, request.ClientConfig{
		Retries:   appCfg.Request.Retries,
		Timeout:   appCfg.Request.Timeout.Std(),
		BaseDelay: appCfg.Request.Backoff.BaseDelay.Std(),
		MaxDelay:  appCfg.Request.Backoff.MaxDelay.Std(),
		Logger:    logging.RequestLogger,
	})
	remote := mapapi.New(appCfg.API.BaseURL, client)
	remote.CacheAirspace = appCfg.Cache.AirspaceTTL > 0

	// Startup Probes
	probes := []probe.Probe{{
		Name: "Map API",
		Check: func(ctx context.Context) error {
			_, err := remote.MapLayers(ctx)
			return err
		},
	}}
	if dbConn != nil {
		probes = append(probes, probe.Probe{Name: "Database", Check: dbConn.PingContext, Critical: true})
	}
	if err := probe.Analyze(probe.Run(ctx, probes)); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	// Map state
	mapStore := mapstate.New(loader.New(remote, tr, nil), mapstate.Options{
		AircraftLimit:    appCfg.Limits.Aircraft,
		AirspaceLimit:    appCfg.Limits.Airspace,
		AircraftInterval: appCfg.Refresh.Aircraft.Std(),
	}, nil)

	streamH := api.NewStreamHandler()
	mapStore.AddSink(streamH)

	var recorder *store.SnapshotRecorder
	if st != nil && appCfg.DB.Snapshots {
		recorder = store.NewSnapshotRecorder(st, nil, 256)
		mapStore.AddSink(recorder)

		recCtx, recCancel := context.WithCancel(context.Background())
		recDone := make(chan struct{})
		go func() {
			defer close(recDone)
			recorder.Run(recCtx)
		}()
		// Runs after mapStore.Stop so the last commits are flushed.
		defer func() {
			recCancel()
			<-recDone
		}()
	}

	if err := mapStore.Start(ctx); err != nil {
		return fmt.Errorf("failed to start map store: %w", err)
	}
	defer mapStore.Stop()
	defer streamH.Close()

	if dbConn != nil {
		maint := refresh.New(clock.New())
		maint.Configure(ctx, []refresh.Task{{
			Name:     "db-maintenance",
			Callback: func(context.Context) error { runMaintenance(dbConn, appCfg); return nil },
			Interval: maintenanceInterval,
			Enabled:  true,
		}})
		defer maint.Stop()
	}

	// Server
	var snapsH *api.SnapshotHandler
	var recStats api.RecorderStats
	if st != nil {
		snapsH = api.NewSnapshotHandler(st)
	}
	if recorder != nil {
		recStats = recorder
	}
	return runServer(ctx, appCfg, mapStore, tr, recStats, snapsH, streamH)
}

func initDB(appCfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn, nil, appCfg.Cache.AirspaceTTL.Std()), nil
}

// runMaintenance prunes snapshots past retention and expired cache rows.
// Failures are logged; they never stop the service.
func runMaintenance(d *db.DB, cfg *config.Config) {
	now := time.Now()
	if cfg.DB.Retention > 0 {
		if n, err := d.PruneSnapshots(now, cfg.DB.Retention.Std()); err != nil {
			slog.Error("Snapshot pruning failed", "error", err)
		} else if n > 0 {
			slog.Info("Pruned state snapshots", "count", n)
		}
	}
	if cfg.Cache.AirspaceTTL > 0 {
		if n, err := d.PruneCache(now, cfg.Cache.AirspaceTTL.Std()); err != nil {
			slog.Error("Cache pruning failed", "error", err)
		} else if n > 0 {
			slog.Debug("Pruned cache entries", "count", n)
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, ms *mapstate.Store, tr *tracker.Tracker, rec api.RecorderStats, snapsH *api.SnapshotHandler, streamH *api.StreamHandler) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address,
		api.NewMapHandler(ms),
		api.NewStatsHandler(tr, rec),
		snapsH,
		streamH,
		shutdownFunc,
	)
	return runServerLifecycle(ctx, srv, streamH, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, streamH *api.StreamHandler, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	streamH.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
