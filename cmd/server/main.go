package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casgen-dev/casgen/internal/api"
	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/cache"
	"github.com/casgen-dev/casgen/internal/catalog"
	"github.com/casgen-dev/casgen/internal/config"
	"github.com/casgen-dev/casgen/internal/evac"
	"github.com/casgen-dev/casgen/internal/jobs"
	"github.com/casgen-dev/casgen/internal/medical"
	"github.com/casgen-dev/casgen/internal/otel"
	"github.com/casgen-dev/casgen/internal/output"
	"github.com/casgen-dev/casgen/internal/retention"
	"github.com/casgen-dev/casgen/internal/scenario"
	"github.com/casgen-dev/casgen/internal/simulator"
	"github.com/casgen-dev/casgen/internal/store"
	"github.com/casgen-dev/casgen/internal/types"
	"github.com/casgen-dev/casgen/internal/validation"
	"github.com/casgen-dev/casgen/internal/version"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides LISTEN_ADDR)")
	devMode := flag.Bool("dev", false, "Development mode: binds to loopback, volatile store and cache")
	rateLimit := flag.Float64("rate-limit", 50, "Per-client request rate in requests/second (0 to disable)")
	rateBurst := flag.Int("rate-burst", 100, "Per-client rate limit burst size")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *devMode {
		cfg.ListenAddr = "127.0.0.1:8080"
		cfg.DatabaseURL = ""
		cfg.CacheURL = ""
		fmt.Println("")
		fmt.Println("╔════════════════════════════════════════════════════════════╗")
		fmt.Println("║  DEVELOPMENT MODE - DO NOT USE IN PRODUCTION               ║")
		fmt.Println("║  Volatile store: jobs and API keys are lost on restart     ║")
		fmt.Println("║  Bound to loopback only (127.0.0.1:8080)                   ║")
		fmt.Println("╚════════════════════════════════════════════════════════════╝")
		fmt.Println("")
	}

	ctx := context.Background()

	var st store.Store
	if cfg.UseMemoryStore() {
		log.Printf("[Server] DATABASE_URL not set; jobs and keys will not survive a restart")
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to Postgres: %v\n", err)
			os.Exit(1)
		}
		st = pg
	}

	var sideCache cache.Cache
	var closeCache func()
	if cfg.CacheURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.CacheURL, slog.Default())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to Redis: %v\n", err)
			os.Exit(1)
		}
		sideCache = redisCache
		closeCache = func() { redisCache.Close() }
	} else {
		memCache := cache.NewMemory()
		sideCache = memCache
		closeCache = memCache.Close
	}

	cat, err := catalog.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading injury catalog: %v\n", err)
		os.Exit(1)
	}
	ev, err := evac.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading evacuation tables: %v\n", err)
		os.Exit(1)
	}
	sel, err := medical.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading treatment protocols: %v\n", err)
		os.Exit(1)
	}
	evacCfg, err := evac.DefaultConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading evacuation defaults: %v\n", err)
		os.Exit(1)
	}
	outputs, err := output.NewStore(cfg.OutputRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing output root: %v\n", err)
		os.Exit(1)
	}

	validator := validation.NewValidator(validation.Options{
		MaxTotalPatients:  cfg.MaxTotalPatients,
		EnabledFormats:    []types.OutputFormat{types.FormatJSON, types.FormatCSV},
		KnownScenarios:    scenario.KnownIDs(),
		DefaultEvacuation: evacCfg,
		Templates:         validation.BuiltinTemplates(),
	})

	mgr := jobs.NewManager(st, validator)
	authSvc := auth.NewService(st, auth.Options{
		LegacyKey: cfg.LegacyAPIKey,
		DemoKey:   cfg.DemoAPIKey,
	})

	metrics, err := otel.NewMetrics(ctx, cfg.MetricsConfig(version.Version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing metrics: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalMetrics(metrics)
	tracer, err := otel.NewTracer(ctx, cfg.TracerConfig(version.Version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing tracer: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalTracer(tracer)
	mgr.SetMetrics(metrics)

	pool := jobs.NewWorkerPool(mgr, outputs, simulator.New(cat, ev, sel), scenario.NewGenerator(), jobs.PoolConfig{
		Size:       cfg.WorkerPoolSize,
		BatchSize:  cfg.BatchSize,
		JobTimeout: cfg.JobTimeout(),
	})
	pool.SetUsageRecorder(authSvc)
	pool.SetTracer(tracer)

	// Re-fail jobs stranded in running by a previous crash, then requeue
	// pending rows, before any worker picks up new work.
	if err := mgr.Recover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error recovering interrupted jobs: %v\n", err)
		os.Exit(1)
	}
	pool.Start()

	sweeper := retention.NewManager(retention.Config{
		RetentionDays: cfg.JobRetentionDays,
		SweepInterval: cfg.SweepInterval(),
	}, st, outputs, mgr)
	sweeper.SweepNow(ctx)
	sweeper.Start()

	server := api.NewServer(cfg.ListenAddr, mgr, authSvc, outputs)
	server.SetStore(st)
	server.SetCache(sideCache)
	server.SetEvacuation(ev)
	server.SetMetrics(metrics)
	server.SetTracer(tracer)

	limiter := api.DefaultRateLimiterConfig()
	limiter.RequestsPerSecond = *rateLimit
	limiter.Burst = *rateBurst
	limiter.Enabled = *rateLimit > 0
	server.SetRateLimiterConfig(limiter)

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("casgen %s listening on %s\n", version.String(), server.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping workers: %v\n", err)
	}
	sweeper.Stop()

	if err := metrics.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing metrics: %v\n", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing traces: %v\n", err)
	}

	closeCache()
	st.Close()
	fmt.Println("Server stopped")
}
