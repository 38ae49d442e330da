package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/config"
	"EpochKeeper/internal/epoch"
	"EpochKeeper/internal/ledger"
	"EpochKeeper/internal/lock"
	"EpochKeeper/internal/metrics"
	"EpochKeeper/internal/model"
	"EpochKeeper/internal/notifier"
	"EpochKeeper/internal/recorder"
	"EpochKeeper/internal/scheduler"
	"EpochKeeper/internal/solver"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] EpochKeeper starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}
	source, err := cfg.PoolSource()
	if err != nil {
		log.Fatalf("[FATAL] pool registry: %v", err)
	}

	// Context for ledger calls; cancelled only after the scheduler drained
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init ledger
	var l ledger.Ledger
	if cfg.Ledger.Simulate {
		sim := ledger.NewMemoryLedger(time.Hour, 10*time.Minute)
		pools, err := source.Load(ctx)
		if err != nil {
			log.Fatalf("[FATAL] load pools for simulation: %v", err)
		}
		for _, p := range pools {
			sim.AddPool(p.ID, simulatedState(), model.OrderSnapshot{})
		}
		l = sim
		log.Printf("[INFO] ledger: in-memory simulator with %d pools", len(pools))
	} else {
		l = ledger.NewHTTPLedger(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Proxy, cfg.Ledger.Timeout)
		log.Printf("[INFO] ledger: %s", cfg.Ledger.BaseURL)
	}

	// Init metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Init Telegram notifier
	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	if !cfg.TelegramEnabled() {
		log.Println("[WARN] telegram not configured, alerts go to the log only")
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			log.Printf("[WARN] create database dir: %v", err)
		}
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init halt registry
	halts, err := epoch.LoadHaltRegistry(cfg.StateFile)
	if err != nil {
		log.Fatalf("[FATAL] load halt registry: %v", err)
	}
	m.SetHalted(halts.Len())
	for _, h := range halts.List() {
		log.Printf("[WARN] pool=%s halted since epoch %d: %s", h.PoolID, h.EpochID, h.Reason)
	}

	// Init settler
	settler := epoch.NewSettler(l, solver.New(cfg.Solver.MinWeightGap), halts)
	settler.Weights = cfg.Solver.Weights
	settler.Recorder = rec
	settler.Alerts = tn
	settler.Metrics = m
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("[FATAL] redis ping %s: %v", cfg.Redis.Addr, err)
		}
		settler.Locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, "")
		log.Printf("[INFO] pool locks: redis %s", cfg.Redis.Addr)
	} else {
		log.Println("[INFO] pool locks: in-process")
	}

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, settler, source, cfg.Schedule.MaxParallel, cfg.Schedule.TickTimeout)
	sched.Alerts = tn
	sched.Metrics = m
	if err := sched.RefreshPools(ctx); err != nil {
		log.Fatalf("[FATAL] initial registry load: %v", err)
	}
	if err := sched.RegisterAll(cfg.Schedule.SettleCron, cfg.Schedule.RegistryCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()

	// Metrics endpoint
	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[ERROR] metrics server: %v", err)
			}
		}()
		log.Printf("[INFO] metrics listening on %s", cfg.Metrics.Listen)
	}

	// Start Telegram polling
	go tn.StartPolling(ctx, sched.HandleCommand)

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, running a settlement tick now")
		go func() {
			if _, err := sched.Trigger(ctx); err != nil {
				log.Printf("[WARN] startup tick: %v", err)
			}
		}()
	}

	log.Println("[INFO] EpochKeeper is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	// Submitted transactions cannot be recalled, so let running ticks finish.
	sched.Stop()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] metrics shutdown: %v", err)
		}
		done()
	}
	cancel()
	log.Println("[INFO] EpochKeeper stopped")
}

// simulatedState is the starting point for every pool in simulation mode:
// NAV 800, reserve 200, senior 800, junior ratio bounds 15% to 20%.
func simulatedState() model.PoolState {
	minRatio, _ := calculator.ParseRay("0.15")
	maxRatio, _ := calculator.ParseRay("0.20")
	return model.PoolState{
		NetAssetValue:    calculator.Wad(800),
		Reserve:          calculator.Wad(200),
		SeniorAssetValue: calculator.Wad(800),
		MinJuniorRatio:   minRatio,
		MaxJuniorRatio:   maxRatio,
		MaxReserve:       calculator.Wad(10_000),
	}
}
