package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/alexbotov/casino-core/internal/api"
	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/auth"
	"github.com/alexbotov/casino-core/internal/cache"
	"github.com/alexbotov/casino-core/internal/config"
	"github.com/alexbotov/casino-core/internal/control"
	"github.com/alexbotov/casino-core/internal/database"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/events"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/houseedge"
	"github.com/alexbotov/casino-core/internal/logger"
	"github.com/alexbotov/casino-core/internal/metrics"
	"github.com/alexbotov/casino-core/internal/poker"
	"github.com/alexbotov/casino-core/internal/recovery"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/alexbotov/casino-core/internal/session"
	"github.com/alexbotov/casino-core/internal/settlement"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("🎰 Casino Core - Settlement Server")

	// Storage
	var (
		db           *database.DB
		walletStore  wallet.Store  = wallet.NewMemoryStore()
		sessionStore session.Store = session.NewMemoryStore()
		auditSvc     *audit.Service
		err          error
	)
	if cfg.Database.Driver != "" {
		if db, err = database.New(cfg.Database.Driver, cfg.Database.DSN); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		walletStore = database.NewLedgerStore(db)
		sessionStore = database.NewSessionStore(db)
		auditSvc = audit.New(db.DB, db.Builder(), zl)
		zl.Info("database ready", zap.String("driver", db.Driver()))
	} else {
		auditSvc = audit.New(nil, sq.StatementBuilder, zl)
		zl.Warn("no database configured, state is held in memory")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	// Randomness
	rngSvc, err := rng.FromConfig(cfg.RNG.Mode, cfg.RNG.Seed)
	if err != nil {
		return err
	}
	rngSvc.OnFailure(func(err error) {
		_ = auditSvc.Log(context.Background(), audit.EventRNGFailure, domain.SeverityCritical,
			"Entropy source failed", map[string]interface{}{"error": err.Error()}, audit.WithComponent("rng"))
	})
	health, err := rngSvc.HealthCheck()
	if err != nil {
		return fmt.Errorf("rng health check failed: %w", err)
	}
	_ = auditSvc.Log(ctx, audit.EventRNGHealthCheck, domain.SeverityInfo, "Startup RNG health check",
		health, audit.WithComponent("rng"))
	if !health.Healthy {
		zl.Warn("rng health check did not pass", zap.Float64("chi_square", health.ChiSquare))
	}
	zl.Info("rng ready", zap.String("mode", rngSvc.Mode()))

	// Games
	registry := game.NewRegistry()
	slots, err := game.NewSlots(cfg.Games.SlotsTable())
	if err != nil {
		return fmt.Errorf("failed to build slots table: %w", err)
	}
	engines := map[domain.GameType]game.Engine{
		domain.GameBlackjack:  game.NewBlackjack(cfg.Games.BlackjackRules()),
		domain.GameRoulette:   game.Roulette{},
		domain.GameSlots:      slots,
		domain.GameVideoPoker: game.NewVideoPoker(nil),
	}
	games := cfg.Games.Domain()
	for _, g := range games {
		engine, ok := engines[g.Type]
		if !ok {
			return fmt.Errorf("no engine for game type %s", g.Type)
		}
		if err := registry.Register(g, engine); err != nil {
			return err
		}
	}

	edgeCfg, err := cfg.Games.HouseEdgeConfig()
	if err != nil {
		return err
	}
	policy, err := houseedge.New(edgeCfg, zl)
	if err != nil {
		return fmt.Errorf("failed to create house edge policy: %w", err)
	}

	// Gaming control
	ctl := control.New(db, auditSvc, zl)
	if err := ctl.LoadState(ctx); err != nil {
		return err
	}
	for _, g := range games {
		if !g.Enabled && ctl.IsGameEnabled(g.ID) {
			if err := ctl.DisableGame(ctx, g.ID, "disabled in games file", "config"); err != nil {
				return err
			}
		}
	}

	// Shared infrastructure
	var resultCache cache.Cache = cache.NewMemory()
	if cfg.Redis.Addr != "" {
		rc := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		defer rc.Close()
		resultCache = rc
	}
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, zl)
	}
	defer publisher.Close()

	// Core services
	ledger := wallet.New(walletStore,
		wallet.WithAudit(auditSvc),
		wallet.WithMetrics(mt),
		wallet.WithLogger(zl),
		wallet.WithMaxRetries(cfg.Ledger.MaxRetries))

	settleOpts := []settlement.Option{
		settlement.WithPublisher(publisher),
		settlement.WithAudit(auditSvc),
		settlement.WithMetrics(mt),
		settlement.WithLogger(zl),
		settlement.WithLargeWinThreshold(cfg.Ledger.LargeWinAmount),
	}
	if edgeCfg.Streak.Enabled {
		settleOpts = append(settleOpts, settlement.WithStreaks(settlement.NewStreakTracker()))
	}
	orch := settlement.New(sessionStore, ledger, policy, settleOpts...)

	sessions := session.NewManager(sessionStore, registry, ledger, orch, rngSvc,
		session.WithGate(ctl),
		session.WithCache(resultCache, cfg.Redis.ResultTTL),
		session.WithPublisher(publisher),
		session.WithAudit(auditSvc),
		session.WithMetrics(mt),
		session.WithLogger(zl))

	tables := poker.NewTableManager(ledger, policy, rngSvc,
		poker.WithDefaultTable(poker.TableConfig{Size: cfg.Games.Poker.TableSize, Ante: cfg.Games.Poker.Ante}),
		poker.WithAudit(auditSvc),
		poker.WithMetrics(mt),
		poker.WithLogger(zl))

	// Background recovery
	recCfg := recovery.Config{
		Interval:   cfg.Recovery.Interval,
		RetryAfter: cfg.Recovery.RetryAfter,
		StaleAfter: cfg.Recovery.StaleAfter,
		BatchSize:  cfg.Recovery.BatchSize,
	}
	jobs := recovery.New()
	jobs.Register(recovery.NewSettlementJob(sessionStore, orch, recCfg, zl))
	jobs.Register(recovery.NewStaleSessionJob(sessionStore, sessions, recCfg, zl))
	jobsDone := make(chan struct{})
	go func() {
		jobs.Start(ctx)
		close(jobsDone)
	}()

	// HTTP
	handler := api.New(api.Services{
		Auth:     auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0),
		Sessions: sessions,
		Wallet:   ledger,
		Registry: registry,
		Control:  ctl,
		Tables:   tables,
		RNG:      rngSvc,
	}, zl)
	router := handler.SetupRouter(cfg.Server.CORSOrigins, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
	<-jobsDone
	return nil
}
