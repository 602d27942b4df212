package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"contramind/internal/anchor"
	anchorhandler "contramind/internal/anchor/handler"
	anchormetrics "contramind/internal/anchor/metrics"
	anchorpublisher "contramind/internal/anchor/publisher"
	anchorstore "contramind/internal/anchor/store"
	"contramind/internal/attestor"
	attestorhandler "contramind/internal/attestor/handler"
	attestormetrics "contramind/internal/attestor/metrics"
	attestorstore "contramind/internal/attestor/store"
	"contramind/internal/decision"
	"contramind/internal/decision/adapters"
	decisionhandler "contramind/internal/decision/handler"
	decisionmetrics "contramind/internal/decision/metrics"
	"contramind/internal/decision/ports"
	httpapi "contramind/internal/http"
	ledgerstore "contramind/internal/ledger/store"
	paramshandler "contramind/internal/params/handler"
	paramsservice "contramind/internal/params/service"
	paramsstore "contramind/internal/params/store"
	"contramind/internal/platform/config"
	"contramind/internal/platform/httpserver"
	"contramind/internal/platform/lock"
	"contramind/internal/platform/logger"
	"contramind/internal/platform/metrics"
	"contramind/internal/platform/postgres"
	platformredis "contramind/internal/platform/redis"
	"contramind/pkg/platform/circuit"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, wires the modules and runs the HTTP server next to
// the anchor scheduler until a signal arrives.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("contramind stopped", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	params   paramsservice.Store
	ledger   ledgerStore
	keys     attestor.KeyStore
	anchors  anchor.Store
	anchorTx anchor.TxRunner
	checks   map[string]httpapi.HealthCheck
	closers  []func() error
}

// ledgerStore is satisfied by both ledger backends.
type ledgerStore interface {
	ports.Ledger
	anchor.Ledger
	decision.LedgerReader
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range st.closers {
			_ = closeFn()
		}
	}()

	locker, err := openLocker(ctx, cfg, log, st)
	if err != nil {
		return err
	}

	m := metrics.New()

	params := paramsservice.New(st.params, paramsservice.WithLogger(log))
	if cfg.ParamsFile != "" {
		contents, err := paramsservice.LoadSeedFile(cfg.ParamsFile)
		if err != nil {
			return err
		}
		if err := params.Seed(ctx, contents); err != nil {
			return fmt.Errorf("seed parameters: %w", err)
		}
	}

	signer := attestor.New(cfg.Attestor.Seed, st.keys,
		attestor.WithLogger(log),
		attestor.WithMetrics(attestormetrics.New(m.Registry)),
		attestor.WithSignTimeout(cfg.Attestor.SignTimeout),
	)
	if err := signer.Bootstrap(ctx, cfg.Attestor.ActiveKID, cfg.Attestor.RetiredKIDs); err != nil {
		return fmt.Errorf("bootstrap attestor: %w", err)
	}

	decisionMetrics := decisionmetrics.New(m.Registry)
	decisionOpts := []decision.Option{
		decision.WithLogger(log),
		decision.WithMetrics(decisionMetrics),
		decision.WithWaitTimeout(cfg.Decision.WaitTimeout),
		decision.WithLeaseTTL(cfg.Decision.LeaseTTL),
	}
	if cfg.Worldcheck.URL != "" {
		decisionOpts = append(decisionOpts, decision.WithOneBit(adapters.NewWorldcheckClient(
			cfg.Worldcheck.URL, cfg.Worldcheck.Timeout,
			adapters.WithBreaker(circuit.New("worldcheck")),
			adapters.WithWorldcheckLogger(log),
		)))
		log.Info("one-bit resolution enabled", "worldcheck_url", cfg.Worldcheck.URL)
	}
	coordinator := decision.New(params, st.ledger, signer, locker, decisionOpts...)
	replayer := decision.NewReplayer(st.ledger, params, log, decisionMetrics)

	anchorOpts := []anchor.Option{
		anchor.WithLogger(log),
		anchor.WithMetrics(anchormetrics.New(m.Registry)),
		anchor.WithBatchSize(cfg.Anchor.BatchSize),
		anchor.WithLeaseTTL(cfg.Anchor.LeaseTTL),
		anchor.WithTx(st.anchorTx),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := anchorpublisher.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.AnchorTopic, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.EnsureTopic(ctx, 1, -1); err != nil {
			log.Warn("could not ensure anchor topic", "topic", cfg.Kafka.AnchorTopic, "error", err)
		}
		anchorOpts = append(anchorOpts, anchor.WithPublisher(pub))
	}
	builder := anchor.New(st.ledger, st.anchors, signer, locker, anchorOpts...)
	scheduler := anchor.NewScheduler(builder, coordinator, signer, cfg.Anchor.Interval, cfg.Decision.PendingAfter, log)

	decisionHTTP := decisionhandler.New(coordinator, replayer, log)
	attestorHTTP := attestorhandler.New(signer, log)
	anchorHTTP := anchorhandler.New(builder, log)
	paramsHTTP := paramshandler.New(params, log)

	router := httpapi.NewRouter(httpapi.Routes{
		Public: []func(chi.Router){
			decisionHTTP.Register,
			attestorHTTP.Register,
			anchorHTTP.Register,
		},
		Admin: []func(chi.Router){
			paramsHTTP.Register,
			attestorHTTP.RegisterAdmin,
			anchorHTTP.RegisterAdmin,
			decisionHTTP.RegisterAdmin,
		},
		AdminToken: cfg.Server.AdminToken,
		Checks:     st.checks,
	}, m, log)
	if cfg.Server.AdminToken == "" {
		log.Warn("CM_ADMIN_TOKEN is empty; admin endpoints are disabled")
	}

	srv := httpserver.New(cfg.Server.Addr, router)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting contramind", "addr", cfg.Server.Addr, "active_kid", signer.Keys().ActiveKID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// openStores selects PostgreSQL when DATABASE_URL is set and in-memory stores
// otherwise.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is empty; using in-memory stores")
		return &stores{
			params:  paramsstore.NewInMemory(),
			ledger:  ledgerstore.NewInMemory(),
			keys:    attestorstore.NewInMemory(),
			anchors: anchorstore.NewInMemory(),
			checks:  map[string]httpapi.HealthCheck{},
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		log.Info("database migrated", "versions", applied)
	}
	return &stores{
		params:   paramsstore.NewPostgres(db),
		ledger:   ledgerstore.NewPostgres(db),
		keys:     attestorstore.NewPostgres(db),
		anchors:  anchorstore.NewPostgres(db),
		anchorTx: newAnchorPostgresTx(db),
		checks:   map[string]httpapi.HealthCheck{"postgres": pingDB(db)},
		closers:  []func() error{db.Close},
	}, nil
}

func openLocker(ctx context.Context, cfg config.Config, log *slog.Logger, st *stores) (lock.Locker, error) {
	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Warn("REDIS_URL is empty; leases are process-local")
		return lock.NewMemoryLocker(), nil
	}
	st.checks["redis"] = client.Health
	st.closers = append(st.closers, client.Close)
	return platformredis.NewLocker(client.Client), nil
}

func pingDB(db *sql.DB) httpapi.HealthCheck {
	return db.PingContext
}
