package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"itam-api/internal"
	"itam-api/internal/assets"
	"itam-api/internal/attachments"
	"itam-api/internal/auth"
	"itam-api/internal/blob"
	"itam-api/internal/config"
	"itam-api/internal/handlers"
	"itam-api/internal/ledger"
	"itam-api/internal/logger"
	"itam-api/internal/maintenance"
	"itam-api/internal/metrics"
	"itam-api/internal/notify"
	"itam-api/internal/store"
	"itam-api/internal/store/memory"
	"itam-api/internal/store/postgres"
	"itam-api/internal/tenancy"
	"itam-api/internal/users"
	"itam-api/internal/warranty"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is fine; the environment wins either way
	_ = godotenv.Load()

	// Load and validate configuration
	cfg, err := config.LoadAndValidate()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := blob.NewDir(cfg.BlobDir)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	reg := tenancy.NewRegistry(st, lg, m)
	atts := attachments.NewService(st, reg, blobs, lg)
	outbox := notify.NewOutbox()
	assetSvc := assets.NewService(st, reg, ledger.New(), atts, outbox, lg, m)
	engine := warranty.NewEngine(st, outbox, lg, m)

	var scheduler *warranty.Scheduler
	if cfg.WarrantyScanEnabled {
		var locker warranty.Locker
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()
			locker = warranty.NewRedisLocker(rdb, "itam:warranty-scan")
		}
		if scheduler, err = warranty.NewScheduler(engine, cfg.WarrantyScanSchedule, locker, 0, lg); err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := scheduler.Stop(stopCtx); err != nil {
				lg.Warn("warranty scheduler stop", zap.Error(err))
			}
		}()
	}

	var pub notify.Publisher = notify.NewLogPublisher(lg)
	if cfg.AMQPURL != "" {
		amqpPub, err := notify.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		pub = amqpPub
	}
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = notify.NewRelay(st, pub, cfg.NotifyPollInterval, lg, m).Run(ctx)
	}()

	srv := internal.NewServer(internal.Deps{
		Tenants:        reg,
		Assets:         assetSvc,
		Maintenance:    maintenance.NewService(st, assetSvc, atts, outbox, lg, m),
		Attachments:    atts,
		Users:          users.NewService(st, reg, lg),
		Warranty:       engine,
		Scheduler:      scheduler,
		Inbox:          notify.NewInbox(st),
		Imports:        handlers.NewImportsHandler(assetSvc, cfg.ImportMapping, lg),
		JWTManager:     auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry),
		Metrics:        m,
		Log:            lg,
		EnableMetrics:  cfg.EnableMetrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lg.Info("starting ITAM API server",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.StoreDriver),
		zap.String("jwt_issuer", cfg.JWTIssuer),
		zap.String("jwt_audience", cfg.JWTAudience),
		zap.Duration("jwt_expiry", cfg.JWTExpiry),
		zap.Bool("warranty_scan", cfg.WarrantyScanEnabled),
		zap.Bool("amqp", cfg.AMQPURL != ""))

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		<-relayDone
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = httpSrv.Shutdown(shutdownCtx)
	<-relayDone
	return err
}

func openStore(ctx context.Context, cfg *config.Config, lg *zap.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		lg.Warn("using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	applied, err := postgres.Migrate(ctx, pg.DB())
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	if len(applied) > 0 {
		lg.Info("migrations applied", zap.Strings("files", applied))
	}
	return pg, pg.Close, nil
}
