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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/repository"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	"github.com/noah-isme/lxc-ledger-api/pkg/cache"
	"github.com/noah-isme/lxc-ledger-api/pkg/config"
	"github.com/noah-isme/lxc-ledger-api/pkg/database"
	"github.com/noah-isme/lxc-ledger-api/pkg/logger"
	"github.com/noah-isme/lxc-ledger-api/pkg/storage"
)

// @title LXC Ledger API
// @version 1.0.0
// @description Classroom scoring ledger: grants, balances per bimester, tiers and badges.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.NewMigrator(db, logger.Component(logr, "migrator")).Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		if cfg.Cache.Enabled {
			logr.Warn("redis unavailable, ranking cache disabled", zap.Error(err))
		}
		cfg.Cache.Enabled = false
	} else {
		defer redisClient.Close()
	}

	backupStore, err := storage.NewLocalStorage(cfg.Backups.StorageDir)
	if err != nil {
		return fmt.Errorf("init backup storage: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	levelRepo := repository.NewLevelRepository(db)
	stateRepo := repository.NewStateRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, cfg.Sync.ConflictRetries, logger.Component(logr, "ledger_repository"))

	var rankingStore service.RankingStore
	if redisClient != nil {
		rankingStore = repository.NewRankingCacheRepository(redisClient, logger.Component(logr, "ranking_cache"))
	}
	rankings := service.NewRankingCache(rankingStore, metrics, cfg.Cache.TTL, logger.Component(logr, "ranking_cache"), cfg.Cache.Enabled)

	store := ledger.NewMemoryStore()
	catalogSvc := service.NewCatalogService(catalogRepo, validate, logger.Component(logr, "catalog"))
	levelSvc := service.NewLevelService(levelRepo, validate, metrics, logger.Component(logr, "levels"))
	syncSvc := service.NewSyncService(ledgerRepo, stateRepo, metrics, logger.Component(logr, "sync"), service.SyncConfig{
		Async:          cfg.Sync.Async,
		QueueSize:      cfg.Sync.QueueSize,
		Retries:        cfg.Sync.Retries,
		RetryDelay:     cfg.Sync.RetryDelay,
		ReloadInterval: cfg.Sync.ReloadInterval,
	}, store, catalogSvc, levelSvc)

	if _, err := syncSvc.Load(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	book := ledger.New(store, catalogSvc, ledger.Options{
		SystemActor: cfg.Ledger.SystemActor,
		BadgePolicy: ledger.BadgePolicy(cfg.Ledger.ManualBadgePolicy),
		Logger:      logger.Component(logr, "ledger"),
	})

	authSvc := service.NewAuthService(userRepo, validate, logger.Component(logr, "auth"), service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lxc-ledger-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logger.Component(logr, "users"))
	rosterSvc := service.NewRosterService(store, schoolRepo, classRepo, validate, logger.Component(logr, "roster"))
	studentSvc := service.NewStudentService(studentRepo, store, syncSvc, rankings, validate, logger.Component(logr, "students"))
	ledgerSvc := service.NewLedgerService(service.LedgerServiceConfig{
		Ledger:          book,
		Store:           store,
		Catalog:         catalogSvc,
		Levels:          levelSvc,
		Sync:            syncSvc,
		Durable:         ledgerRepo,
		Rankings:        rankings,
		Metrics:         metrics,
		Validator:       validate,
		Logger:          logger.Component(logr, "ledger_service"),
		DefaultBimester: cfg.Ledger.DefaultBimester,
	})
	exportSvc := service.NewExportService(ledgerSvc, logger.Component(logr, "exports"), nil, nil)
	snapshotSvc := service.NewSnapshotService(service.SnapshotServiceConfig{
		Store:     store,
		Catalog:   catalogSvc,
		Levels:    levelSvc,
		Repo:      stateRepo,
		Users:     userRepo,
		Sync:      syncSvc,
		Rankings:  rankings,
		Storage:   backupStore,
		Signer:    storage.NewSignedURLSigner(cfg.Backups.SignedURLSecret, cfg.Backups.SignedURLTTL),
		Consumers: []service.StateConsumer{store, catalogSvc, levelSvc},
		Logger:    logger.Component(logr, "snapshot"),
		Config:    service.SnapshotConfig{APIPrefix: cfg.APIPrefix, Retention: cfg.Backups.Retention},
	})

	if created, err := userSvc.EnsureBootstrapAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.FullName); err != nil {
		logr.Warn("bootstrap admin not created", zap.Error(err))
	} else if created {
		logr.Info("bootstrap admin created", zap.String("email", cfg.Admin.Email))
	}

	syncSvc.Start(ctx)
	defer syncSvc.Stop()
	go snapshotSvc.RunCleanup(ctx, cfg.Backups.CleanupInterval)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, logr, routeDeps{
		auth:      authSvc,
		audit:     userRepo,
		metrics:   metrics,
		users:     userSvc,
		roster:    rosterSvc,
		students:  studentSvc,
		catalog:   catalogSvc,
		levels:    levelSvc,
		ledger:    ledgerSvc,
		exports:   exportSvc,
		snapshots: snapshotSvc,
		sync:      syncSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down", zap.Int("pending_batches", syncSvc.Pending()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
