package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crewshift/pinlock/internal/auth"
	"github.com/crewshift/pinlock/internal/background"
	"github.com/crewshift/pinlock/internal/config"
	"github.com/crewshift/pinlock/internal/database"
	"github.com/crewshift/pinlock/internal/handlers"
	middlewareCustom "github.com/crewshift/pinlock/internal/middleware"
	"github.com/crewshift/pinlock/internal/repositories"
	"github.com/crewshift/pinlock/internal/routes"
	"github.com/crewshift/pinlock/internal/services"
	pkghttp "github.com/crewshift/pinlock/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage_backend", cfg.Storage.Backend))

	// Initialize storage backend
	store, closeStore, db, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	repo := repositories.NewLockoutRepository(store)

	// Initialize services
	attemptStore := services.NewAttemptStore(repo, cfg.Lockout.AttemptRetention, logger)
	riskScorer := services.NewRiskScorer()
	auditSink := services.NewSlogAuditSink(logger)

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.Notify.Enabled {
		notifier, err = services.NewSESNotifier(cfg.Notify.AWSRegion, cfg.Notify.FromAddress, cfg.Notify.ManagerAddresses, logger)
		if err != nil {
			logger.Error("failed to initialize notifier", slog.Any("error", err))
			os.Exit(1)
		}
	}

	lockoutService := services.NewLockoutService(
		cfg.Lockout,
		attemptStore,
		riskScorer,
		repo,
		auditSink,
		notifier,
		logger,
	)
	defer lockoutService.Shutdown()

	// Restore persisted lockout state before accepting traffic
	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	lockoutService.Restore(restoreCtx)
	restoreCancel()

	// Override authority
	emergencyCodes := auth.NewEmergencyCodeSet(cfg.Lockout.EmergencyCodeHashes, cfg.Lockout.EmergencyTOTPSecret)
	managerVerifier := auth.NewManagerProofVerifier(cfg.Lockout.ManagerJWTSecret, cfg.Lockout.ManagerJWTAudience)
	overrideService := services.NewOverrideService(lockoutService, emergencyCodes, managerVerifier, auditSink, logger)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(lockoutService, logger, cfg.Lockout.CleanupInterval)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	lockoutHandler := handlers.NewLockoutHandler(lockoutService, overrideService, ipConfig, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, lockoutHandler)

	// Health check with storage backend
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := db.HealthCheck(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","storage":"down"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildStore wires the configured storage backend. The returned close
// function is safe to call once; db is non-nil only for postgres so the
// health endpoint can probe it.
func buildStore(cfg *config.Config, logger *slog.Logger) (repositories.KVStore, func(), *database.DB, error) {
	switch cfg.Storage.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := repositories.NewRedisKVStore(ctx, &cfg.Storage, cfg.Lockout.StatusRetention)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, func() { store.Close() }, nil, nil

	case "postgres":
		db, err := database.NewConnection(&cfg.Storage.Database, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return repositories.NewPostgresKVStore(db), func() { db.Close() }, db, nil

	default:
		return repositories.NewMemoryKVStore(), func() {}, nil, nil
	}
}
