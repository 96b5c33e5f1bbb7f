package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/sift-ai/gatewatch/internal/api"
	"github.com/sift-ai/gatewatch/internal/auth"
	"github.com/sift-ai/gatewatch/internal/chread"
	"github.com/sift-ai/gatewatch/internal/config"
	"github.com/sift-ai/gatewatch/internal/filter"
	"github.com/sift-ai/gatewatch/internal/storage"
	"github.com/sift-ai/gatewatch/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("GATEWATCH_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("GATEWATCH_HTTP_PORT", "8080")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	cacheTTL := envOrDefaultInt("GATEWATCH_AUTH_CACHE_TTL_S", 30)

	logger.Info("starting gatewatch server",
		zap.String("http_port", httpPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool (tenants, config history, profile snapshots)
	var pgStore *store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, running without persistence")
	}

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		var err error
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Active configuration: latest persisted version, defaults otherwise.
	cfg := config.Default()
	if pgStore != nil {
		stored, err := pgStore.LatestConfig(context.Background())
		if err != nil {
			logger.Fatal("failed to load configuration", zap.Error(err))
		}
		if stored != nil {
			loaded, err := config.Decode(stored.Config)
			if err != nil {
				logger.Fatal("persisted configuration is invalid",
					zap.Int("version", stored.Version),
					zap.Error(err),
				)
			}
			loaded.Version = stored.Version
			cfg = loaded
			logger.Info("loaded persisted configuration", zap.Int("version", stored.Version))
		}
	}

	// Persistence hooks
	var persist filter.ConfigPersister
	var saver *store.ProfileSaver
	if pgStore != nil {
		persist = func(c *config.Config, reason string) {
			raw, err := json.Marshal(c)
			if err != nil {
				logger.Error("failed to encode configuration", zap.Error(err))
				return
			}
			go func() {
				saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := pgStore.SaveConfig(saveCtx, c.Version, raw, reason); err != nil {
					logger.Error("failed to persist configuration",
						zap.Int("version", c.Version),
						zap.Error(err),
					)
				}
			}()
		}
		saver = store.NewProfileSaver(pgStore, logger)
		go saver.Run(ctx)
	}

	// Filter core
	opts := filter.Options{
		Config: cfg,
		Writer: writer,
		Logger: logger,
	}
	if pgStore != nil {
		opts.Persist = persist
		opts.Snapshot = saver.Enqueue
	}
	svc, err := filter.NewService(opts)
	if err != nil {
		logger.Fatal("failed to build filter service", zap.Error(err))
	}

	// Warm the trust store from persisted snapshots.
	if pgStore != nil {
		profiles, err := pgStore.LoadProfiles(context.Background())
		if err != nil {
			logger.Warn("failed to load trust profiles", zap.Error(err))
		} else {
			for _, p := range profiles {
				svc.Trust().Restore(p)
			}
			logger.Info("trust profiles restored", zap.Int("count", len(profiles)))
		}
	}

	// Background effectiveness adjustment
	go svc.Learner().Run(ctx)

	// Auth — Postgres-backed when available, static dev tenant otherwise
	var authenticator auth.Authenticator
	if pgStore != nil {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       pgStore.DB(),
			CacheTTL: time.Duration(cacheTTL) * time.Second,
			Logger:   logger,
		})
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Warn("using static dev authenticator")
	}

	deps := &api.Dependencies{
		Filter: svc,
		Auth:   authenticator,
		Store:  pgStore,
		Reader: chReader,
		Logger: logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("received signal, shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("gatewatch server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
