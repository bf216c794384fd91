// cmd/server/main.go
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jason-s-yu/teamlobby/internal/auth"
	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/config"
	"github.com/jason-s-yu/teamlobby/internal/database"
	"github.com/jason-s-yu/teamlobby/internal/handlers"
	"github.com/jason-s-yu/teamlobby/internal/identity"
	"github.com/jason-s-yu/teamlobby/internal/lobby"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/store"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initAuth(cfg); err != nil {
		logger.Fatalf("auth init failed: %v", err)
	}

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage init failed: %v", err)
	}
	defer repo.Close()

	sessions, closeSessions, err := openSessions(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("session init failed: %v", err)
	}
	defer closeSessions()

	hub := broadcast.NewHub(logger)
	broadcaster := broadcast.NewBroadcaster(hub, logger)

	srv := handlers.NewServer(ctx, handlers.Deps{
		Lobbies:            lobby.NewService(repo, broadcaster, logger, cfg.PublicURL),
		Sessions:           sessions,
		Resolver:           identity.NewResolver(logger),
		Authorizer:         broadcast.NewAuthorizer(repo, logger),
		Hub:                hub,
		Logger:             logger,
		PublicURL:          cfg.PublicURL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		OriginPatterns:     cfg.WSOriginPatterns,
	})
	httpServer := srv.HTTPServer(cfg.Addr())

	go func() {
		logger.Infof("Running on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := broadcaster.Close(shutdownCtx); err != nil {
		logger.Warnf("broadcaster shutdown: %v", err)
	}
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// initAuth loads the account token verifier. Without key files it falls back to
// ephemeral keys, so only tokens minted by this process verify.
func initAuth(cfg config.Config) error {
	expiry, err := auth.ParseTokenExpiry(cfg.TokenExpireTime)
	if err != nil {
		return err
	}
	if cfg.JWTPublicKeyPath != "" {
		return auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, expiry)
	}
	return auth.Init(expiry)
}

func openRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Repository, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		repo, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", cfg.SQLitePath).Info("Opened sqlite database")
		return repo, nil
	case config.StorageMemory:
		logger.Warn("Using in-memory storage; lobbies are lost on restart")
		return store.NewMemory(), nil
	default:
		return database.ConnectDB(ctx, cfg.Postgres(), logger)
	}
}

func openSessions(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*session.Manager, func(), error) {
	hashKey, err := cfg.HashKey()
	if err != nil {
		return nil, nil, err
	}
	if hashKey == nil {
		hashKey = make([]byte, 32)
		if _, err := rand.Read(hashKey); err != nil {
			return nil, nil, err
		}
		logger.Warn("SESSION_HASH_KEY not set; sessions will not survive a restart")
	}
	blockKey, err := cfg.BlockKey()
	if err != nil {
		return nil, nil, err
	}

	var (
		backend session.Backend
		closer  = func() {}
	)
	switch cfg.SessionDriver {
	case config.SessionMemory:
		backend = session.NewMemoryBackend()
	default:
		rdb, err := session.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("addr", cfg.RedisAddr).Info("Connected to Redis")
		backend = session.NewRedisBackend(rdb, cfg.SessionTTL)
		closer = func() { _ = rdb.Close() }
	}
	return session.NewManager(backend, hashKey, blockKey, cfg.SessionTTL, cfg.SecureCookies), closer, nil
}
