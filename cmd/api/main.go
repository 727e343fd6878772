package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stepguard/server/internal/auth"
	"github.com/stepguard/server/internal/config"
	"github.com/stepguard/server/internal/db"
	httphandler "github.com/stepguard/server/internal/http"
	"github.com/stepguard/server/internal/http/handlers"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/middleware"
	"github.com/stepguard/server/internal/notify"
	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

const (
	// per-IP throttle on /auth, independent of the per-account login limit
	ipWindow      = 10 * time.Minute
	ipMaxRequests = 60
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "source", "main", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "source", "main", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	userRepo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var locator risk.Locator
	if cfg.GeoIPCityDB != "" {
		geo, err := risk.OpenGeoIP(cfg.GeoIPCityDB)
		if err != nil {
			return fmt.Errorf("open geoip database: %w", err)
		}
		defer geo.Close()
		locator = geo
		logger.Info("geoip enabled", "source", "main", "path", cfg.GeoIPCityDB)
	} else {
		logger.Warn("GEOIP_CITY_DB not set, every location resolves to unknown", "source", "main")
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewService(
		userRepo,
		auth.NewBcryptHasher(cfg.BcryptCost),
		jwtService,
		newNotifier(cfg, logger),
		auth.NewOTPManager(cfg.OTP.Salt, cfg.OTP.TTL, cfg.OTP.MaxAttempts),
		risk.NewAssessor(cfg.Risk),
		auth.Options{
			RateLimitWindow:      cfg.RateLimit.Window,
			RateLimitMaxAttempts: cfg.RateLimit.MaxAttempts,
			HistorySize:          cfg.RateLimit.HistorySize,
		},
		logger,
	)

	authHandler := handlers.NewAuthHandler(authService, risk.NewExtractor(locator, cfg.TrustedProxies), logger)

	ipLimiter := middleware.NewRateLimiter(ipWindow, ipMaxRequests)
	defer ipLimiter.Stop()

	router := httphandler.NewRouter(authHandler, jwtService, userRepo, ipLimiter, cfg.TrustedProxies, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "source", "main", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server", "source", "main")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited", "source", "main")
	return nil
}

// openStore connects the configured user store and returns its close function
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.UserRepo, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		database, err := db.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(database); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return repo.NewPostgresUserRepo(database), closer(database, logger), nil

	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("redis connected", "source", "main", "addr", opts.Addr, "db", opts.DB)
		return repo.NewRedisUserRepo(client), closer(client, logger), nil

	default:
		logger.Warn("using in-memory store, data is lost on restart", "source", "main")
		return repo.NewMemoryUserRepo(), func() {}, nil
	}
}

func closer(c io.Closer, logger *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Error("close store", "source", "main", "error", err)
		}
	}
}

// newNotifier picks SMTP when configured, else logs codes (dev mode or no relay)
func newNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	switch {
	case cfg.OTP.DevMode:
		logger.Warn("OTP_DEV_MODE enabled, codes are logged instead of sent", "source", "main")
		return notify.NewLogNotifier(logger)
	case cfg.SMTP.Host != "":
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	default:
		logger.Warn("SMTP_HOST not set, OTP delivery disabled; signup falls back to returning the code", "source", "main")
		return nil
	}
}
