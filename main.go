package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/pliu/quasar-chat/internal/auth"
	"github.com/pliu/quasar-chat/internal/config"
	"github.com/pliu/quasar-chat/internal/handlers"
	"github.com/pliu/quasar-chat/internal/server"
	"github.com/pliu/quasar-chat/internal/service"
	"github.com/pliu/quasar-chat/internal/store/sqlstore"
	"github.com/pliu/quasar-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := initLogger(cfg)

	store, err := sqlstore.New(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database",
			slog.String("driver", cfg.DBDriver),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := ws.NewHub(logger)
	go hub.Run(hubCtx)

	hasher := auth.NewHasher(cfg.BcryptCost)
	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)
	opts := service.Options{
		Logger:           logger,
		Publisher:        hub,
		Paging:           service.Paging{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize},
		EnforceOwnership: cfg.EnforceOwnership,
	}
	users := service.NewUserService(store, hasher, auth.NewAvatarResolver(cfg.AvatarSize), tokens, opts)
	messages := service.NewMessageService(store, tokens, cfg.MaxMessageLength, opts)
	authn, err := service.NewAuthenticator(store, hasher, tokens, logger)
	if err != nil {
		logger.Error("failed to initialize authenticator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := handlers.NewRouter(handlers.Deps{
		Users:       users,
		Messages:    messages,
		Auth:        authn,
		Store:       store,
		Hub:         hub,
		Dispatcher:  ws.NewDispatcher(users, messages, authn),
		Logger:      logger,
		CORSOrigins: cfg.GetCORSAllowedOrigins(),
		StaticDir:   cfg.StaticDir,
	})

	srv := server.New(router, cfg.AppPort, cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout, logger)
	// Hijacked websocket connections are not closed by http.Server.Shutdown.
	srv.OnShutdown("websocket hub", func(context.Context) error {
		stopHub()
		return nil
	})

	logger.Info("starting server",
		slog.Int("port", cfg.AppPort),
		slog.String("env", cfg.AppEnv),
		slog.String("driver", cfg.DBDriver),
		slog.Bool("enforce_ownership", cfg.EnforceOwnership),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactURL hides the password of a URL-style DSN. Other DSNs are returned
// unchanged.
func redactURL(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
