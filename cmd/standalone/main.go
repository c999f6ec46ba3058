package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"accountd/core"
	"accountd/core/providers"
	"accountd/storage"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	fx.New(
		fx.Provide(LoadConfig, NewLogger),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		StorageModule,
		CoreModule,
		ServerModule,
	).Run()
}

var StorageModule = fx.Options(
	fx.Provide(NewRepository, NewSessionStore),
)

var CoreModule = fx.Options(
	fx.Provide(
		NewCryptoService,
		NewProviders,
		NewSessionManager,
		core.NewAuthenticator,
		core.NewResolver,
		NewServer,
	),
)

var ServerModule = fx.Options(
	fx.Provide(NewEchoServer),
	fx.Invoke(StartServer),
)

func NewLogger(cfg *AppConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.Log.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

func NewRepository(lc fx.Lifecycle, cfg *AppConfig, logger *zap.Logger) (core.Repository, error) {
	var repo core.Repository

	switch strings.ToLower(cfg.DB.Type) {
	case "sqlite":
		sqliteRepo, err := storage.NewSQLiteRepository(cfg.DB.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		logger.Info("using SQLite database", zap.String("path", cfg.DB.SQLitePath))
		repo = sqliteRepo

	case "postgres":
		gormRepo, err := storage.NewPostgresRepository(cfg.DB.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL repository: %w", err)
		}
		logger.Info("using PostgreSQL database")
		repo = gormRepo

	case "mock":
		logger.Warn("using mock repository (in-memory) seeded with fixture accounts; do not use in production")
		return storage.NewMockRepository(), nil

	default:
		return nil, fmt.Errorf("unsupported DB type: %s (supported: sqlite, postgres, mock)", cfg.DB.Type)
	}

	if closer, ok := repo.(io.Closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})
	}
	return repo, nil
}

func NewSessionStore(lc fx.Lifecycle, cfg *AppConfig, logger *zap.Logger) (core.SessionStore, error) {
	switch strings.ToLower(cfg.Sessions.Type) {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		logger.Info("using Redis session store", zap.String("addr", cfg.Sessions.RedisAddr))
		return storage.NewRedisSessionStore(client), nil

	case "memory":
		logger.Info("using in-memory session store")
		return storage.NewMemorySessionStore(), nil

	default:
		return nil, fmt.Errorf("unsupported session store type: %s (supported: redis, memory)", cfg.Sessions.Type)
	}
}

func NewCryptoService(cfg *AppConfig) (*core.CryptoService, error) {
	crypto, err := core.NewCryptoService(cfg.Core.Crypto.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize crypto service: %w", err)
	}
	return crypto, nil
}

func NewProviders(cfg *AppConfig, logger *zap.Logger) map[core.Provider]core.AuthProvider {
	providerMap := make(map[core.Provider]core.AuthProvider)

	if cfg.Google != nil {
		providerMap[core.ProviderGoogle] = providers.NewGoogleProvider(cfg.Google)
	}
	if cfg.Twitter != nil {
		providerMap[core.ProviderTwitter] = providers.NewTwitterProvider(cfg.Twitter)
	}

	logger.Info("configured providers", zap.Strings("providers", getConfiguredProviders(providerMap)))
	return providerMap
}

func NewSessionManager(store core.SessionStore, cfg *AppConfig) *core.SessionManager {
	return core.NewSessionManager(store, cfg.Core.Session)
}

func NewServer(
	authenticator *core.Authenticator,
	resolver *core.Resolver,
	sessions *core.SessionManager,
	repo core.Repository,
	providerMap map[core.Provider]core.AuthProvider,
	cfg *AppConfig,
	logger *zap.Logger,
) *core.Server {
	return core.NewServer(authenticator, resolver, sessions, repo, providerMap, cfg.Core, logger)
}

func NewEchoServer(server *core.Server, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))

	server.RegisterRoutes(e)
	return e
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *AppConfig, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting accountd server", zap.String("port", cfg.Port))
			go func() {
				if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
					logger.Fatal("failed to start server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

func getConfiguredProviders(providerMap map[core.Provider]core.AuthProvider) []string {
	providerNames := make([]string, 0, len(providerMap))
	for provider := range providerMap {
		providerNames = append(providerNames, string(provider))
	}
	return providerNames
}
