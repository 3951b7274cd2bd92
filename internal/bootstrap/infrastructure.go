package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

// ProvideRedisClient returns nil when redis is not configured; the
// question cache degrades to pass-through.
func ProvideRedisClient(cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// ProvideDatabase returns nil without a DSN; questions then come from
// the built-in static set.
func ProvideDatabase(cfg *Config) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		return nil, nil
	}
	return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// ProvideTokenSource authenticates against the interview backend with
// client credentials, or a static token when no OAuth2 client is set.
func ProvideTokenSource(cfg *Config) oauth2.TokenSource {
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		return cc.TokenSource(context.Background())
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.ServiceToken})
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideRedisClient,
		ProvideDatabase,
		ProvideTokenSource,
	),
)
