package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/driftchat/synchub"
)

// newLogger builds the process logger from the [log] section.
func newLogger(cfg ConfigLog) (*logrus.Logger, error) {
	logger := logrus.New()
	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if err := applyLogLevel(logger, cfg.Level); err != nil {
		return nil, err
	}
	return logger, nil
}

func applyLogLevel(logger *logrus.Logger, level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logger.SetLevel(lvl)
	return nil
}

// buildIndex creates the context index selected by the [index] section. The
// returned func releases its resources.
func buildIndex(ctx context.Context, cfg ConfigIndex) (synchub.ContextIndex, func(), error) {
	retention, err := cfg.retention()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case "", "memory":
		return synchub.NewMemoryContextIndex(retention), func() {}, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("index.redis_addr is required for the redis backend")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		return synchub.NewRedisContextIndex(client, retention), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q (valid: memory, redis)", cfg.Backend)
	}
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
