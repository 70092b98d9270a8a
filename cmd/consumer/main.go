package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/container"
	"github.com/serroba/window-limiter/internal/messaging"
	"go.uber.org/zap"
)

func main() {
	opts := container.DefaultOptions()
	opts.RedisAddr = getEnv("REDIS_ADDR", opts.RedisAddr)
	opts.LogFormat = getEnv("LOG_FORMAT", opts.LogFormat)
	opts.ConsumerGroup = getEnv("CONSUMER_GROUP", opts.ConsumerGroup)

	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	injector := do.New()
	container.ConsumerPackages(injector, opts)

	logger := do.MustInvoke[*zap.Logger](injector)
	defer func() { _ = logger.Sync() }()

	group := do.MustInvoke[*messaging.ConsumerGroup](injector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := group.Start(ctx); err != nil {
		logger.Fatal("failed to start consumer group", zap.Error(err))
	}

	logger.Info("consumer started",
		zap.String("redis", opts.RedisAddr),
		zap.String("group", opts.ConsumerGroup),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultValue
}
