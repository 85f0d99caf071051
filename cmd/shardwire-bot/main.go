// Main package for the default shardwire bot: connects every configured shard and
// answers with the built-in handlers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sessamekesh/shardwire/pkg/config"
	"github.com/sessamekesh/shardwire/pkg/handlers"
	"github.com/sessamekesh/shardwire/pkg/rest"
	"github.com/sessamekesh/shardwire/pkg/shard"
	"github.com/sessamekesh/shardwire/pkg/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or TOML config file. Defaults plus DISCORD_TOKEN are used if empty")
	flag.Parse()

	if dotenvErr := godotenv.Load(); dotenvErr != nil && !os.IsNotExist(dotenvErr) {
		fmt.Printf("Failed to load .env file! %s", dotenvErr.Error())
	}

	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		logger.Error("Failed to load configuration", zap.String("path", *configPath), zap.Error(err))
		os.Exit(1)
	}

	if cfg.Logging.Level != "" {
		level, levelErr := zapcore.ParseLevel(cfg.Logging.Level)
		if levelErr != nil {
			logger.Warn("Ignoring unparseable log level", zap.String("level", cfg.Logging.Level), zap.Error(levelErr))
		} else {
			logger = logger.WithOptions(zap.IncreaseLevel(level))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// Handlers
	restClient := rest.NewHTTPClient(rest.HTTPClientParams{
		BaseURL: cfg.Rest.BaseURL,
		Token:   cfg.Gateway.Token,
		Logger:  logger,
	})

	registry := handlers.NewRegistry()
	if cfg.Commands.PingPong {
		if _, err := registry.AddMessageHandler(handlers.PingPongHandler{}); err != nil {
			logger.Error("Failed to register ping handler", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Commands.Echo {
		if _, err := registry.AddMessageHandler(handlers.EchoHandler{}); err != nil {
			logger.Error("Failed to register echo handler", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Commands.Prefix != "" {
		router := handlers.NewCommandRouter(cfg.Commands.Prefix, cfg.Commands.CaseSensitive)
		if err := handlers.RegisterBuiltinCommands(router); err != nil {
			logger.Error("Failed to register built-in commands", zap.Error(err))
			os.Exit(1)
		}
		if _, err := registry.AddMessageHandler(router); err != nil {
			logger.Error("Failed to register command router", zap.Error(err))
			os.Exit(1)
		}
	}
	registry.Register(handlers.Category_Ready, handlers.HandlerFunc(func(ctx context.Context, hctx *handlers.Context, event *handlers.Event) error {
		hctx.Logger.Info("Shard ready", zap.Int64("seq", event.Seq))
		return nil
	}))

	dispatcher := handlers.NewDispatcher(handlers.DispatcherParams{
		Registry:   registry,
		Rest:       restClient,
		ShardCount: cfg.Gateway.ShardCount,
		Logger:     logger,
	})

	//
	// Shards
	manager := shard.NewManager(shard.ManagerParams{
		Token:                cfg.Gateway.Token,
		Intents:              cfg.Gateway.Intents,
		GatewayURL:           cfg.Gateway.URL,
		Compress:             cfg.Gateway.Compress,
		LargeThreshold:       cfg.Gateway.LargeThreshold,
		Presence:             cfg.PresenceUpdate(),
		IdentifyInterval:     cfg.Gateway.IdentifyInterval,
		MaxReconnectAttempts: cfg.Gateway.MaxReconnectAttempts,
		BackoffBase:          cfg.Gateway.BackoffBase,
		BackoffMax:           cfg.Gateway.BackoffMax,
		DispatchBuffer:       cfg.Gateway.DispatchBuffer,
		ShutdownGrace:        cfg.Gateway.ShutdownGrace,
		Dialer:               transport.CreateWebsocketDialer(transport.WebsocketDialerParams{Logger: logger}),
		Dispatcher:           dispatcher,
		Logger:               logger,
	})

	if err := manager.Start(ctx, cfg.Gateway.ShardCount); err != nil {
		logger.Error("Failed to start shards", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Shards started", zap.Int("shardCount", cfg.Gateway.ShardCount), zap.Uint64("intents", uint64(cfg.Gateway.Intents)))

	go func() {
		for {
			select {
			case f := <-manager.Failures():
				if f.Restarting {
					logger.Warn("Shard failed, restarting", zap.Int("shardId", f.ShardID), zap.Error(f.Err))
				} else {
					logger.Error("Shard stopped permanently", zap.Int("shardId", f.ShardID), zap.Error(f.Err))
				}
			case <-manager.Done():
				return
			}
		}
	}()

	signalled := awaitShutdown(ctx, manager.Done())
	if signalled {
		logger.Info("Shutting down")
	} else {
		logger.Error("Every shard has stopped, exiting")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownGrace+cfg.Gateway.ShutdownGrace/2)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shards did not stop cleanly", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("Handlers still running at exit", zap.Error(err))
	}
	for _, s := range manager.Status() {
		logger.Info("Final shard status",
			zap.Int("shardId", s.ShardID),
			zap.String("state", s.State),
			zap.Int64("lastSequence", s.LastSequence),
			zap.Int("restarts", s.Restarts))
	}

	if !signalled {
		logger.Sync()
		os.Exit(1)
	}
}

// awaitShutdown blocks until a stop signal arrives or every shard has exited on its
// own, and reports which one happened.
func awaitShutdown(ctx context.Context, shardsDone <-chan struct{}) (signalled bool) {
	select {
	case <-ctx.Done():
		return true
	case <-shardsDone:
		return false
	}
}
