package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
	"github.com/sauravfouzdar/quorumfs/pkg/dispatcher"
)

func main() {
	defaults := common.DefaultDispatcherConfig
	maxUpload := defaults.MaxUploadSize

	// Parse command line flags
	configPath := flag.String("config", "", "JSON config file, flags given on the command line override it")
	addr := flag.String("addr", defaults.Address, "Dispatcher listen address")
	nodes := flag.String("nodes", "", "Comma separated node addresses")
	timeout := flag.Duration("timeout", time.Duration(defaults.CallTimeout), "Per node call timeout")
	lockTTL := flag.Duration("lock-ttl", time.Duration(defaults.LockTTL), "Path lock TTL")
	lockBackend := flag.String("lock-backend", defaults.LockBackend, "Lock store: memory, redis or badger")
	redisAddr := flag.String("redis", defaults.RedisAddress, "Redis address for the redis lock store")
	badgerDir := flag.String("badger-dir", defaults.BadgerDir, "Directory of the badger lock store")
	flag.TextVar(&maxUpload, "max-upload", defaults.MaxUploadSize, "Largest accepted upload, e.g. 64MB")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := newLogger(*logLevel)

	config := defaults
	if *configPath != "" {
		var err error
		if config, err = common.LoadDispatcherConfig(*configPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			config.Address = *addr
		case "nodes":
			config.Nodes = common.SplitList(*nodes)
		case "timeout":
			config.CallTimeout = common.Duration(*timeout)
		case "lock-ttl":
			config.LockTTL = common.Duration(*lockTTL)
		case "lock-backend":
			config.LockBackend = *lockBackend
		case "redis":
			config.RedisAddress = *redisAddr
		case "badger-dir":
			config.BadgerDir = *badgerDir
		case "max-upload":
			config.MaxUploadSize = maxUpload
		}
	})

	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	locks, err := dispatcher.OpenLockService(ctx, config, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("backend", config.LockBackend).Msg("failed to open lock store")
	}

	// Create and start dispatcher
	d, err := dispatcher.NewDispatcher(config, locks, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create dispatcher")
	}
	if err := d.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start dispatcher")
	}

	// signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("dispatcher stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "dispatcher").
		Logger()
}
