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
	"github.com/sauravfouzdar/quorumfs/pkg/lock"
	"github.com/sauravfouzdar/quorumfs/pkg/node"
)

func main() {
	defaults := common.DefaultNodeConfig
	maxUpload := defaults.MaxUploadSize

	// Parse command line flags
	configPath := flag.String("config", "", "JSON config file, flags given on the command line override it")
	addr := flag.String("addr", defaults.Address, "Node listen address")
	storageRoot := flag.String("root", defaults.StorageRoot, "Storage root directory")
	peers := flag.String("peers", "", "Comma separated peer addresses replicated to when a request has no mode")
	timeout := flag.Duration("timeout", time.Duration(defaults.CallTimeout), "Per peer call timeout")
	pendingTTL := flag.Duration("pending-ttl", time.Duration(defaults.PendingTTL), "How long a proposed transaction waits for its commit")
	lockBackend := flag.String("lock-backend", defaults.LockBackend, "Path lock store for PREPARE requests: none, memory, redis or badger")
	lockTTL := flag.Duration("lock-ttl", time.Duration(defaults.LockTTL), "Path lock TTL")
	redisAddr := flag.String("redis", defaults.RedisAddress, "Redis address for the redis lock store")
	badgerDir := flag.String("badger-dir", defaults.BadgerDir, "Directory of the badger lock store")
	flag.TextVar(&maxUpload, "max-upload", defaults.MaxUploadSize, "Largest accepted upload, e.g. 64MB")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := newLogger(*logLevel)

	config := defaults
	if *configPath != "" {
		var err error
		if config, err = common.LoadNodeConfig(*configPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			config.Address = *addr
		case "root":
			config.StorageRoot = *storageRoot
		case "peers":
			config.Peers = common.SplitList(*peers)
		case "timeout":
			config.CallTimeout = common.Duration(*timeout)
		case "pending-ttl":
			config.PendingTTL = common.Duration(*pendingTTL)
		case "lock-backend":
			config.LockBackend = *lockBackend
		case "lock-ttl":
			config.LockTTL = common.Duration(*lockTTL)
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

	storage, err := node.NewStorageManager(config.StorageRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage root")
	}
	storage.SetLogger(logger.With().Str("component", "storage").Logger())

	// Create and start node
	srv := node.NewServer(config, storage, logger)
	if config.LockBackend != "" && config.LockBackend != "none" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		locks, err := lock.Open(ctx, config.LockBackend, config.RedisAddress, config.BadgerDir, logger)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("backend", config.LockBackend).Msg("failed to open lock store")
		}
		srv.SetLocks(locks)
	}
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start node")
	}

	// signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("node stopped")
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
		Str("service", "node").
		Logger()
}
