package main

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/iliyamo/lmeve2/internal/config"
	"github.com/iliyamo/lmeve2/internal/logging"
	"github.com/iliyamo/lmeve2/internal/settings"
)

// env is what every non-serving subcommand needs: configuration, a logger
// and the settings cascade.
type env struct {
	cfg      config.Config
	logger   *log.Logger
	closer   io.Closer
	resolver *settings.Resolver
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	dir, err := settings.ResolveDir(cfg.StorageDir)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &env{
		cfg:      cfg,
		logger:   logger,
		closer:   closer,
		resolver: settings.NewResolver(settings.NewFileStore(dir), settings.BuiltinDefaults),
	}, nil
}
