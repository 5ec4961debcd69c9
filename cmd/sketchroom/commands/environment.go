// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/sketchroom/sketchroom/lib/config"
	"github.com/sketchroom/sketchroom/lib/secret"
	"github.com/sketchroom/sketchroom/persist"
	"github.com/sketchroom/sketchroom/store"
	"github.com/sketchroom/sketchroom/store/dropbox"
	"github.com/sketchroom/sketchroom/store/redisstore"
	"github.com/sketchroom/sketchroom/store/sqlitestore"
)

// configFlags are the flags every command that touches the store
// accepts.
type configFlags struct {
	path string
}

func (f *configFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.path, "config", "", "path to sketchroom.yaml (default: $SKETCHROOM_CONFIG)")
}

// environment is what a command needs to reach a room: validated
// configuration, a logger, and a persister over the configured
// backend.
type environment struct {
	config    *config.Config
	logger    *slog.Logger
	backend   store.Backend
	persister *persist.Persister
	closers   []func() error
}

// openEnvironment loads configuration and connects the configured
// storage backend.
func openEnvironment(flags configFlags) (*environment, error) {
	cfg, err := config.Resolve(flags.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return newEnvironment(cfg, cfg.Log.NewLogger(os.Stderr))
}

func newEnvironment(cfg *config.Config, logger *slog.Logger) (*environment, error) {
	env := &environment{config: cfg, logger: logger}

	backend, err := env.openBackend()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.backend = backend

	env.persister, err = persist.New(persist.Options{
		Backend:     backend,
		RoomsFolder: cfg.Storage.RoomsFolder,
		Compression: cfg.Client.Compression,
		Attempts:    cfg.Client.SaveRetries,
		Logger:      logger,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (e *environment) openBackend() (store.Backend, error) {
	storage := e.config.Storage
	switch storage.Backend {
	case config.BackendMemory:
		e.logger.Warn("using the in-memory store; rooms live only as long as this process")
		return store.NewMemory(store.MemoryOptions{}), nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(storage.SQLite.Path), 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		backend, err := sqlitestore.Open(sqlitestore.Options{
			Path:     storage.SQLite.Path,
			PoolSize: storage.SQLite.PoolSize,
			Retain:   storage.SQLite.Retain,
			Logger:   e.logger,
		})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, backend.Close)
		return backend, nil

	case config.BackendRedis:
		options := &redis.Options{
			Addr: storage.Redis.Address,
			DB:   storage.Redis.DB,
		}
		if storage.Redis.PasswordFile != "" {
			password, err := secret.ReadFromPath(storage.Redis.PasswordFile)
			if err != nil {
				return nil, fmt.Errorf("reading redis password: %w", err)
			}
			options.Password = password.String()
			password.Close()
		}
		client := redis.NewClient(options)
		e.closers = append(e.closers, client.Close)
		return redisstore.New(redisstore.Options{
			Client:       client,
			Prefix:       storage.Redis.Prefix,
			StreamLength: storage.Redis.StreamLength,
			Logger:       e.logger,
		})

	case config.BackendDropbox:
		token, err := secret.ReadFromPath(storage.Dropbox.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading dropbox token: %w", err)
		}
		e.closers = append(e.closers, token.Close)
		return dropbox.New(dropbox.Config{
			APIURL:     storage.Dropbox.APIURL,
			ContentURL: storage.Dropbox.ContentURL,
			NotifyURL:  storage.Dropbox.NotifyURL,
			Token:      token,
			Logger:     e.logger,
		})

	default:
		return nil, fmt.Errorf("unknown storage backend %q", storage.Backend)
	}
}

// Close releases backend connections and credentials.
func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
