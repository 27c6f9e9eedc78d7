// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/database"
	"github.com/autobrr/shelf/internal/logger"
	"github.com/autobrr/shelf/internal/qbittorrent"
	"github.com/autobrr/shelf/internal/services/linker"
	"github.com/autobrr/shelf/internal/tracker"
)

// app holds what a command opened so it can be released in one place.
type app struct {
	cfg     *config.Config
	db      *database.DB
	logs    io.Closer
	service *linker.Service
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "", "Path to config file (defaults to ./config.toml, $XDG_CONFIG_HOME/shelf or /config)")
}

// openStore loads configuration, sets up logging and opens the database.
func openStore(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	logs, err := logger.Setup(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Path:       cfg.LogPath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Output:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "setup logger")
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		_ = logs.Close()
		return nil, errors.Wrapf(err, "open database %s", cfg.DatabasePath)
	}

	return &app{cfg: cfg, db: db, logs: logs}, nil
}

// openApp is openStore plus the tracker and every reachable client.
func openApp(cmd *cobra.Command, configPath string) (*app, error) {
	a, err := openStore(cmd, configPath)
	if err != nil {
		return nil, err
	}

	provider, err := tracker.NewClient(tracker.Config{
		URL:     a.cfg.Tracker.URL,
		MamID:   a.cfg.Tracker.MamID,
		Timeout: a.cfg.Tracker.Timeout,
		Retries: a.cfg.Tracker.Retries,
	})
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "create tracker client")
	}

	clients, err := connectClients(cmd.Context(), a.cfg.Clients)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service = linker.NewService(a.cfg, a.db, provider, clients...)
	return a, nil
}

// connectClients logs in to each configured client. Unreachable clients are
// skipped so one offline instance does not stop the rest.
func connectClients(ctx context.Context, cfgs []config.ClientConfig) ([]linker.TorrentClient, error) {
	clients := make([]linker.TorrentClient, 0, len(cfgs))
	for _, cc := range cfgs {
		client, err := qbittorrent.NewClient(ctx, cc)
		if err != nil {
			log.Warn().Err(err).Str("client", cc.Name).Msg("Skipping unreachable client")
			continue
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("no torrent client could be reached")
	}
	return clients, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
