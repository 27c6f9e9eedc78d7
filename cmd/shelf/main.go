// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autobrr/shelf/internal/buildinfo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "shelf",
		Short: "Link finished audiobook and ebook torrents into a library",
		Long: `shelf watches qBittorrent for completed torrents, fetches their metadata
from the tracker and hard links, symlinks or copies the wanted files into an
Author/Series/Title library layout.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.AddCommand(
		RunServeCommand(),
		RunLinkCommand(),
		RunRelinkCommand(),
		RunRefreshCommand(),
		RunCleanCommand(),
		RunSelectCommand(),
		RunEventsCommand(),
		RunErrorsCommand(),
		RunVersionCommand(),
	)

	return root
}
