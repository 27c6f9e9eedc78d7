// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/shelf/internal/buildinfo"
	"github.com/autobrr/shelf/internal/dbinterface"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/services/linker"
)

func RunServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run link cycles on an interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Str("version", buildinfo.Version).
				Dur("interval", a.cfg.Interval).
				Bool("watch", a.cfg.Watch).
				Msg("Starting shelf")

			return linker.NewScheduler(a.service, a.cfg).Run(cmd.Context())
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func RunLinkCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Run a single link cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.LinkTorrentsToLibrary(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "link cycle")
			}

			cmd.Printf("Seen: %d  Linked: %d  Updated: %d  Errored: %d  Missing: %d\n",
				result.Seen, result.Linked, result.Updated, result.Errored, result.Missing)
			if result.ClientErrs > 0 {
				cmd.Printf("Clients failed: %d\n", result.ClientErrs)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func RunRelinkCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "relink <hash>",
		Short: "Link a tracked torrent again from its stored metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.Relink(cmd.Context(), args[0]); err != nil {
				return errors.Wrapf(err, "relink %s", args[0])
			}
			cmd.Printf("Relinked %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func RunRefreshCommand() *cobra.Command {
	var (
		configPath string
		relink     bool
	)

	cmd := &cobra.Command{
		Use:   "refresh <hash>",
		Short: "Fetch fresh tracker metadata for a tracked torrent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var result *linker.RefreshResult
			if relink {
				result, err = a.service.RefreshAndRelink(cmd.Context(), args[0])
			} else {
				result, err = a.service.RefreshMetadata(cmd.Context(), args[0])
			}
			if err != nil {
				return errors.Wrapf(err, "refresh %s", args[0])
			}

			if !result.Changed() {
				cmd.Println("Metadata unchanged.")
			}
			for _, f := range result.Fields {
				cmd.Printf("  %s: %q -> %q\n", f.Field, f.From, f.To)
			}
			if result.Relinked {
				cmd.Println("Library location updated.")
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&relink, "relink", false, "Relink when the library location changes")
	return cmd
}

func RunCleanCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clean <hash>",
		Short: "Remove a torrent's files from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := linker.NewService(a.cfg, a.db, nil).Clean(cmd.Context(), args[0]); err != nil {
				return errors.Wrapf(err, "clean %s", args[0])
			}
			cmd.Printf("Cleaned %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func RunSelectCommand() *cobra.Command {
	var (
		configPath string
		title      string
		cost       string
		wedged     bool
	)

	cmd := &cobra.Command{
		Use:   "select <hash> <tracker-id>",
		Short: "Record a grabbed download so it links once complete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mamID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || mamID <= 0 {
				return errors.Errorf("invalid tracker id %q", args[1])
			}

			a, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			st := &models.SelectedTorrent{
				Hash:  args[0],
				MamID: mamID,
				Title: title,
				Cost:  cost,
			}
			if err := linker.NewService(a.cfg, a.db, nil).MarkSelected(cmd.Context(), st, wedged); err != nil {
				return errors.Wrapf(err, "select %s", args[0])
			}
			cmd.Printf("Selected %s (tracker id %d)\n", st.Hash, mamID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&title, "title", "", "Display title")
	cmd.Flags().StringVar(&cost, "cost", "", "What the grab cost, for the event log")
	cmd.Flags().BoolVar(&wedged, "wedged", false, "The grab used a freeleech wedge")
	return cmd
}

func RunEventsCommand() *cobra.Command {
	var (
		configPath string
		torrentID  string
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var events []*models.Event
			err = a.db.View(cmd.Context(), func(q dbinterface.Querier) error {
				store := models.NewEventStore(q)
				if torrentID != "" {
					events, err = store.ListByTorrent(cmd.Context(), strings.ToLower(torrentID))
				} else {
					events, err = store.ListRecent(cmd.Context(), limit)
				}
				return err
			})
			if err != nil {
				return errors.Wrap(err, "list events")
			}

			if asJSON {
				return writeJSON(cmd, events)
			}

			if len(events) == 0 {
				cmd.Println("No events.")
				return nil
			}
			for _, e := range events {
				cmd.Printf("%s  %-20s  %s  %s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Type, shortHash(e.TorrentID), describeEvent(e))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&torrentID, "torrent", "", "Only show events for this torrent hash")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of recent events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func RunErrorsCommand() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List torrents that failed to match or link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []*models.ErroredTorrent
			err = a.db.View(cmd.Context(), func(q dbinterface.Querier) error {
				entries, err = models.NewErroredTorrentStore(q).List(cmd.Context())
				return err
			})
			if err != nil {
				return errors.Wrap(err, "list errors")
			}

			if asJSON {
				return writeJSON(cmd, entries)
			}

			if len(entries) == 0 {
				cmd.Println("No errored torrents.")
				return nil
			}
			for _, e := range entries {
				cmd.Printf("[%s] %s (%s): %s\n", e.Step, e.Name, humanize.Time(e.CreatedAt), e.Error)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !asJSON {
				cmd.Print(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

func describeEvent(e *models.Event) string {
	p := e.Payload
	switch e.Type {
	case models.EventTypeLinked:
		return p.Linker + " -> " + p.LibraryPath
	case models.EventTypeCleaned:
		return p.LibraryPath + " (" + strconv.Itoa(len(p.Files)) + " files)"
	case models.EventTypeUpdated:
		fields := make([]string, 0, len(p.Fields))
		for _, f := range p.Fields {
			fields = append(fields, f.Field)
		}
		return string(p.Source) + ": " + strings.Join(fields, ", ")
	case models.EventTypeGrabbed:
		s := "tracker id " + strconv.FormatInt(e.MamID, 10)
		if p.Cost != "" {
			s += ", cost " + p.Cost
		}
		if p.Wedged {
			s += ", wedged"
		}
		return s
	default:
		return ""
	}
}
