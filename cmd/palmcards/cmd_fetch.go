/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/friendsincode/palmcards/internal/cache"
	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/logging"
	"github.com/friendsincode/palmcards/internal/notion"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Dump flashcards as JSON",
	Long:  "Fetch flashcards from Notion, grouped by sequence, and write them as JSON",
	RunE:  runFetch,
}

var (
	fetchEpisode string
	fetchOut     string
)

func init() {
	fetchCmd.Flags().StringVar(&fetchEpisode, "episode", "", "Only fetch this sequence (e.g. 197)")
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "Output file (default stdout)")
	rootCmd.AddCommand(fetchCmd)
}

// newCatalog builds a catalog with a memory-only cache for one-shot commands.
func newCatalog() *catalog.Service {
	client := notion.New(notion.Config{
		Secret:    cfg.NotionSecret,
		BaseURL:   cfg.NotionBaseURL,
		RateLimit: cfg.NotionRateLimit,
	}, logger)
	c := cache.NewMemory(cache.DefaultConfig(), logger)
	return catalog.New(client, cfg.Databases, c, logging.Component(logger, "cli"))
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	deck, err := newCatalog().Flashcards(context.Background(), fetchEpisode)
	if err != nil {
		return fmt.Errorf("fetch flashcards: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if fetchOut != "" {
		f, err := os.Create(fetchOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", fetchOut, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(deck); err != nil {
		return fmt.Errorf("encode flashcards: %w", err)
	}

	logger.Info().
		Int("sequences", len(deck.Sequences)).
		Int("cards", deck.Total()).
		Msg("flashcards fetched")
	return nil
}
