/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/palmcards/internal/audio"
	"github.com/friendsincode/palmcards/internal/bridge"
	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/logging"
	"github.com/friendsincode/palmcards/internal/playback"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a sequence through the speakers",
	Long: `Play one sequence locally. While playing, type a command and press enter:
  n, next        next card
  p, previous    previous card
  pause, resume  pause or continue the current track
  goto N         jump to card N (1-based)
  mode basic|expression
  q, quit        stop and exit`,
	RunE: runPlay,
}

var (
	playEpisode string
	playMode    string
)

func init() {
	playCmd.Flags().StringVar(&playEpisode, "episode", "", "Sequence to play, e.g. 197 (required)")
	playCmd.Flags().StringVar(&playMode, "mode", string(playback.ModeBasic), "Playback mode: basic or expression")
	playCmd.MarkFlagRequired("episode")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if _, err := playback.ParseMode(playMode); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cards, err := newCatalog().Playlist(ctx, playEpisode)
	if err != nil {
		return fmt.Errorf("load sequence %s: %w", playEpisode, err)
	}
	if len(cards) == 0 {
		return fmt.Errorf("sequence %s has no cards", playEpisode)
	}

	seq := playback.NewSequencer(audio.New(logging.Component(logger, "audio")),
		playback.WithClock(playback.SystemClock{}),
		playback.WithPreloadWindow(cfg.PreloadWindow),
		playback.WithPoolCapacity(cfg.MaxPooledAudio),
		playback.WithLogger(logger),
	)
	host := newConsoleHost(cmd.OutOrStdout())
	b := bridge.New(seq, bridge.WithHost(host), bridge.WithLogger(logger))
	defer seq.Cleanup()
	defer b.Close()

	b.SetPlaylist(playback.FromCatalog(cards), catalog.FormatSequence(playEpisode))
	for _, c := range []bridge.Command{
		{Action: bridge.ActionSetMode, Mode: playMode},
		{Action: bridge.ActionPlay},
	} {
		if ack := b.HandleCommand(c); !ack.Success {
			return fmt.Errorf("%s: %s", ack.Action, ack.Message)
		}
	}

	quit := make(chan struct{})
	go readConsole(os.Stdin, b, cmd.ErrOrStderr(), quit)

	select {
	case <-host.finished:
	case <-quit:
	case <-ctx.Done():
	}
	b.HandleCommand(bridge.Command{Action: bridge.ActionStop})
	return nil
}

func readConsole(in io.Reader, b *bridge.Bridge, errOut io.Writer, quit chan<- struct{}) {
	defer close(quit)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c, exit, err := parseConsoleCommand(scanner.Text())
		if exit {
			return
		}
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		if c.Action == "" {
			continue
		}
		if ack := b.HandleCommand(c); !ack.Success && ack.Message != "" {
			fmt.Fprintln(errOut, ack.Message)
		}
	}
}

// parseConsoleCommand turns one typed line into a bridge command. An empty
// line yields a zero command.
func parseConsoleCommand(line string) (bridge.Command, bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return bridge.Command{}, false, nil
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return bridge.Command{}, true, nil
	case "n", "next":
		return bridge.Command{Action: bridge.ActionNext}, false, nil
	case "p", "prev", "previous":
		return bridge.Command{Action: bridge.ActionPrevious}, false, nil
	case "pause":
		return bridge.Command{Action: bridge.ActionPause}, false, nil
	case "resume", "r":
		return bridge.Command{Action: bridge.ActionResume}, false, nil
	case "goto", "g":
		if len(fields) != 2 {
			return bridge.Command{}, false, fmt.Errorf("usage: goto N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return bridge.Command{}, false, fmt.Errorf("goto: %q is not a card number", fields[1])
		}
		index := n - 1
		return bridge.Command{Action: bridge.ActionGoTo, Index: &index}, false, nil
	case "mode", "m":
		if len(fields) != 2 {
			return bridge.Command{}, false, fmt.Errorf("usage: mode basic|expression")
		}
		return bridge.Command{Action: bridge.ActionSetMode, Mode: fields[1]}, false, nil
	default:
		return bridge.Command{}, false, fmt.Errorf("unknown command %q", fields[0])
	}
}

// consoleHost prints each card as it starts and signals when playback has
// run off the end of the playlist.
type consoleHost struct {
	out      io.Writer
	finished chan struct{}

	mu      sync.Mutex
	started bool
	done    bool
	shown   int
	state   playback.State
}

func newConsoleHost(out io.Writer) *consoleHost {
	return &consoleHost{out: out, finished: make(chan struct{}), shown: -1}
}

func (h *consoleHost) UpdatePlaybackState(s playback.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.IsPlaying {
		h.started = true
	}
	if s.CurrentCard != nil && s.State != h.state {
		switch s.State {
		case playback.StatePlayingPrimary:
			if s.CurrentIndex != h.shown {
				fmt.Fprintf(h.out, "[%d/%d] %s\n        %s\n", s.CurrentIndex+1, s.TotalCards, s.CurrentCard.DisplayText, s.CurrentCard.TranslationText)
				h.shown = s.CurrentIndex
			}
		case playback.StatePlayingSecondary:
			fmt.Fprintf(h.out, "        (%s)\n", s.CurrentCard.TranslationText)
		}
	}
	h.state = s.State

	if h.started && !h.done && !s.IsPlaying && s.State == playback.StateIdle {
		h.done = true
		close(h.finished)
	}
}
