/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/palmcards/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
		if !versionCheck {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rel, err := version.Latest(ctx, nil, "https://api.github.com")
		if err != nil {
			return fmt.Errorf("check for updates: %w", err)
		}
		if rel.UpdateAvailable {
			fmt.Fprintf(cmd.OutOrStdout(), "update available: %s (%s)\n", rel.Version, rel.URL)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}
