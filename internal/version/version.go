/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version reports the build version and checks for newer releases.
package version

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/palmcards/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision, set at build time.
var Commit = "dev"

// Repo is the repository checked for releases.
const Repo = "friendsincode/palmcards"

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("palmcards %s (%s)", Version, Commit)
}

// Release is the latest published release.
type Release struct {
	Version         string    `json:"version"`
	URL             string    `json:"url"`
	Notes           string    `json:"notes,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	CheckedAt       time.Time `json:"checked_at"`
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
}

// Latest fetches the newest release from baseURL, normally
// https://api.github.com. client may be nil.
func Latest(ctx context.Context, client *http.Client, baseURL string) (*Release, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(baseURL, "/"), Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "palmcards/"+Version)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch release: status %d", resp.StatusCode)
	}

	var gh githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	latest := strings.TrimPrefix(gh.TagName, "v")
	return &Release{
		Version:         latest,
		URL:             gh.HTMLURL,
		Notes:           firstLine(gh.Body, 200),
		UpdateAvailable: compareVersions(Version, latest) < 0,
		CheckedAt:       time.Now(),
	}, nil
}

// compareVersions returns -1, 0 or 1 comparing semver strings a and b.
func compareVersions(a, b string) int {
	av, bv := parseVersion(a), parseVersion(b)
	for i := 0; i < 3; i++ {
		switch {
		case av[i] < bv[i]:
			return -1
		case av[i] > bv[i]:
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")

	var out [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		fmt.Sscanf(parts[i], "%d", &out[i])
	}
	return out
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
