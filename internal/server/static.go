/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// pageAliases maps the web player's page routes to their HTML files.
var pageAliases = map[string][]string{
	"/":           {"episodes.html", "index.html"},
	"/flashcards": {"index.html"},
	"/player":     {"player.html"},
}

// mountStatic serves the built web player when StaticDir exists.
func (s *Server) mountStatic() {
	dir := s.cfg.StaticDir
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		s.logger.Info().Str("dir", dir).Msg("static directory not found, web player not served")
		return
	}

	for route, candidates := range pageAliases {
		if page := firstExisting(dir, candidates); page != "" {
			s.router.Get(route, servePage(page))
		}
	}
	s.router.Handle("/*", http.FileServer(http.Dir(dir)))
	s.logger.Info().Str("dir", dir).Msg("serving web player")
}

func firstExisting(dir string, names []string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func servePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}
}
