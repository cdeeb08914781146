/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/friendsincode/palmcards/internal/playback"
	"github.com/friendsincode/palmcards/internal/validation"
)

// Command actions.
const (
	ActionPlay        = "play"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionStop        = "stop"
	ActionNext        = "next"
	ActionPrevious    = "previous"
	ActionGoTo        = "goTo"
	ActionSetMode     = "setMode"
	ActionGetState    = "getPlaybackState"
	ActionCleanup     = "cleanup"
	ActionSetPlaylist = "setPlaylist"
)

// ErrUnknownAction is returned for commands outside the supported set.
var ErrUnknownAction = errors.New("bridge: unknown action")

// actionAliases maps the native shell's historical names onto actions.
var actionAliases = map[string]string{
	"nextcard":        ActionNext,
	"previouscard":    ActionPrevious,
	"gotocard":        ActionGoTo,
	"setplaybackmode": ActionSetMode,
	"getstate":        ActionGetState,
}

var canonicalActions = map[string]string{
	"play":             ActionPlay,
	"pause":            ActionPause,
	"resume":           ActionResume,
	"stop":             ActionStop,
	"next":             ActionNext,
	"previous":         ActionPrevious,
	"goto":             ActionGoTo,
	"setmode":          ActionSetMode,
	"getplaybackstate": ActionGetState,
	"cleanup":          ActionCleanup,
}

// Command is a host control request.
type Command struct {
	Action string `json:"action" validate:"required"`
	Index  *int   `json:"index,omitempty" validate:"required_if=Action goTo"`
	Mode   string `json:"mode,omitempty" validate:"required_if=Action setMode,omitempty,oneof=basic expression"`
}

// Ack is the structured reply to every command.
type Ack struct {
	Success bool               `json:"success"`
	Action  string             `json:"action"`
	Index   *int               `json:"index,omitempty"`
	Mode    string             `json:"mode,omitempty"`
	Cards   *int               `json:"cards,omitempty"`
	Message string             `json:"message,omitempty"`
	State   *playback.Snapshot `json:"state,omitempty"`
}

// normalize resolves aliases and case so that "goToCard" and "GOTO" both
// become ActionGoTo. Modes are lowercased.
func (c *Command) normalize() error {
	key := strings.ToLower(strings.TrimSpace(c.Action))
	if alias, ok := actionAliases[key]; ok {
		key = strings.ToLower(alias)
	}
	action, ok := canonicalActions[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
	c.Action = action
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	return nil
}

// Validate normalizes the action and checks required parameters.
func (c *Command) Validate() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return validation.Struct(c)
}
