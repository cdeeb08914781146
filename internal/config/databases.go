/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Databases holds the Notion database IDs the catalog reads from.
type Databases struct {
	Dialogue   string `yaml:"dialogue"`
	Character  string `yaml:"character"`
	Expression string `yaml:"expression"`
	Vocabulary string `yaml:"n1_vocabulary"`
	Sequence   string `yaml:"sequence"`
	Book       string `yaml:"book"`
}

// DefaultDatabases returns the IDs of the production PALM workspace.
func DefaultDatabases() Databases {
	return Databases{
		Dialogue:   "228fe404-b3dc-80f0-a0c0-d83aaa28aa9b",
		Character:  "229fe404-b3dc-80ec-830c-e619a046cf3a",
		Expression: "228fe404-b3dc-8037-86b5-fea02dcf9913",
		Vocabulary: "2bafe404-b3dc-811a-913f-df1dc06ea699",
		Sequence:   "228fe404-b3dc-8045-930e-f78bb8348f21",
		Book:       "22cfe404-b3dc-8035-baae-ea57e7401e3a",
	}
}

// LoadDatabases resolves database IDs: defaults, then the optional YAML file,
// then environment overrides.
func LoadDatabases(path string) (Databases, error) {
	dbs := DefaultDatabases()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return dbs, fmt.Errorf("read databases file: %w", err)
		}
		var fromFile Databases
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return dbs, fmt.Errorf("parse databases file %s: %w", path, err)
		}
		dbs = dbs.merge(fromFile)
	}

	dbs = dbs.merge(Databases{
		Dialogue:   getEnvAny([]string{"PALM_DB_DIALOGUE", "DATABASE_ID"}, ""),
		Character:  getEnvAny([]string{"PALM_DB_CHARACTER", "CHARACTER_DATABASE_ID"}, ""),
		Expression: getEnvAny([]string{"PALM_DB_EXPRESSION", "EXPRESSION_DATABASE_ID"}, ""),
		Vocabulary: getEnvAny([]string{"PALM_DB_N1_VOCABULARY", "N1_VOCABULARY_DATABASE_ID"}, ""),
		Sequence:   getEnvAny([]string{"PALM_DB_SEQUENCE", "EPISODES_DATABASE_ID"}, ""),
		Book:       getEnvAny([]string{"PALM_DB_BOOK", "BOOK_DATABASE_ID"}, ""),
	})

	return dbs, dbs.validate()
}

func (d Databases) merge(o Databases) Databases {
	pick := func(cur, next string) string {
		if next = strings.TrimSpace(next); next != "" {
			return next
		}
		return cur
	}
	d.Dialogue = pick(d.Dialogue, o.Dialogue)
	d.Character = pick(d.Character, o.Character)
	d.Expression = pick(d.Expression, o.Expression)
	d.Vocabulary = pick(d.Vocabulary, o.Vocabulary)
	d.Sequence = pick(d.Sequence, o.Sequence)
	d.Book = pick(d.Book, o.Book)
	return d
}

func (d Databases) validate() error {
	ids := map[string]string{
		"dialogue":      d.Dialogue,
		"character":     d.Character,
		"expression":    d.Expression,
		"n1_vocabulary": d.Vocabulary,
		"sequence":      d.Sequence,
		"book":          d.Book,
	}
	for name, id := range ids {
		if len(strings.ReplaceAll(id, "-", "")) != 32 {
			return fmt.Errorf("database %s: %q is not a Notion ID", name, id)
		}
	}
	return nil
}
