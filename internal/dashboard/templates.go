package dashboard

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type templateSeed struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Recurrence  string `yaml:"recurrence"`
	AnchorDate  string `yaml:"anchor_date"`
}

type templateSeedFile struct {
	Templates []templateSeed `yaml:"templates"`
}

// ImportTemplates loads recurring-template seeds from a YAML file and
// inserts the ones not already present (matched by title). Returns
// (added, skipped).
func (s *Store) ImportTemplates(ctx context.Context, path string) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read templates: %w", err)
	}

	var file templateSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, 0, fmt.Errorf("parse templates: %w", err)
	}

	existing, err := s.ListTemplates(ctx)
	if err != nil {
		return 0, 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[normalizeTitle(t.Title)] = true
	}

	added, skipped := 0, 0
	for i, seed := range file.Templates {
		if strings.TrimSpace(seed.Title) == "" {
			return added, skipped, fmt.Errorf("template %d: missing title", i)
		}
		recurrence := strings.ToUpper(strings.TrimSpace(seed.Recurrence))
		if recurrence == "" || seed.AnchorDate == "" {
			return added, skipped, fmt.Errorf("template %q: missing recurrence or anchor_date", seed.Title)
		}
		if known[normalizeTitle(seed.Title)] {
			skipped++
			continue
		}
		if _, err := s.AddTemplate(ctx, seed.Title, seed.Description, recurrence, seed.AnchorDate); err != nil {
			return added, skipped, err
		}
		known[normalizeTitle(seed.Title)] = true
		added++
	}
	return added, skipped, nil
}
