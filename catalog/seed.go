package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kasuganosora/questline/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var seedFileRegex = regexp.MustCompile(`^[\w.-]+\.(json|ya?ml)$`)

// LoadDir reads puzzle definitions from every *.json, *.yaml and *.yml file
// in dir. A file holds either a single puzzle or a list of them. Files are
// read in name order so later files win when two define the same puzzle.
func LoadDir(dir string) ([]model.Puzzle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: readdir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !seedFileRegex.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []model.Puzzle
	for _, name := range names {
		ps, err := loadSeedFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

func loadSeedFile(path string) ([]model.Puzzle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".json") {
		return loadSeedYAML(path, data)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var arr []model.Puzzle
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
		return arr, nil
	}
	var p model.Puzzle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return []model.Puzzle{p}, nil
}

func loadSeedYAML(path string, data []byte) ([]model.Puzzle, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var arr []model.Puzzle
		if err := root.Decode(&arr); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
		return arr, nil
	}
	var p model.Puzzle
	if err := root.Decode(&p); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return []model.Puzzle{p}, nil
}

// Seed loads dir and stores every puzzle in it, replacing same-named ones.
// It returns the number of puzzles written.
func (c *Catalog) Seed(ctx context.Context, dir string) (int, error) {
	puzzles, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for i := range puzzles {
		p := puzzles[i]
		p.ID = 0
		if err := c.Put(ctx, &p); err != nil {
			return i, fmt.Errorf("catalog: seed %q: %w", p.Name, err)
		}
	}
	c.logger.Info("catalog seeded", zap.String("dir", dir), zap.Int("puzzles", len(puzzles)))
	return len(puzzles), nil
}
