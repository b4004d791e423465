package ruledef

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Load walks paths collecting trigger definitions from YAML files. Names
// must be unique across all files.
func Load(paths []string) ([]*Definition, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var (
		defs []*Definition
		seen = map[string]string{}
	)
	for _, p := range paths {
		err := collectPath(p, func(path string, def *Definition) error {
			if prev, ok := seen[def.Metadata.Name]; ok {
				return fmt.Errorf("duplicate trigger name %q in %s and %s", def.Metadata.Name, prev, path)
			}
			seen[def.Metadata.Name] = path
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func collectPath(path string, fn func(string, *Definition) error) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !isYAML(p) {
				return nil
			}
			return decodeFile(p, fn)
		})
	}
	if !isYAML(path) {
		return fmt.Errorf("%s is not a YAML file", path)
	}
	return decodeFile(path, fn)
}

func decodeFile(path string, fn func(string, *Definition) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	defs, err := ParseAll(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, def := range defs {
		if err := fn(path, def); err != nil {
			return err
		}
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
