package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes overlays the files named by cfg.Includes onto cfg and
// returns the engines they define, in include order. basePath is the
// directory of the including file; visited holds absolute paths already
// loaded.
func processIncludes(cfg *Config, basePath string, visited map[string]bool, depth int) ([]EngineConfig, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	var engines []EngineConfig
	for _, pattern := range cfg.Includes {
		paths, err := resolveIncludePaths(pattern, basePath)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return nil, fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			fileEngines, err := mergeFile(cfg, abs, visited, depth+1)
			if err != nil {
				return nil, err
			}
			engines = mergeEngines(engines, fileEngines)
		}
	}

	cfg.Includes = nil
	return engines, nil
}

// resolveIncludePaths expands pattern relative to baseDir. Patterns that
// escape baseDir are rejected.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	rel, err := filepath.Rel(baseDir, pattern)
	if err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// Literal path: let mergeFile report the missing file.
		return []string{pattern}, nil
	}
	return matches, nil
}

// mergeFile overlays one YAML file onto cfg and returns the engines it and
// its nested includes define. cfg.Engines is left untouched.
func mergeFile(cfg *Config, path string, visited map[string]bool, depth int) ([]EngineConfig, error) {
	if err := validatePermissions(path); err != nil {
		return nil, fmt.Errorf("config includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	saved := cfg.Engines
	cfg.Engines = nil
	cfg.Includes = nil
	defer func() { cfg.Engines = saved }()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	own := cfg.Engines

	if len(cfg.Includes) > 0 {
		nested, err := processIncludes(cfg, filepath.Dir(path), visited, depth)
		if err != nil {
			return nil, err
		}
		own = mergeEngines(nested, own)
	}
	return own, nil
}
