package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "outgoing.yaml", `
outgoing:
  proxies:
    "all://": socks5://127.0.0.1:1080
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "outgoing.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Outgoing.Proxies[AllPattern] != "socks5://127.0.0.1:1080" {
		t.Errorf("proxy not loaded from include: %+v", cfg.Outgoing.Proxies)
	}
}

func TestIncludesEnginesAreMerged(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "engines.d")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	writeConfigFile(t, subdir, "a.yaml", `
engines:
  - name: alpha
    type: json
    base_url: https://alpha.example
  - name: shared
    type: json
    base_url: https://from-include.example
`)
	writeConfigFile(t, subdir, "b.yaml", `
engines:
  - name: beta
    type: html
    base_url: https://beta.example/?q={query}
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "engines.d/*.yaml"
engines:
  - name: shared
    type: json
    base_url: https://from-main.example
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	byName := map[string]EngineConfig{}
	for _, e := range cfg.Engines {
		byName[e.Name] = e
	}
	assert.Len(t, cfg.Engines, 3)
	assert.Contains(t, byName, "alpha")
	assert.Contains(t, byName, "beta")
	assert.Equal(t, "https://from-main.example", byName["shared"].BaseURL)
}

func TestIncludesMainPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "override.yaml", `
logger:
  level: debug
  format: json
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "override.yaml"
logger:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Level = %q, want warn (main should win)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Format = %q, want %q", cfg.Logger.Format, "json")
	}
}

func TestIncludesBangsMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "bangs.yaml", `
bangs:
  mdn: "https://developer.mozilla.org/search?q={query}"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes: ["bangs.yaml"]
bangs:
  go: "https://pkg.go.dev/search?q={query}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Bangs, "mdn")
	assert.Contains(t, cfg.Bangs, "go")
}

func TestIncludesCircularDetection(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", `
includes:
  - "b.yaml"
`)
	writeConfigFile(t, dir, "b.yaml", `
includes:
  - "a.yaml"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "a.yaml"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected circular include error")
	}
	if !strings.Contains(err.Error(), "circular include") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "../../../etc/passwd"
`)

	_, err := Load(path)
	require.Error(t, err)
	assertContains(t, err.Error(), "escapes config directory")
}

func TestIncludesMissingFile(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
includes:
  - "nope.yaml"
`)
	_, err := Load(path)
	require.Error(t, err)
	assertContains(t, err.Error(), "config includes")
}

func TestIncludesEmptyGlob(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)
	_, err := Load(path)
	assert.NoError(t, err)
}
