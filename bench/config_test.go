package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigBench(t *testing.T) {
	path := writeTempBenchConfig(t, `{"slicesize": 65536, "methods": "log", "rounds": 3, "baseline": true}`)

	cfg := Config{Inputs: 100}
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}
	if cfg.SliceSize != 65536 || cfg.Methods != "log" || cfg.Rounds != 3 || !cfg.Baseline || cfg.Inputs != 100 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFileBench(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func writeTempBenchConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
