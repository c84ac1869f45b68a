package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedEmptyPathReturnsNil(t *testing.T) {
	seeds, err := LoadSeed("")
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if seeds != nil {
		t.Fatalf("expected nil seeds for empty path, got %v", seeds)
	}
}

func TestLoadSeedParsesSubscriptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	contents := "subscriptions:\n  - name: starred\n    object_class_name: Item\n    query: starred == true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	seeds, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seeds) != 1 {
		t.Fatalf("expected one seed, got %d", len(seeds))
	}
	if seeds[0].Name != "starred" {
		t.Fatalf("name: got %q", seeds[0].Name)
	}
	if seeds[0].ObjectClassName != "Item" {
		t.Fatalf("object class name: got %q", seeds[0].ObjectClassName)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "flexsync.db" {
		t.Fatalf("db path default: got %q", cfg.DBPath)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr default: got %q", cfg.ListenAddr)
	}
}
