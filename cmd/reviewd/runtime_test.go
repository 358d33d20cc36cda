package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/reviewd/internal/config"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	orig, _ := os.Getwd()
	defer os.Chdir(orig)
	os.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("missing reviewd.toml should yield defaults: %v", err)
	}
	if cfg.Fix.MaxIterations != 3 {
		t.Errorf("default max iterations = %d, want 3", cfg.Fix.MaxIterations)
	}
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("explicit config path should fail when missing")
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewd.toml")
	content := `
[fix]
max_iterations = 5

[storage]
path = "/tmp/reviewd-test"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Fix.MaxIterations != 5 {
		t.Errorf("max iterations = %d, want 5", cfg.Fix.MaxIterations)
	}
	if cfg.Storage.Path != "/tmp/reviewd-test" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
}

func TestResolveStoragePathExpandsHome(t *testing.T) {
	rt := &runtime{cfg: config.Default()}
	rt.cfg.Storage.Path = "~/stash/reviewd"
	rt.resolveStoragePath()

	home, _ := os.UserHomeDir()
	want := filepath.Join(home, "stash", "reviewd")
	if rt.storagePath != want {
		t.Errorf("storagePath = %q, want %q", rt.storagePath, want)
	}
}

func TestResolveStoragePathDefault(t *testing.T) {
	rt := &runtime{cfg: config.Default()}
	rt.cfg.Storage.Path = ""
	rt.resolveStoragePath()

	if rt.storagePath == "" {
		t.Error("empty config should still resolve a storage path")
	}
}
