package config

import (
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/somewhere"
	cfg.P2P.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/4001"}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteToFile(path); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DataDir != cfg.DataDir {
		t.Errorf("expected DataDir %q, got %q", cfg.DataDir, got.DataDir)
	}
	if len(got.P2P.ListenAddrs) != 1 || got.P2P.ListenAddrs[0] != "/ip4/127.0.0.1/tcp/4001" {
		t.Errorf("unexpected listen addrs: %v", got.P2P.ListenAddrs)
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty DataDir")
	}
}

func TestDefaultDataDirHonorsEnv(t *testing.T) {
	t.Setenv("HYPERMERGE_PATH", "/custom/path")
	if got := DefaultDataDir(); got != "/custom/path" {
		t.Errorf("expected env override, got %q", got)
	}
}
