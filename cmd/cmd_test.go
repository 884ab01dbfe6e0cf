package cmd

import (
	"path/filepath"
	"testing"

	"github.com/qri-io/hypermerge/config"
)

func TestFactoryLazilyStartsEngine(t *testing.T) {
	f := NewFactory(t.TempDir())

	e1, err := f.Engine()
	if err != nil {
		t.Fatal(err)
	}
	e2, err := f.Engine()
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Error("expected Engine() to return the same cached instance")
	}
}

func TestFactoryDefaultConfigWhenNoneOnDisk(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)

	cfg, err := f.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != dir {
		t.Errorf("expected DataDir %q, got %q", dir, cfg.DataDir)
	}
}

func TestFactoryReadsConfigWrittenToDataDir(t *testing.T) {
	dir := t.TempDir()

	written := config.DefaultConfig()
	written.DataDir = dir
	written.P2P.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/4001"}
	if err := written.WriteToFile(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatal(err)
	}

	f := NewFactory(dir)
	cfg, err := f.Config()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.P2P.ListenAddrs) != 1 || cfg.P2P.ListenAddrs[0] != "/ip4/127.0.0.1/tcp/4001" {
		t.Errorf("expected config read back from disk, got %v", cfg.P2P.ListenAddrs)
	}
}
