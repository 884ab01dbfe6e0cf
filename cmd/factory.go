package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/qri-io/hypermerge/config"
	"github.com/qri-io/hypermerge/core"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
)

// Factory provides the wired-up structures cobra commands need, built
// lazily from on-disk configuration. Grounded on the teacher's own
// Factory interface in cmd/factory.go, narrowed to this engine's single
// Engine facade in place of qri's per-domain *Requests types.
type Factory interface {
	Config() (*config.Config, error)
	DataDir() string
	Engine() (*core.Engine, error)
}

// EnvPathFactory returns the data directory this process should use,
// honoring $HYPERMERGE_PATH the way qri's EnvPathFactory honors
// $QRI_PATH.
func EnvPathFactory() string {
	return config.DefaultDataDir()
}

// hypermergeOptions is the concrete Factory backing RootCmd's commands.
type hypermergeOptions struct {
	dataDir string

	mu     sync.Mutex
	cfg    *config.Config
	engine *core.Engine
}

// NewFactory builds a Factory rooted at dataDir. An empty dataDir falls
// back to EnvPathFactory.
func NewFactory(dataDir string) Factory {
	if dataDir == "" {
		dataDir = EnvPathFactory()
	}
	return &hypermergeOptions{dataDir: dataDir}
}

func (o *hypermergeOptions) DataDir() string { return o.dataDir }

func (o *hypermergeOptions) Config() (*config.Config, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.configLocked()
}

// Engine lazily starts the Orchestrator over this process's on-disk
// archive, the way the teacher's Factory lazily opens a repo.Repo.
func (o *hypermergeOptions) Engine() (*core.Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.engine != nil {
		return o.engine, nil
	}

	cfg, err := o.configLocked()
	if err != nil {
		return nil, err
	}

	archivePath := filepath.Join(cfg.DataDir, "archive.bolt")
	bus := event.NewBus(context.Background())
	reg, err := feed.Open(archivePath, bus)
	if err != nil {
		return nil, fmt.Errorf("opening archive %q: %w", archivePath, err)
	}

	e := core.New(reg, bus)
	if err := e.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	o.engine = e
	return e, nil
}

func (o *hypermergeOptions) configLocked() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	path := filepath.Join(o.dataDir, "config.yaml")
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		cfg = config.DefaultConfig()
		cfg.DataDir = o.dataDir
	}
	o.cfg = cfg
	return cfg, nil
}
