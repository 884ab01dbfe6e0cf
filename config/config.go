// Package config encapsulates the replication engine's on-disk settings.
// Configuration is stored as a YAML file (or supplied at CLI runtime via
// flags bound through viper), the way the teacher's config package
// stores qri's own settings.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/qri-io/jsonschema"
)

// CurrentConfigRevision tags the shape of Config this binary writes.
// Configs read from disk with a different revision should be migrated
// before use; this engine has shipped only one revision so far.
const CurrentConfigRevision = 1

// Config holds every setting the replication engine needs at startup.
type Config struct {
	path string

	Revision int

	// DataDir is where the on-disk archive (bbolt) lives. Generated actor
	// keys are held in memory only and are not written here.
	DataDir string

	P2P *P2P
	CLI *CLI
}

// P2P configures the libp2p swarm.Node.
type P2P struct {
	// ListenAddrs are multiaddrs the host listens on, e.g.
	// "/ip4/0.0.0.0/tcp/4001".
	ListenAddrs []string
	// BootstrapPeers are multiaddrs (including /p2p/<peerid>) dialed at
	// startup.
	BootstrapPeers []string
}

// CLI configures command-line output.
type CLI struct {
	// ColorEnabled is stored with the config but not read by cmd, whose
	// color output is switched off only by the --no-color flag.
	ColorEnabled bool
}

// DefaultConfig returns the configuration a fresh install starts from.
func DefaultConfig() *Config {
	return &Config{
		Revision: CurrentConfigRevision,
		DataDir:  DefaultDataDir(),
		P2P: &P2P{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		},
		CLI: &CLI{ColorEnabled: true},
	}
}

// DefaultDataDir returns $HOME/.hypermerge, or $HYPERMERGE_PATH if set.
func DefaultDataDir() string {
	if p := os.Getenv("HYPERMERGE_PATH"); p != "" {
		return p
	}
	home, err := homedir.Dir()
	if err != nil {
		return ".hypermerge"
	}
	return filepath.Join(home, ".hypermerge")
}

// ReadFromFile reads a YAML configuration file from path.
func ReadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteToFile encodes cfg as YAML and writes it to path.
func (cfg *Config) WriteToFile(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config %q: %w", path, err)
	}
	cfg.path = path
	return nil
}

// Path returns the filesystem path cfg was loaded from or last written
// to, empty if neither has happened yet.
func (cfg Config) Path() string { return cfg.path }

var schema = jsonschema.Must(`{
	"$schema": "http://json-schema.org/draft-06/schema#",
	"title": "hypermergeConfig",
	"type": "object",
	"required": ["DataDir"],
	"properties": {
		"DataDir": {"type": "string", "minLength": 1}
	}
}`)

// Validate checks cfg against the engine's configuration schema.
func (cfg Config) Validate() error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config for validation: %w", err)
	}
	if errs, err := schema.ValidateBytes(context.Background(), raw); err != nil {
		return err
	} else if len(errs) > 0 {
		return fmt.Errorf("config validation error: %s", errs[0])
	}
	return nil
}
