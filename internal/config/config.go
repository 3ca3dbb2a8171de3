// Package config loads the node configuration from YAML.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nganji523/packetcrypt-rs/internal/logging"
	"github.com/nganji523/packetcrypt-rs/internal/params"
)

// Config is the node configuration
type Config struct {
	Network       string   `yaml:"network"`
	DataDir       string   `yaml:"data_dir"`
	GRPCListen    string   `yaml:"grpc_listen"`
	P2PListen     string   `yaml:"p2p_listen"`
	Peers         []string `yaml:"peers"`
	MetricsListen string   `yaml:"metrics_listen"`

	// Workers bounds concurrent validations and sizes the context pool
	Workers int `yaml:"workers"`

	// RetainHeights is how many parent heights of announcements are kept
	// below the newest parent block. Zero keeps everything.
	RetainHeights int32 `yaml:"retain_heights"`

	Log logging.Config `yaml:"log"`

	// Params replaces the rules of Network when set
	Params *params.Params `yaml:"params"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Network:       params.MainnetParams.Name,
		DataDir:       "./data",
		GRPCListen:    "127.0.0.1:50051",
		P2PListen:     "/ip4/0.0.0.0/tcp/9000",
		MetricsListen: "127.0.0.1:9100",
		Workers:       runtime.NumCPU(),
		RetainHeights: 100,
		Log:           logging.DefaultConfig(),
	}
}

// Load reads path on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.RetainHeights < 0 {
		return errors.Errorf("retain_heights must not be negative, got %d", c.RetainHeights)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := c.NetworkParams(); err != nil {
		return err
	}
	return nil
}

// NetworkParams returns the protocol rules the node enforces
func (c *Config) NetworkParams() (*params.Params, error) {
	if c.Params != nil {
		p := c.Params.Clone()
		if err := p.Validate(); err != nil {
			return nil, errors.Wrap(err, "params")
		}
		return p, nil
	}
	return params.ByName(c.Network)
}

// StoragePath is where the announcement database lives
func (c *Config) StoragePath() string {
	return filepath.Join(c.DataDir, "announcements")
}
