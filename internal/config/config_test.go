package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
network: testnet
data_dir: /var/lib/pcnode
peers:
  - /ip4/10.0.0.1/tcp/9000/p2p/12D3KooWQYhTNQdmr3ArTeUHRYzFg94BKyTkoWBDWez9kSCVe2Xo
workers: 3
log:
  level: debug
  file: /var/log/pcnode.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, "/var/lib/pcnode", cfg.DataDir)
	require.Len(t, cfg.Peers, 1)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 100, cfg.Log.MaxSizeMB, "unset nested fields keep defaults")
	require.Equal(t, "127.0.0.1:50051", cfg.GRPCListen)

	p, err := cfg.NetworkParams()
	require.NoError(t, err)
	require.Equal(t, "testnet", p.Name)
}

func TestLoadCustomParams(t *testing.T) {
	path := writeConfig(t, `
params:
  name: devnet
  announcement_version: 1
  soft_nonce_epochs:
    - from_height: 0
      max: 0xffff
    - from_height: 50
      max: 0xff
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	p, err := cfg.NetworkParams()
	require.NoError(t, err)
	require.Equal(t, uint32(0xffff), p.SoftNonceMax(49))
	require.Equal(t, uint32(0xff), p.SoftNonceMax(50))
}

func TestLoadRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "colour: blue\n"},
		{"unknown network", "network: moon\n"},
		{"zero workers", "workers: 0\n"},
		{"negative retention", "retain_heights: -1\n"},
		{"bad params", "params:\n  soft_nonce_epochs:\n    - from_height: 5\n      max: 1\n"},
		{"not yaml", "workers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
