package network_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*network.Config)
		valid  bool
	}{
		{"defaults", func(*network.Config) {}, true},
		{"quorum minimum", func(c *network.Config) { c.NodeCount = 3 }, true},
		{"below quorum", func(c *network.Config) { c.NodeCount = 2 }, false},
		{"too many nodes", func(c *network.Config) { c.NodeCount = 50 }, false},
		{"zero network id", func(c *network.Config) { c.ID = 0 }, false},
		{"last network id", func(c *network.Config) { c.ID = network.MaxNetworkID }, true},
		{"network id past port space", func(c *network.Config) { c.ID = network.MaxNetworkID + 1 }, false},
		{"negative users", func(c *network.Config) { c.UserCount = -1 }, false},
		{"no users", func(c *network.Config) { c.UserCount = 0 }, true},
		{"negative bootstraps", func(c *network.Config) { c.BootstrapCount = -1 }, false},
		{"negative delay", func(c *network.Config) { c.GenesisDelay = -1 }, false},
		{"empty chain name", func(c *network.Config) { c.ChainName = "" }, false},
		{"bad account type", func(c *network.Config) { c.AccountType = "rsa" }, false},
		{"secp256k1", func(c *network.Config) { c.AccountType = network.AccountTypeSecp256k1 }, true},
		{"bad backend", func(c *network.Config) { c.Backend = "systemd" }, false},
		{"docker without image", func(c *network.Config) { c.Backend = network.BackendDocker }, false},
		{"docker with image", func(c *network.Config) {
			c.Backend = network.BackendDocker
			c.DockerImage = "ledger/node:latest"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := network.NewConfig(1)
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, network.ErrInvalidInput))
		})
	}
}

func TestConfigNodeIDs(t *testing.T) {
	assert := assert.New(t)
	cfg := network.NewConfig(1)
	cfg.NodeCount = 3

	assert.Equal([]int{1, 2, 3}, cfg.ActiveNodeIDs())
	assert.Equal([]int{4, 5, 6}, cfg.ReserveNodeIDs())
	assert.Equal([]int{1, 2, 3, 4, 5, 6}, cfg.NodeIDs())
	assert.True(cfg.HasNode(6))
	assert.False(cfg.HasNode(7))
	assert.False(cfg.HasNode(0))
	assert.True(cfg.IsGenesisNode(3))
	assert.False(cfg.IsGenesisNode(4))
}

func TestConfigBootstraps(t *testing.T) {
	cfg := network.NewConfig(1)
	cfg.NodeCount = 3

	cfg.BootstrapCount = 0
	assert.Equal(t, []int{1}, cfg.Bootstraps())
	cfg.BootstrapCount = 2
	assert.Equal(t, []int{1, 2}, cfg.Bootstraps())
	cfg.BootstrapCount = 10
	assert.Equal(t, []int{1, 2, 3}, cfg.Bootstraps())
}

func TestConfigPortsDoNotCollide(t *testing.T) {
	seen := map[uint16]string{}
	for netID := 1; netID <= network.MaxNetworkID; netID++ {
		cfg := network.NewConfig(netID)
		cfg.NodeCount = 49
		require.NoError(t, cfg.Validate())
		for _, nodeID := range cfg.NodeIDs() {
			p := cfg.Ports(nodeID)
			owner := fmt.Sprintf("net %d node %d", netID, nodeID)
			for _, port := range []uint16{p.Protocol, p.RPC, p.REST, p.Events} {
				require.Greater(t, port, uint16(1024), owner)
				prev, dup := seen[port]
				require.False(t, dup, "port %d of %s already used by %s", port, owner, prev)
				seen[port] = owner
			}
		}
	}
}

func TestConfigPortLayout(t *testing.T) {
	cfg := network.NewConfig(1)
	require.Equal(t, network.Ports{Protocol: 10401, RPC: 10501, REST: 10601, Events: 10701}, cfg.Ports(1))

	// the REST port of one network is never another network's RPC port
	other := network.NewConfig(31)
	require.NotEqual(t, cfg.Ports(1).REST, other.Ports(1).RPC)

	last := network.NewConfig(network.MaxNetworkID)
	last.NodeCount = 49
	require.NoError(t, last.Validate())
	require.Equal(t, uint16(64801), last.Ports(1).Protocol)
	require.Equal(t, uint16(65198), last.Ports(98).Events)

	over := network.NewConfig(network.MaxNetworkID + 1)
	require.ErrorIs(t, over.Validate(), network.ErrInvalidInput)
}

func TestConfigSaveLoad(t *testing.T) {
	home := t.TempDir()
	cfg := network.NewConfig(3)
	cfg.NodeCount = 4
	cfg.UserCount = 2
	cfg.GenesisTimestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	layout := network.NewLayout(home, cfg.ID)

	require.NoError(t, cfg.Save(layout))
	loaded, err := network.Load(home, 3)
	require.NoError(t, err)
	require.Equal(t, cfg.NodeCount, loaded.NodeCount)
	require.Equal(t, cfg.UserCount, loaded.UserCount)
	require.Equal(t, cfg.ChainName, loaded.ChainName)
	require.True(t, cfg.GenesisTimestamp.Equal(loaded.GenesisTimestamp))

	_, err = network.Load(home, 4)
	require.True(t, errors.Is(err, network.ErrNetworkNotFound))
}

func TestNodeErrorUnwraps(t *testing.T) {
	err := network.NewNodeError(2, "start", network.ErrStartupFailed)
	require.True(t, errors.Is(err, network.ErrStartupFailed))
	var nodeErr *network.NodeError
	require.True(t, errors.As(err, &nodeErr))
	require.Equal(t, 2, nodeErr.NodeID)
	require.Equal(t, "node 2: start: node startup failed", err.Error())
}
