// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	// Quorum minimum.
	MinNodeCount = 3
	// Node ordinals share a 100-wide port window per network,
	// so genesis set plus rotation reserve must stay below it.
	maxNodeOrdinal = 99

	AccountTypeEd25519   = "ed25519"
	AccountTypeSecp256k1 = "secp256k1"

	BackendProcess = "process"
	BackendDocker  = "docker"

	DefaultNodeBinary   = "ledger-node"
	DefaultClientBinary = "ledger-client"

	configFileName = "network.toml"
)

// Every network owns one block of ports, one 100-wide window per port
// class, indexed by node ordinal.
const (
	basePort        = 10000
	portClassWidth  = 100
	portClasses     = 4
	networkPortSpan = portClasses * portClassWidth

	protocolClass = 0
	rpcClass      = 1
	restClass     = 2
	eventClass    = 3

	// Highest id whose port block still fits below 65536.
	MaxNetworkID = (65535 - basePort - networkPortSpan + 1) / networkPortSpan
)

// Config is the explicit description of one network.
// It is written once by setup and never mutated afterwards.
type Config struct {
	ID             int `toml:"id"`
	NodeCount      int `toml:"node_count"`
	UserCount      int `toml:"user_count"`
	BootstrapCount int `toml:"bootstrap_count"`
	// Seconds between setup and the genesis timestamp.
	GenesisDelay int    `toml:"genesis_delay"`
	ChainName    string `toml:"chain_name"`
	AccountType  string `toml:"account_type"`
	// Daemon backend, fixed for the network's lifetime.
	Backend      string `toml:"backend"`
	NodeBinary   string `toml:"node_binary"`
	ClientBinary string `toml:"client_binary"`
	// Only used by the docker backend.
	DockerImage string `toml:"docker_image,omitempty"`
	// Set by the generator.
	GenesisTimestamp time.Time `toml:"genesis_timestamp"`
}

// Ports a node listens on.
type Ports struct {
	Protocol uint16
	RPC      uint16
	REST     uint16
	Events   uint16
}

// NewConfig returns a config with defaults filled in for [id].
func NewConfig(id int) Config {
	return Config{
		ID:             id,
		NodeCount:      5,
		UserCount:      5,
		BootstrapCount: 1,
		GenesisDelay:   30,
		ChainName:      DefaultChainName(id),
		AccountType:    AccountTypeEd25519,
		Backend:        BackendProcess,
		NodeBinary:     DefaultNodeBinary,
		ClientBinary:   DefaultClientBinary,
	}
}

func DefaultChainName(id int) string {
	return fmt.Sprintf("lnr-net-%d", id)
}

func (c *Config) Validate() error {
	switch {
	case c.ID < 1:
		return Invalidf("network id must be >= 1, got %d", c.ID)
	case c.ID > MaxNetworkID:
		return Invalidf("network id must be <= %d, got %d", MaxNetworkID, c.ID)
	case c.NodeCount < MinNodeCount:
		return Invalidf("node count must be >= %d, got %d", MinNodeCount, c.NodeCount)
	case 2*c.NodeCount > maxNodeOrdinal:
		return Invalidf("node count must be <= %d, got %d", maxNodeOrdinal/2, c.NodeCount)
	case c.UserCount < 0:
		return Invalidf("user count must be >= 0, got %d", c.UserCount)
	case c.BootstrapCount < 0:
		return Invalidf("bootstrap count must be >= 0, got %d", c.BootstrapCount)
	case c.GenesisDelay < 0:
		return Invalidf("genesis delay must be >= 0, got %d", c.GenesisDelay)
	case c.ChainName == "":
		return Invalidf("chain name is empty")
	case c.NodeBinary == "":
		return Invalidf("node binary name is empty")
	case c.ClientBinary == "":
		return Invalidf("client binary name is empty")
	}
	switch c.AccountType {
	case AccountTypeEd25519, AccountTypeSecp256k1:
	default:
		return Invalidf("unknown account type %q", c.AccountType)
	}
	switch c.Backend {
	case BackendProcess:
	case BackendDocker:
		if c.DockerImage == "" {
			return Invalidf("docker backend requires a docker image")
		}
	default:
		return Invalidf("unknown daemon backend %q", c.Backend)
	}
	return nil
}

// ActiveNodeIDs returns the genesis set, 1..N.
func (c *Config) ActiveNodeIDs() []int {
	return idRange(1, c.NodeCount)
}

// ReserveNodeIDs returns the rotation reserve, N+1..2N.
func (c *Config) ReserveNodeIDs() []int {
	return idRange(c.NodeCount+1, 2*c.NodeCount)
}

// NodeIDs returns every provisioned node, 1..2N.
func (c *Config) NodeIDs() []int {
	return idRange(1, 2*c.NodeCount)
}

func (c *Config) HasNode(nodeID int) bool {
	return nodeID >= 1 && nodeID <= 2*c.NodeCount
}

func (c *Config) IsGenesisNode(nodeID int) bool {
	return nodeID >= 1 && nodeID <= c.NodeCount
}

// Bootstraps returns the genesis nodes every other node learns peers from.
// A bootstrap count of 0 falls back to a single bootstrap.
func (c *Config) Bootstraps() []int {
	n := c.BootstrapCount
	if n < 1 {
		n = 1
	}
	if n > c.NodeCount {
		n = c.NodeCount
	}
	return idRange(1, n)
}

// Ports are derived from the network and node ordinals so that
// distinct networks on one host never collide. Only meaningful for a
// config that passed Validate.
func (c *Config) Ports(nodeID int) Ports {
	port := func(class int) uint16 {
		return uint16(basePort + c.ID*networkPortSpan + class*portClassWidth + nodeID)
	}
	return Ports{
		Protocol: port(protocolClass),
		RPC:      port(rpcClass),
		REST:     port(restClass),
		Events:   port(eventClass),
	}
}

// Save writes the config into the network's root directory.
func (c *Config) Save(layout Layout) error {
	b, err := toml.Marshal(*c)
	if err != nil {
		return fmt.Errorf("couldn't marshal network config: %w", err)
	}
	if err := os.MkdirAll(layout.Root(), 0o750); err != nil {
		return err
	}
	return os.WriteFile(layout.ConfigFile(), b, 0o640)
}

// Load reads the config of network [id] under [home].
func Load(home string, id int) (Config, error) {
	layout := NewLayout(home, id)
	b, err := os.ReadFile(layout.ConfigFile())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: network %d at %s", ErrNetworkNotFound, id, layout.Root())
		}
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("couldn't unmarshal %s: %w", layout.ConfigFile(), err)
	}
	return cfg, nil
}

func idRange(from, to int) []int {
	if to < from {
		return nil
	}
	ids := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		ids = append(ids, i)
	}
	return ids
}
