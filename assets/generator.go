// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package assets

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/utils"
	"github.com/pelletier/go-toml"
	"go.uber.org/zap"
)

var (
	//go:embed templates/chainspec.toml
	chainspecTemplate []byte
	//go:embed templates/config.toml
	nodeConfigTemplate []byte
)

const (
	// 1e33 motes.
	defaultBalance = "1" + "000000000000000000000000000000000"
	// Node stake weight is baseStakeWeight + node id.
	baseStakeWeight = int64(1_000_000_000_000_000)
	zeroWeight      = "0"
)

// Sources are the host paths staged into a network's bin directory.
// An empty path is skipped; a non-empty path must exist.
type Sources struct {
	NodeBinary   string
	ClientBinary string
	// Directory whose *.wasm files are staged.
	ContractsDir string
}

func (s Sources) validate() error {
	for _, path := range []string{s.NodeBinary, s.ClientBinary} {
		if path != "" && !utils.FileExists(path) {
			return network.Invalidf("binary %s doesn't exist", path)
		}
	}
	if s.ContractsDir != "" {
		info, err := os.Stat(s.ContractsDir)
		if err != nil || !info.IsDir() {
			return network.Invalidf("contracts directory %s doesn't exist", s.ContractsDir)
		}
	}
	return nil
}

// CleanupFunc is called with the config of a network about to be
// replaced, while its asset tree still exists.
type CleanupFunc func(ctx context.Context, cfg network.Config) error

type Option func(*Generator)

// WithCleanup sets the hook that stops a previous network's daemons.
func WithCleanup(fn CleanupFunc) Option {
	return func(g *Generator) {
		g.cleanup = fn
	}
}

// WithClock overrides the clock used for the genesis timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// Generator builds a network's on-disk asset tree.
type Generator struct {
	log     *zap.Logger
	home    string
	sources Sources
	cleanup CleanupFunc
	now     func() time.Time
}

func NewGenerator(log *zap.Logger, home string, sources Sources, opts ...Option) *Generator {
	g := &Generator{
		log:     log,
		home:    home,
		sources: sources,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate provisions network [cfg.ID]. Any previous tree for the same id
// is torn down first. On failure the partial tree is removed.
func (g *Generator) Generate(ctx context.Context, cfg network.Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := g.sources.validate(); err != nil {
		return nil, err
	}
	layout := network.NewLayout(g.home, cfg.ID)
	if err := g.replaceExisting(ctx, layout, cfg.ID); err != nil {
		return nil, err
	}

	cfg.GenesisTimestamp = g.now().Add(time.Duration(cfg.GenesisDelay) * time.Second).UTC().Truncate(time.Second)
	net, err := g.generate(ctx, layout, cfg)
	if err != nil {
		if rmErr := Teardown(g.home, cfg.ID); rmErr != nil {
			g.log.Warn("couldn't remove partial network", zap.Int("network", cfg.ID), zap.Error(rmErr))
		}
		return nil, err
	}
	g.log.Info("generated network",
		zap.Int("network", cfg.ID),
		zap.String("chain", cfg.ChainName),
		zap.Int("nodes", len(net.Nodes)),
		zap.Int("users", len(net.Users)),
		zap.Time("genesis", cfg.GenesisTimestamp),
		zap.String("root", layout.Root()),
	)
	return net, nil
}

func (g *Generator) replaceExisting(ctx context.Context, layout network.Layout, id int) error {
	if _, err := os.Stat(layout.Root()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	g.log.Info("tearing down existing network", zap.Int("network", id), zap.String("root", layout.Root()))
	if g.cleanup != nil {
		if prev, err := network.Load(g.home, id); err == nil {
			if err := g.cleanup(ctx, prev); err != nil {
				return fmt.Errorf("couldn't stop existing network %d: %w", id, err)
			}
		}
	}
	return Teardown(g.home, id)
}

func (g *Generator) generate(ctx context.Context, layout network.Layout, cfg network.Config) (*Network, error) {
	if err := createTree(layout, cfg); err != nil {
		return nil, fmt.Errorf("couldn't create asset tree: %w", err)
	}
	if err := g.stage(layout, cfg); err != nil {
		return nil, err
	}

	nodeIDs := cfg.NodeIDs()
	keys, err := generateKeyPairs(ctx, cfg.AccountType, 1+len(nodeIDs)+cfg.UserCount)
	if err != nil {
		return nil, err
	}

	net := &Network{Config: cfg, Layout: layout}
	net.Faucet = network.FaucetAsset{Account: network.Account{
		PublicKey: keys[0].PublicKeyHex(),
		Balance:   defaultBalance,
		KeyDir:    layout.Faucet(),
	}}
	if err := keys[0].Write(layout.Faucet()); err != nil {
		return nil, err
	}
	for i, nodeID := range nodeIDs {
		key := keys[1+i]
		if err := key.Write(layout.NodeKeys(nodeID)); err != nil {
			return nil, err
		}
		net.Nodes = append(net.Nodes, newNodeAsset(cfg, layout, nodeID, key.PublicKeyHex()))
	}
	for userID := 1; userID <= cfg.UserCount; userID++ {
		key := keys[len(nodeIDs)+userID]
		if err := key.Write(layout.User(userID)); err != nil {
			return nil, err
		}
		net.Users = append(net.Users, network.UserAsset{ID: userID, Account: network.Account{
			PublicKey: key.PublicKeyHex(),
			Balance:   defaultBalance,
			KeyDir:    layout.User(userID),
		}})
	}

	net.Manifest = buildManifest(net)
	if err := writeManifest(layout, net.Manifest); err != nil {
		return nil, err
	}
	if err := writeChainspec(layout, cfg); err != nil {
		return nil, err
	}
	for _, nodeID := range nodeIDs {
		if err := writeNodeConfig(layout, cfg, nodeID); err != nil {
			return nil, err
		}
	}
	if err := cfg.Save(layout); err != nil {
		return nil, fmt.Errorf("couldn't save network config: %w", err)
	}
	return net, nil
}

func newNodeAsset(cfg network.Config, layout network.Layout, nodeID int, publicKey string) network.NodeAsset {
	node := network.NodeAsset{
		ID:          nodeID,
		Role:        network.RotationReserve,
		StakeWeight: zeroWeight,
		Account: network.Account{
			PublicKey: publicKey,
			Balance:   zeroWeight,
			KeyDir:    layout.NodeKeys(nodeID),
		},
	}
	if cfg.IsGenesisNode(nodeID) {
		node.Role = network.GenesisActive
		node.Balance = defaultBalance
		node.StakeWeight = fmt.Sprintf("%d", baseStakeWeight+int64(nodeID))
	}
	return node
}

// buildManifest lists the faucet, the genesis-active nodes and the users,
// in that order.
func buildManifest(net *Network) network.GenesisManifest {
	m := network.GenesisManifest{}
	m.Rows = append(m.Rows, network.GenesisRow{
		PublicKey:   net.Faucet.PublicKey,
		Balance:     net.Faucet.Balance,
		StakeWeight: zeroWeight,
	})
	for _, node := range net.GenesisNodes() {
		m.Rows = append(m.Rows, network.GenesisRow{
			PublicKey:   node.PublicKey,
			Balance:     node.Balance,
			StakeWeight: node.StakeWeight,
		})
	}
	for _, user := range net.Users {
		m.Rows = append(m.Rows, network.GenesisRow{
			PublicKey:   user.PublicKey,
			Balance:     user.Balance,
			StakeWeight: zeroWeight,
		})
	}
	return m
}

func createTree(layout network.Layout, cfg network.Config) error {
	dirs := []string{
		layout.Bin(),
		layout.Chainspec(),
		layout.Faucet(),
		layout.Users(),
		layout.DaemonConfig(),
		layout.DaemonLogs(),
		layout.DaemonSockets(),
		layout.DaemonState(),
	}
	for userID := 1; userID <= cfg.UserCount; userID++ {
		dirs = append(dirs, layout.User(userID))
	}
	for _, nodeID := range cfg.NodeIDs() {
		dirs = append(dirs,
			layout.NodeConfig(nodeID),
			layout.NodeLogs(nodeID),
			layout.NodeKeys(nodeID),
			layout.NodeSockets(nodeID),
			layout.NodeStorage(nodeID),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, utils.DefaultDirPerms); err != nil {
			return err
		}
	}
	return nil
}

// stage copies binaries and contracts into bin/.
func (g *Generator) stage(layout network.Layout, cfg network.Config) error {
	binaries := []struct{ src, name string }{
		{g.sources.NodeBinary, cfg.NodeBinary},
		{g.sources.ClientBinary, cfg.ClientBinary},
	}
	for _, b := range binaries {
		if b.src == "" {
			g.log.Warn("no source for binary, skipping", zap.String("binary", b.name))
			continue
		}
		if err := utils.CopyFile(b.src, layout.BinFile(b.name), utils.DefaultExecPerms); err != nil {
			return fmt.Errorf("couldn't stage %s: %w", b.name, err)
		}
	}
	if g.sources.ContractsDir == "" {
		return nil
	}
	contracts, err := filepath.Glob(filepath.Join(g.sources.ContractsDir, "*.wasm"))
	if err != nil {
		return err
	}
	for _, src := range contracts {
		if err := utils.CopyFile(src, layout.BinFile(filepath.Base(src)), utils.DefaultFilePerms); err != nil {
			return fmt.Errorf("couldn't stage contract %s: %w", filepath.Base(src), err)
		}
	}
	g.log.Debug("staged contracts", zap.Int("count", len(contracts)))
	return nil
}

func writeManifest(layout network.Layout, m network.GenesisManifest) error {
	b, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("couldn't marshal accounts: %w", err)
	}
	return utils.CreateFileAndWrite(layout.AccountsFile(), b)
}

func writeChainspec(layout network.Layout, cfg network.Config) error {
	tree, err := toml.LoadBytes(chainspecTemplate)
	if err != nil {
		return fmt.Errorf("couldn't parse chainspec template: %w", err)
	}
	tree.Set("network.name", cfg.ChainName)
	tree.Set("network.accounts_path", layout.AccountsFile())
	tree.Set("protocol.activation_point", cfg.GenesisTimestamp.Format(time.RFC3339))
	tree.Set("core.validator_slots", int64(cfg.NodeCount))
	return writeTree(layout.ChainspecFile(), tree)
}

func writeNodeConfig(layout network.Layout, cfg network.Config, nodeID int) error {
	tree, err := toml.LoadBytes(nodeConfigTemplate)
	if err != nil {
		return fmt.Errorf("couldn't parse node config template: %w", err)
	}
	ports := cfg.Ports(nodeID)
	known := []interface{}{}
	for _, b := range cfg.Bootstraps() {
		if b == nodeID {
			continue
		}
		known = append(known, fmt.Sprintf("127.0.0.1:%d", cfg.Ports(b).Protocol))
	}
	tree.Set("consensus.secret_key_path", filepath.Join(layout.NodeKeys(nodeID), SecretKeyFile(cfg.AccountType)))
	tree.Set("network.public_address", fmt.Sprintf("127.0.0.1:%d", ports.Protocol))
	tree.Set("network.bind_address", fmt.Sprintf("0.0.0.0:%d", ports.Protocol))
	tree.Set("network.known_addresses", known)
	tree.Set("rpc_server.address", fmt.Sprintf("0.0.0.0:%d", ports.RPC))
	tree.Set("rest_server.address", fmt.Sprintf("0.0.0.0:%d", ports.REST))
	tree.Set("event_stream_server.address", fmt.Sprintf("0.0.0.0:%d", ports.Events))
	tree.Set("storage.path", layout.NodeStorage(nodeID))
	tree.Set("node.chainspec_config_path", layout.ChainspecFile())
	return writeTree(layout.NodeConfigFile(nodeID), tree)
}

func writeTree(path string, tree *toml.Tree) error {
	s, err := tree.ToTomlString()
	if err != nil {
		return fmt.Errorf("couldn't render %s: %w", filepath.Base(path), err)
	}
	return utils.CreateFileAndWrite(path, []byte(s))
}

// Teardown removes network [id]'s asset tree. A missing tree is a no-op.
func Teardown(home string, id int) error {
	root := network.NewLayout(home, id).Root()
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("couldn't remove %s: %w", root, err)
	}
	return nil
}

// Load reads back a network generated under [home].
func Load(home string, id int) (*Network, error) {
	cfg, err := network.Load(home, id)
	if err != nil {
		return nil, err
	}
	layout := network.NewLayout(home, id)
	net := &Network{Config: cfg, Layout: layout}

	b, err := os.ReadFile(layout.AccountsFile())
	if err != nil {
		return nil, fmt.Errorf("couldn't read accounts: %w", err)
	}
	if err := toml.Unmarshal(b, &net.Manifest); err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", layout.AccountsFile(), err)
	}

	pub, err := ReadPublicKey(layout.Faucet())
	if err != nil {
		return nil, err
	}
	net.Faucet = network.FaucetAsset{Account: network.Account{PublicKey: pub, Balance: defaultBalance, KeyDir: layout.Faucet()}}
	for _, nodeID := range cfg.NodeIDs() {
		pub, err := ReadPublicKey(layout.NodeKeys(nodeID))
		if err != nil {
			return nil, err
		}
		net.Nodes = append(net.Nodes, newNodeAsset(cfg, layout, nodeID, pub))
	}
	for userID := 1; userID <= cfg.UserCount; userID++ {
		pub, err := ReadPublicKey(layout.User(userID))
		if err != nil {
			return nil, err
		}
		net.Users = append(net.Users, network.UserAsset{ID: userID, Account: network.Account{
			PublicKey: pub,
			Balance:   defaultBalance,
			KeyDir:    layout.User(userID),
		}})
	}
	return net, nil
}

// SecretKeyPath is the secret key file of an account of [cfg]'s type.
func SecretKeyPath(cfg network.Config, account network.Account) string {
	return filepath.Join(account.KeyDir, SecretKeyFile(cfg.AccountType))
}
