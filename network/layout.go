package network

import (
	"fmt"
	"path/filepath"
)

const assetsDirName = "assets"

// Layout resolves every path of a network's asset tree.
// The root directory is owned by exactly one run at a time.
type Layout struct {
	root string
}

func NewLayout(home string, id int) Layout {
	return Layout{root: filepath.Join(home, assetsDirName, fmt.Sprintf("net-%d", id))}
}

func (l Layout) Root() string       { return l.root }
func (l Layout) ConfigFile() string { return filepath.Join(l.root, configFileName) }

func (l Layout) Bin() string                { return filepath.Join(l.root, "bin") }
func (l Layout) BinFile(name string) string { return filepath.Join(l.Bin(), name) }

func (l Layout) Chainspec() string     { return filepath.Join(l.root, "chainspec") }
func (l Layout) ChainspecFile() string { return filepath.Join(l.Chainspec(), "chainspec.toml") }
func (l Layout) AccountsFile() string  { return filepath.Join(l.Chainspec(), "accounts.toml") }

func (l Layout) Faucet() string { return filepath.Join(l.root, "faucet") }

func (l Layout) Users() string { return filepath.Join(l.root, "users") }
func (l Layout) User(userID int) string {
	return filepath.Join(l.Users(), fmt.Sprintf("user-%d", userID))
}

func (l Layout) Nodes() string { return filepath.Join(l.root, "nodes") }
func (l Layout) Node(nodeID int) string {
	return filepath.Join(l.Nodes(), fmt.Sprintf("node-%d", nodeID))
}
func (l Layout) NodeConfig(nodeID int) string { return filepath.Join(l.Node(nodeID), "config") }
func (l Layout) NodeConfigFile(nodeID int) string {
	return filepath.Join(l.NodeConfig(nodeID), "config.toml")
}
func (l Layout) NodeLogs(nodeID int) string    { return filepath.Join(l.Node(nodeID), "logs") }
func (l Layout) NodeStdout(nodeID int) string  { return filepath.Join(l.NodeLogs(nodeID), "stdout.log") }
func (l Layout) NodeStderr(nodeID int) string  { return filepath.Join(l.NodeLogs(nodeID), "stderr.log") }
func (l Layout) NodeKeys(nodeID int) string    { return filepath.Join(l.Node(nodeID), "keys") }
func (l Layout) NodeSockets(nodeID int) string { return filepath.Join(l.Node(nodeID), "sockets") }
func (l Layout) NodeStorage(nodeID int) string { return filepath.Join(l.Node(nodeID), "storage") }

func (l Layout) Daemon() string        { return filepath.Join(l.root, "daemon") }
func (l Layout) DaemonConfig() string  { return filepath.Join(l.Daemon(), "config") }
func (l Layout) DaemonLogs() string    { return filepath.Join(l.Daemon(), "logs") }
func (l Layout) DaemonSockets() string { return filepath.Join(l.Daemon(), "sockets") }
func (l Layout) DaemonState() string   { return filepath.Join(l.Daemon(), "state") }

// ActiveSetFile records the validator set once a rotation changed it.
func (l Layout) ActiveSetFile() string { return filepath.Join(l.Daemon(), "active_set.toml") }
