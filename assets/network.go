package assets

import (
	"github.com/ledgerops/ledger-network-runner/network"
)

// Network is the explicit, immutable description of a provisioned network.
// Every component receives it (or its Config) instead of ambient state.
type Network struct {
	Config   network.Config
	Layout   network.Layout
	Nodes    []network.NodeAsset
	Users    []network.UserAsset
	Faucet   network.FaucetAsset
	Manifest network.GenesisManifest
}

func (n *Network) Node(nodeID int) (network.NodeAsset, bool) {
	for _, node := range n.Nodes {
		if node.ID == nodeID {
			return node, true
		}
	}
	return network.NodeAsset{}, false
}

func (n *Network) User(userID int) (network.UserAsset, bool) {
	for _, user := range n.Users {
		if user.ID == userID {
			return user, true
		}
	}
	return network.UserAsset{}, false
}

// GenesisNodes returns the nodes marked genesis-active.
func (n *Network) GenesisNodes() []network.NodeAsset {
	var out []network.NodeAsset
	for _, node := range n.Nodes {
		if node.Role == network.GenesisActive {
			out = append(out, node)
		}
	}
	return out
}
