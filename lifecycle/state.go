package lifecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/utils"
	"github.com/pelletier/go-toml"
)

type activeSetFile struct {
	Nodes []int `toml:"nodes"`
}

// loadActiveSet returns false when nothing was recorded yet.
func loadActiveSet(path string, cfg network.Config) ([]int, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var f activeSetFile
	if err := toml.Unmarshal(b, &f); err != nil {
		return nil, false, fmt.Errorf("couldn't parse %s: %w", path, err)
	}
	if len(f.Nodes) != cfg.NodeCount {
		return nil, false, fmt.Errorf("%s holds %d nodes, network has %d validators", path, len(f.Nodes), cfg.NodeCount)
	}
	for _, id := range f.Nodes {
		if !cfg.HasNode(id) {
			return nil, false, fmt.Errorf("%s: %w: node %d", path, network.ErrNodeNotFound, id)
		}
	}
	return f.Nodes, true, nil
}

func saveActiveSet(path string, ids []int) error {
	b, err := toml.Marshal(activeSetFile{Nodes: ids})
	if err != nil {
		return err
	}
	return utils.CreateFileAndWrite(path, b)
}
