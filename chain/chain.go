// Package chain reads the chain state a node reports about itself.
package chain

import (
	"context"
)

// Observation is one sample of a node's view of the chain. It's
// recomputed on every poll and never stored.
type Observation struct {
	NodeID int
	Era    uint64
	Height uint64
	// Hash of the last finalized block.
	Hash string
	// False until the node has finalized a block.
	Available bool
}

// Reader samples a node's chain state.
type Reader interface {
	Observe(ctx context.Context, nodeID int) (Observation, error)
}
