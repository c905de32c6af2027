// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package daemon

import (
	"context"

	"github.com/ledgerops/ledger-network-runner/network/node/status"
)

// Daemon controls node processes through one supervisor backend.
// Start and Stop are triggers: they return once the supervisor accepted
// the request, and callers confirm the transition by polling Status.
type Daemon interface {
	// Start a node. Starting a running node is a no-op.
	Start(ctx context.Context, nodeID int, opts StartOptions) error
	// Stop a node. Stopping a stopped node is a no-op.
	Stop(ctx context.Context, nodeID int) error
	// Status is one of Running, Stopped or Unknown.
	Status(ctx context.Context, nodeID int) (status.Status, error)
}

type StartOptions struct {
	// If set, the node fast-syncs from this block instead of genesis.
	TrustedHash string
}

// TrustedHashOverride is the node config override for a trusted hash.
func (o StartOptions) TrustedHashOverride() string {
	return "node.trusted_hash=" + o.TrustedHash
}
