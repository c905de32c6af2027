// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dispatch sends transfer deploys through the ledger client.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ledgerops/ledger-network-runner/assets"
	"github.com/ledgerops/ledger-network-runner/lifecycle"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/pkg/metrics"
	"github.com/ledgerops/ledger-network-runner/pkg/poll"
	"go.uber.org/zap"
)

const OpDispatch = "dispatch"

// DeployHash identifies a deploy accepted by a node.
type DeployHash string

// TransferRequest is one native transfer from the faucet.
type TransferRequest struct {
	NodeID          int
	NodeAddress     string
	ChainName       string
	SecretKeyPath   string
	TargetPublicKey string
	Amount          string
	Payment         string
	GasPrice        uint64
	TransferID      uint64
}

// Client submits a transfer and blocks until a node accepted it.
type Client interface {
	Transfer(ctx context.Context, req TransferRequest) (DeployHash, error)
}

// Target selects where deploys go. All round-robins the active set.
type Target struct {
	All  bool
	Node int
}

func (t Target) String() string {
	if t.All {
		return "all"
	}
	return strconv.Itoa(t.Node)
}

type Request struct {
	Target Target
	// Receiving user ordinal.
	User     int
	Amount   string
	Count    int
	Interval time.Duration
	GasPrice uint64
	Payment  string
}

// Deploy is one accepted transfer.
type Deploy struct {
	NodeID int
	Hash   DeployHash
}

type Option func(*Dispatcher)

func WithSleeper(s poll.Sleeper) Option {
	return func(d *Dispatcher) { d.sleeper = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type Dispatcher struct {
	log     *zap.Logger
	net     *assets.Network
	manager *lifecycle.Manager
	client  Client
	sleeper poll.Sleeper
	metrics *metrics.Metrics
}

func New(log *zap.Logger, net *assets.Network, manager *lifecycle.Manager, client Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:     log,
		net:     net,
		manager: manager,
		client:  client,
		sleeper: poll.RealSleeper{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewUnregistered()
	}
	return d
}

// Dispatch sends [req.Count] transfers from the faucet to [req.User], one
// at a time, sleeping [req.Interval] after each. The first failure stops
// the loop; the deploys accepted until then are returned with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) ([]Deploy, error) {
	user, ok := d.net.User(req.User)
	if !ok {
		return nil, network.Invalidf("user %d doesn't exist", req.User)
	}
	if req.Count < 0 {
		return nil, network.Invalidf("count must be >= 0, got %d", req.Count)
	}
	next, err := d.selector(req.Target)
	if err != nil {
		return nil, err
	}

	cfg := d.net.Config
	secretKey := assets.SecretKeyPath(cfg, d.net.Faucet.Account)
	deploys := make([]Deploy, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		nodeID := next()
		hash, err := d.client.Transfer(ctx, TransferRequest{
			NodeID:          nodeID,
			NodeAddress:     NodeAddress(cfg, nodeID),
			ChainName:       cfg.ChainName,
			SecretKeyPath:   secretKey,
			TargetPublicKey: user.PublicKey,
			Amount:          req.Amount,
			Payment:         req.Payment,
			GasPrice:        req.GasPrice,
			TransferID:      uint64(i + 1),
		})
		if err != nil {
			return deploys, network.NewNodeError(nodeID, OpDispatch, fmt.Errorf("%w: deploy %d of %d: %v", network.ErrDispatch, i+1, req.Count, err))
		}
		deploys = append(deploys, Deploy{NodeID: nodeID, Hash: hash})
		d.metrics.Deploys.WithLabelValues(strconv.Itoa(nodeID)).Inc()
		d.log.Debug("deploy accepted", zap.Int("node", nodeID), zap.String("deploy", string(hash)))

		if err := d.sleeper.Sleep(ctx, req.Interval); err != nil {
			return deploys, err
		}
	}
	d.log.Info("dispatched deploys",
		zap.Int("count", len(deploys)),
		zap.Stringer("target", req.Target),
		zap.Int("user", req.User),
	)
	return deploys, nil
}

func (d *Dispatcher) selector(target Target) (func() int, error) {
	if target.All {
		active := d.manager.ActiveSet()
		if active.Len() == 0 {
			return nil, network.Invalidf("no active nodes")
		}
		return active.Cursor().Next, nil
	}
	if !d.net.Config.HasNode(target.Node) {
		return nil, fmt.Errorf("%w: node %d", network.ErrNodeNotFound, target.Node)
	}
	return func() int { return target.Node }, nil
}

// NodeAddress is the RPC endpoint of [nodeID].
func NodeAddress(cfg network.Config, nodeID int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/rpc", cfg.Ports(nodeID).RPC)
}
