// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lifecycle turns daemon triggers into verified node transitions.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"github.com/ledgerops/ledger-network-runner/pkg/metrics"
	"github.com/ledgerops/ledger-network-runner/pkg/poll"
	"go.uber.org/zap"
)

const (
	DefaultRetries = 30

	OpStart  = "start"
	OpStop   = "stop"
	OpRotate = "rotate"
)

// Handle is the manager's view of one node's daemon.
type Handle struct {
	NodeID int
	Status status.Status
}

type Option func(*Manager)

func WithSleeper(s poll.Sleeper) Option {
	return func(m *Manager) { m.sleeper = s }
}

// WithRetries bounds the status polls of one transition.
func WithRetries(n int) Option {
	return func(m *Manager) { m.retries = n }
}

func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithStateFile persists the active set at [path] after every rotation
// so later invocations start the rotated set.
func WithStateFile(path string) Option {
	return func(m *Manager) { m.stateFile = path }
}

// Manager owns every node's status. Nothing else mutates it.
type Manager struct {
	log      *zap.Logger
	cfg      network.Config
	daemon   daemon.Daemon
	sleeper  poll.Sleeper
	retries  int
	interval time.Duration
	metrics  *metrics.Metrics
	// Empty when the active set isn't persisted.
	stateFile string

	handles map[int]*Handle
	active  *ActiveSet
}

func NewManager(log *zap.Logger, cfg network.Config, d daemon.Daemon, opts ...Option) *Manager {
	m := &Manager{
		log:      log,
		cfg:      cfg,
		daemon:   d,
		sleeper:  poll.RealSleeper{},
		retries:  DefaultRetries,
		interval: poll.DefaultInterval,
		handles:  make(map[int]*Handle),
		active:   NewActiveSet(cfg.ActiveNodeIDs()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewUnregistered()
	}
	for _, id := range cfg.NodeIDs() {
		m.handles[id] = &Handle{NodeID: id, Status: status.Unknown}
	}
	return m
}

func (m *Manager) Config() network.Config { return m.cfg }

func (m *Manager) ActiveSet() *ActiveSet { return m.active }

func (m *Manager) Handle(nodeID int) (Handle, bool) {
	h, ok := m.handles[nodeID]
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// Handles returns every handle ordered by node id.
func (m *Manager) Handles() []Handle {
	out := make([]Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// StartNode starts [nodeID] and waits until the daemon reports it running.
// A non-empty [trustedHash] makes the node sync from that block.
func (m *Manager) StartNode(ctx context.Context, nodeID int, trustedHash string) error {
	return m.transition(ctx, nodeID, OpStart, status.Running, status.Starting, network.ErrStartupFailed,
		func(ctx context.Context) error {
			return m.daemon.Start(ctx, nodeID, daemon.StartOptions{TrustedHash: trustedHash})
		})
}

// StopNode stops [nodeID] and waits until the daemon reports it stopped.
func (m *Manager) StopNode(ctx context.Context, nodeID int) error {
	return m.transition(ctx, nodeID, OpStop, status.Stopped, status.Stopping, network.ErrShutdownFailed,
		func(ctx context.Context) error {
			return m.daemon.Stop(ctx, nodeID)
		})
}

func (m *Manager) transition(
	ctx context.Context,
	nodeID int,
	op string,
	target status.Status,
	intermediate status.Status,
	failure error,
	trigger func(context.Context) error,
) error {
	h, ok := m.handles[nodeID]
	if !ok {
		return network.NewNodeError(nodeID, op, network.ErrNodeNotFound)
	}
	switch h.Status {
	case status.Failed:
		return network.NewNodeError(nodeID, op, network.ErrNodeFailed)
	case target:
		m.log.Debug("node already in target state", zap.Int("node", nodeID), zap.String("op", op), zap.Stringer("status", target))
		return nil
	}

	log := m.log.With(zap.Int("node", nodeID), zap.String("op", op))
	start := time.Now()
	h.Status = intermediate
	if err := trigger(ctx); err != nil {
		return m.fail(h, op, fmt.Errorf("%w: %v", failure, err))
	}
	reached, err := poll.Until(ctx, m.sleeper, m.interval, m.retries, func(ctx context.Context) (bool, error) {
		st, err := m.daemon.Status(ctx, nodeID)
		if err != nil {
			log.Debug("status poll failed", zap.Error(err))
			return false, nil
		}
		return st == target, nil
	})
	if err != nil {
		return m.fail(h, op, fmt.Errorf("%w: %v", failure, err))
	}
	if !reached {
		return m.fail(h, op, fmt.Errorf("%w: not %s after %d polls", failure, target, m.retries))
	}
	h.Status = target
	m.metrics.NodeTransitions.WithLabelValues(op, metrics.ResultOK).Inc()
	log.Info("node transitioned", zap.Stringer("status", target), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *Manager) fail(h *Handle, op string, err error) error {
	h.Status = status.Failed
	m.metrics.NodeTransitions.WithLabelValues(op, metrics.ResultFailed).Inc()
	return network.NewNodeError(h.NodeID, op, err)
}

// Rotate stops active node [out] and starts reserve node [in] in its
// place, keeping the number of active nodes constant.
func (m *Manager) Rotate(ctx context.Context, out, in int, trustedHash string) error {
	if !m.cfg.HasNode(in) {
		return network.NewNodeError(in, OpRotate, network.ErrNodeNotFound)
	}
	if !m.active.Contains(out) {
		return network.NewNodeError(out, OpRotate, network.Invalidf("node %d is not active", out))
	}
	if m.active.Contains(in) {
		return network.NewNodeError(in, OpRotate, network.Invalidf("node %d is already active", in))
	}
	if err := m.StopNode(ctx, out); err != nil {
		return err
	}
	if err := m.StartNode(ctx, in, trustedHash); err != nil {
		return err
	}
	if err := m.active.Swap(out, in); err != nil {
		return network.NewNodeError(in, OpRotate, err)
	}
	if m.stateFile != "" {
		if err := saveActiveSet(m.stateFile, m.active.IDs()); err != nil {
			return network.NewNodeError(in, OpRotate, fmt.Errorf("couldn't record active set: %w", err))
		}
	}
	m.log.Info("rotated validator", zap.Int("out", out), zap.Int("in", in), zap.Stringer("active", m.active))
	return nil
}

// Sync refreshes every handle from the daemon, clearing FAILED marks, and
// rebuilds the active set. A recorded rotation wins; without one, the
// running nodes become the active set when any node runs.
func (m *Manager) Sync(ctx context.Context) error {
	var running []int
	for _, id := range m.cfg.NodeIDs() {
		st, err := m.daemon.Status(ctx, id)
		if err != nil {
			m.log.Debug("status poll failed", zap.Int("node", id), zap.Error(err))
			st = status.Unknown
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m.handles[id].Status = st
		if st == status.Running {
			running = append(running, id)
		}
	}
	if m.stateFile != "" {
		ids, ok, err := loadActiveSet(m.stateFile, m.cfg)
		if err != nil {
			return err
		}
		if ok {
			m.active = NewActiveSet(ids)
			return nil
		}
	}
	if len(running) > 0 {
		m.active = NewActiveSet(running)
	}
	return nil
}
