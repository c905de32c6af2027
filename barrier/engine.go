// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package barrier implements the wait conditions a scenario synchronizes on.
// Every barrier samples at a fixed cadence and either is satisfied or
// times out; a timeout is always returned as an error.
package barrier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ledgerops/ledger-network-runner/chain"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/pkg/metrics"
	"github.com/ledgerops/ledger-network-runner/pkg/poll"
	"go.uber.org/zap"
)

const (
	AwaitEraName    = "await-era"
	AwaitBlocksName = "await-blocks"
	CheckSyncName   = "check-sync"
)

type Option func(*Engine)

func WithSleeper(s poll.Sleeper) Option {
	return func(e *Engine) { e.sleeper = s }
}

func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

type Engine struct {
	log      *zap.Logger
	reader   chain.Reader
	sleeper  poll.Sleeper
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewEngine(log *zap.Logger, reader chain.Reader, opts ...Option) *Engine {
	e := &Engine{
		log:      log,
		reader:   reader,
		sleeper:  poll.RealSleeper{},
		interval: poll.DefaultInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewUnregistered()
	}
	return e
}

// await runs [cond] for at most floor(timeout/interval) ticks.
func (e *Engine) await(ctx context.Context, name string, timeout time.Duration, cond poll.Condition) (bool, error) {
	start := time.Now()
	ok, err := poll.Until(ctx, e.sleeper, e.interval, poll.Ticks(timeout, e.interval), func(ctx context.Context) (bool, error) {
		e.metrics.BarrierPolls.WithLabelValues(name).Inc()
		return cond(ctx)
	})
	result := metrics.ResultOK
	switch {
	case err != nil:
		result = metrics.ResultFailed
	case !ok:
		result = metrics.ResultTimeout
	}
	e.metrics.BarrierResults.WithLabelValues(name, result).Inc()
	e.log.Debug("barrier finished",
		zap.String("barrier", name),
		zap.String("result", result),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ok, err
}

// observe treats a failed read like an unavailable value.
func (e *Engine) observe(ctx context.Context, nodeID int) chain.Observation {
	obs, err := e.reader.Observe(ctx, nodeID)
	if err != nil {
		e.log.Debug("observation failed", zap.Int("node", nodeID), zap.Error(err))
		return chain.Observation{NodeID: nodeID}
	}
	return obs
}

// AwaitEra waits until [nodeID] reports exactly era [target].
// A zero timeout times out without sampling.
func (e *Engine) AwaitEra(ctx context.Context, nodeID int, target uint64, timeout time.Duration) error {
	var last chain.Observation
	ok, err := e.await(ctx, AwaitEraName, timeout, func(ctx context.Context) (bool, error) {
		last = e.observe(ctx, nodeID)
		return last.Available && last.Era == target, nil
	})
	if err != nil {
		return network.NewNodeError(nodeID, AwaitEraName, err)
	}
	if !ok {
		return network.NewNodeError(nodeID, AwaitEraName,
			fmt.Errorf("%w: era %d not reached within %s (last %s)", network.ErrTimeout, target, timeout, describe(last)))
	}
	e.log.Info("era reached", zap.Int("node", nodeID), zap.Uint64("era", target))
	return nil
}

// AwaitNBlocks waits until [nodeID]'s height grew by [offset] from the
// first height it reports. An offset of 0 is satisfied immediately.
func (e *Engine) AwaitNBlocks(ctx context.Context, nodeID int, offset uint64, timeout time.Duration) error {
	if offset == 0 {
		return nil
	}
	var (
		startHeight uint64
		started     bool
		last        chain.Observation
	)
	ok, err := e.await(ctx, AwaitBlocksName, timeout, func(ctx context.Context) (bool, error) {
		last = e.observe(ctx, nodeID)
		if !last.Available {
			return false, nil
		}
		if !started {
			startHeight, started = last.Height, true
			e.log.Debug("awaiting blocks", zap.Int("node", nodeID), zap.Uint64("height", startHeight), zap.Uint64("offset", offset))
		}
		return last.Height >= startHeight+offset, nil
	})
	if err != nil {
		return network.NewNodeError(nodeID, AwaitBlocksName, err)
	}
	if !ok {
		return network.NewNodeError(nodeID, AwaitBlocksName,
			fmt.Errorf("%w: %d blocks not added within %s (last %s)", network.ErrTimeout, offset, timeout, describe(last)))
	}
	e.log.Info("blocks added", zap.Int("node", nodeID), zap.Uint64("height", last.Height))
	return nil
}

// CheckNetworkSync waits until every node in [nodeIDs] reports the same
// last finalized block as the lowest id in the set. All members are
// sampled within one tick.
func (e *Engine) CheckNetworkSync(ctx context.Context, nodeIDs []int, timeout time.Duration) error {
	if len(nodeIDs) == 0 {
		return network.Invalidf("empty node set")
	}
	ids := append([]int(nil), nodeIDs...)
	sort.Ints(ids)
	pivot := ids[0]

	var last []chain.Observation
	ok, err := e.await(ctx, CheckSyncName, timeout, func(ctx context.Context) (bool, error) {
		last = last[:0]
		for _, id := range ids {
			last = append(last, e.observe(ctx, id))
		}
		return inSync(last), nil
	})
	if err != nil {
		return network.NewNodeError(pivot, CheckSyncName, err)
	}
	if !ok {
		views := make([]string, 0, len(last))
		for _, obs := range last {
			views = append(views, describe(obs))
		}
		return network.NewNodeError(pivot, CheckSyncName,
			fmt.Errorf("%w: nodes %v disagree after %s: %s", network.ErrSyncTimeout, ids, timeout, strings.Join(views, ", ")))
	}
	e.log.Info("network in sync", zap.Ints("nodes", ids), zap.String("hash", last[0].Hash))
	return nil
}

// inSync compares every observation against the first one, the pivot.
func inSync(observations []chain.Observation) bool {
	pivot := observations[0]
	if !pivot.Available {
		return false
	}
	for _, obs := range observations[1:] {
		if !obs.Available || obs.Hash != pivot.Hash {
			return false
		}
	}
	return true
}

func describe(obs chain.Observation) string {
	if !obs.Available {
		return fmt.Sprintf("node %d: unavailable", obs.NodeID)
	}
	return fmt.Sprintf("node %d: era %d height %d hash %s", obs.NodeID, obs.Era, obs.Height, obs.Hash)
}
