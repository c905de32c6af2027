// Package daemontest provides an in-memory Daemon for tests.
package daemontest

import (
	"context"
	"sync"

	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
)

var _ daemon.Daemon = (*Fake)(nil)

type StartCall struct {
	NodeID int
	Opts   daemon.StartOptions
}

// Fake applies a trigger after [Delay] status polls. Nodes in [Stuck]
// never leave their state.
type Fake struct {
	lock sync.Mutex

	Delay int
	Stuck map[int]bool

	states  map[int]status.Status
	pending map[int]pending

	Starts []StartCall
	Stops  []int
	Polls  int
}

type pending struct {
	target status.Status
	polls  int
}

func New() *Fake {
	return &Fake{
		Stuck:   map[int]bool{},
		states:  map[int]status.Status{},
		pending: map[int]pending{},
	}
}

// Set forces a node's reported status.
func (f *Fake) Set(nodeID int, st status.Status) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.states[nodeID] = st
	delete(f.pending, nodeID)
}

func (f *Fake) Start(_ context.Context, nodeID int, opts daemon.StartOptions) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Starts = append(f.Starts, StartCall{NodeID: nodeID, Opts: opts})
	f.trigger(nodeID, status.Running)
	return nil
}

func (f *Fake) Stop(_ context.Context, nodeID int) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Stops = append(f.Stops, nodeID)
	f.trigger(nodeID, status.Stopped)
	return nil
}

func (f *Fake) trigger(nodeID int, target status.Status) {
	if f.Stuck[nodeID] {
		return
	}
	f.pending[nodeID] = pending{target: target, polls: f.Delay}
}

func (f *Fake) Status(_ context.Context, nodeID int) (status.Status, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.Polls++
	if p, ok := f.pending[nodeID]; ok {
		if p.polls == 0 {
			f.states[nodeID] = p.target
			delete(f.pending, nodeID)
		} else {
			p.polls--
			f.pending[nodeID] = p
		}
	}
	st, ok := f.states[nodeID]
	if !ok {
		return status.Stopped, nil
	}
	return st, nil
}

// Running returns the ids last reported running, ascending.
func (f *Fake) Running(ids []int) []int {
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []int
	for _, id := range ids {
		if f.states[id] == status.Running {
			out = append(out, id)
		}
	}
	return out
}
