// Copyright (C) 2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package daemon

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerops/ledger-network-runner/network"
	"go.uber.org/zap"
)

var _ Registry = &registry{}

// Factory builds the Daemon for one network.
type Factory func(log *zap.Logger, cfg network.Config, layout network.Layout) (Daemon, error)

// Registry maps backend names to daemon factories. A network's backend is
// chosen once, when the Daemon is built, and never switched on afterwards.
type Registry interface {
	Register(name string, factory Factory) error
	New(log *zap.Logger, cfg network.Config, layout network.Layout) (Daemon, error)
	Names() []string
}

type registry struct {
	lock      sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() Registry {
	return &registry{
		factories: make(map[string]Factory),
	}
}

func (r *registry) Register(name string, factory Factory) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("cannot register duplicate daemon backend under the name %s", name)
	}
	r.factories[name] = factory
	return nil
}

func (r *registry) New(log *zap.Logger, cfg network.Config, layout network.Layout) (Daemon, error) {
	r.lock.RLock()
	factory, ok := r.factories[cfg.Backend]
	r.lock.RUnlock()
	if !ok {
		return nil, network.Invalidf("no daemon backend registered under the name %q", cfg.Backend)
	}
	return factory(log.With(zap.String("backend", cfg.Backend)), cfg, layout)
}

func (r *registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
