// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scenario composes the runner's components into operations and
// runs scenarios made of them, one step at a time.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerops/ledger-network-runner/assets"
	"github.com/ledgerops/ledger-network-runner/barrier"
	"github.com/ledgerops/ledger-network-runner/chain"
	"github.com/ledgerops/ledger-network-runner/client"
	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/daemon/docker"
	"github.com/ledgerops/ledger-network-runner/daemon/process"
	"github.com/ledgerops/ledger-network-runner/dispatch"
	"github.com/ledgerops/ledger-network-runner/lifecycle"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"github.com/ledgerops/ledger-network-runner/pkg/metrics"
	"github.com/ledgerops/ledger-network-runner/pkg/poll"
	"github.com/ledgerops/ledger-network-runner/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultNetwork = 1

// Deps are the collaborators a Runner wires into every network it touches.
// Zero values select the real implementations.
type Deps struct {
	Log *zap.Logger
	// Harness installation root.
	Home    string
	Sources assets.Sources
	// Used by setup when backend=docker and no image= is given.
	DockerImage string
	Daemons     daemon.Registry
	NewReader   func(cfg network.Config) chain.Reader
	NewClient   func(log *zap.Logger, net *assets.Network) dispatch.Client
	Sleeper     poll.Sleeper
	// Status polls per lifecycle transition.
	Retries int
	// Where tables are printed.
	Out io.Writer
}

// DefaultRegistry registers the process and docker backends.
func DefaultRegistry(follow io.Writer, dockerEndpoint string) daemon.Registry {
	r := daemon.NewRegistry()
	var opts []process.Option
	if follow != nil {
		opts = append(opts, process.WithFollow(follow))
	}
	_ = r.Register(network.BackendProcess, process.Factory(opts...))
	_ = r.Register(network.BackendDocker, docker.Factory(dockerEndpoint))
	return r
}

// session holds the components bound to one loaded network.
type session struct {
	net        *assets.Network
	manager    *lifecycle.Manager
	engine     *barrier.Engine
	reader     chain.Reader
	dispatcher *dispatch.Dispatcher
}

type Runner struct {
	deps     Deps
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	sessions map[int]*session
	faults   []FaultObservation
}

func NewRunner(deps Deps) (*Runner, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Home == "" {
		return nil, network.Invalidf("no harness home directory")
	}
	if deps.Daemons == nil {
		deps.Daemons = DefaultRegistry(nil, "")
	}
	if deps.NewReader == nil {
		deps.NewReader = func(cfg network.Config) chain.Reader {
			return chain.NewRESTReader(cfg)
		}
	}
	if deps.NewClient == nil {
		deps.NewClient = func(log *zap.Logger, net *assets.Network) dispatch.Client {
			return client.New(log, client.Config{Binary: net.Layout.BinFile(net.Config.ClientBinary)})
		}
	}
	if deps.Sleeper == nil {
		deps.Sleeper = poll.RealSleeper{}
	}
	if deps.Retries == 0 {
		deps.Retries = lifecycle.DefaultRetries
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		deps:     deps,
		log:      deps.Log,
		registry: reg,
		metrics:  m,
		sessions: make(map[int]*session),
	}, nil
}

// Metrics returns the counters accumulated by this runner.
func (r *Runner) Metrics() *metrics.Metrics { return r.metrics }

// Exec runs a single step, "op key=value ...".
func (r *Runner) Exec(ctx context.Context, step string) error {
	return r.exec(ctx, step, defaultNetwork)
}

// ExecArgs runs [op] with already split key=value tokens.
func (r *Runner) ExecArgs(ctx context.Context, name string, tokens []string) error {
	op, ok := lookup(name)
	if !ok {
		return network.Invalidf("unknown operation %q", name)
	}
	args := utils.ParseArgs(tokens)
	netID, err := args.Int("net", defaultNetwork)
	if err != nil {
		return err
	}
	if netID < 1 || netID > network.MaxNetworkID {
		return network.Invalidf("net must be in [1, %d], got %d", network.MaxNetworkID, netID)
	}
	log := r.log.With(zap.String("op", name), zap.Int("network", netID))
	log.Debug("executing operation", zap.Strings("args", tokens))
	return op.Run(ctx, r, netID, args)
}

func (r *Runner) exec(ctx context.Context, step string, netID int) error {
	name, tokens := splitStep(step)
	if name == "" {
		return network.Invalidf("empty step")
	}
	if netID > 0 {
		// a step's own net= wins, it comes last
		tokens = append([]string{fmt.Sprintf("net=%d", netID)}, tokens...)
	}
	return r.ExecArgs(ctx, name, tokens)
}

// Run executes [s]'s steps in order and stops at the first failure.
// Completed steps aren't rolled back.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Report, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	report := &Report{
		RunID:    uuid.New().String(),
		Scenario: s.Name,
		Started:  time.Now(),
	}
	log := r.log.With(zap.String("run", report.RunID), zap.String("scenario", s.Name))
	log.Info("running scenario", zap.Int("steps", len(s.Steps)))

	faultsBefore := len(r.faults)
	var runErr error
	for i, step := range s.Steps {
		start := time.Now()
		err := r.exec(ctx, step, s.Network)
		result := StepResult{Index: i + 1, Step: step, Elapsed: time.Since(start), Err: err}
		report.Steps = append(report.Steps, result)
		if err != nil {
			runErr = fmt.Errorf("step %d %q: %w", i+1, step, err)
			break
		}
		log.Info("step done", zap.Int("step", i+1), zap.String("op", step), zap.Duration("elapsed", result.Elapsed))
	}
	report.Elapsed = time.Since(report.Started)
	report.Faults = append(report.Faults, r.faults[faultsBefore:]...)
	report.Err = runErr
	summary, err := r.metrics.Summary()
	if err != nil {
		log.Warn("couldn't gather metrics", zap.Error(err))
	}
	report.Metrics = summary
	return report, runErr
}

// session loads network [netID] and binds components to it once.
func (r *Runner) session(ctx context.Context, netID int) (*session, error) {
	if s, ok := r.sessions[netID]; ok {
		return s, nil
	}
	net, err := assets.Load(r.deps.Home, netID)
	if err != nil {
		return nil, err
	}
	s, err := r.newSession(ctx, net)
	if err != nil {
		return nil, err
	}
	r.sessions[netID] = s
	return s, nil
}

func (r *Runner) newSession(ctx context.Context, net *assets.Network) (*session, error) {
	log := r.log.With(zap.Int("network", net.Config.ID))
	d, err := r.deps.Daemons.New(log, net.Config, net.Layout)
	if err != nil {
		return nil, err
	}
	manager := lifecycle.NewManager(log, net.Config, d,
		lifecycle.WithSleeper(r.deps.Sleeper),
		lifecycle.WithRetries(r.deps.Retries),
		lifecycle.WithMetrics(r.metrics),
		lifecycle.WithStateFile(net.Layout.ActiveSetFile()),
	)
	if err := manager.Sync(ctx); err != nil {
		return nil, err
	}
	reader := r.deps.NewReader(net.Config)
	return &session{
		net:     net,
		manager: manager,
		reader:  reader,
		engine: barrier.NewEngine(log, reader,
			barrier.WithSleeper(r.deps.Sleeper),
			barrier.WithMetrics(r.metrics),
		),
		dispatcher: dispatch.New(log, net, manager, r.deps.NewClient(log, net),
			dispatch.WithSleeper(r.deps.Sleeper),
			dispatch.WithMetrics(r.metrics),
		),
	}, nil
}

// stopNetwork stops every node of a network that still has its assets.
// Handles are refreshed first so a node that failed to start earlier is
// stopped by what the daemon reports. Every node is attempted.
func (r *Runner) stopNetwork(ctx context.Context, netID int) error {
	s, err := r.session(ctx, netID)
	if err != nil {
		if errors.Is(err, network.ErrNetworkNotFound) {
			return nil
		}
		return err
	}
	if err := s.manager.Sync(ctx); err != nil {
		return err
	}
	var errs []error
	for _, h := range s.manager.Handles() {
		if h.Status == status.Stopped {
			continue
		}
		if err := s.manager.StopNode(ctx, h.NodeID); err != nil {
			r.log.Warn("couldn't stop node", zap.Int("network", netID), zap.Int("node", h.NodeID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) forget(netID int) {
	delete(r.sessions, netID)
}
