// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package process runs nodes as direct child processes of the runner.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"github.com/ledgerops/ledger-network-runner/utils"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

var _ daemon.Daemon = (*Daemon)(nil)

const validatorCmd = "validator"

type Option func(*Daemon)

// WithFollow copies every node's log output to [w] while the runner
// lives, one color per node.
func WithFollow(w io.Writer) Option {
	return func(d *Daemon) {
		d.follow = w
	}
}

type Daemon struct {
	log    *zap.Logger
	cfg    network.Config
	layout network.Layout
	store  *store
	follow io.Writer
	colors *utils.ColorPicker

	// Serializes access to the process registry.
	lock sync.Mutex
}

func New(log *zap.Logger, cfg network.Config, layout network.Layout, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		log:    log,
		cfg:    cfg,
		layout: layout,
		store:  newStore(layout.DaemonState()),
		colors: utils.NewColorPicker(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Factory adapts New for a daemon.Registry.
func Factory(opts ...Option) daemon.Factory {
	return func(log *zap.Logger, cfg network.Config, layout network.Layout) (daemon.Daemon, error) {
		return New(log, cfg, layout, opts...)
	}
}

func (d *Daemon) Start(ctx context.Context, nodeID int, opts daemon.StartOptions) error {
	if !d.cfg.HasNode(nodeID) {
		return fmt.Errorf("%w: node %d", network.ErrNodeNotFound, nodeID)
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	if st, _ := d.status(nodeID); st == status.Running {
		d.log.Debug("node already running", zap.Int("node", nodeID))
		return nil
	}

	args := []string{validatorCmd, d.layout.NodeConfigFile(nodeID)}
	if opts.TrustedHash != "" {
		args = append(args, "-C", opts.TrustedHashOverride())
	}
	cmd := exec.Command(d.layout.BinFile(d.cfg.NodeBinary), args...)
	cmd.Dir = d.layout.Node(nodeID)
	// own process group so the node outlives the runner
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// The node gets the log files themselves, never a pipe, so its output
	// keeps landing in them after the runner exits.
	stdout, err := openLog(d.layout.NodeStdout(nodeID))
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderr, err := openLog(d.layout.NodeStderr(nodeID))
	if err != nil {
		return err
	}
	defer stderr.Close()
	cmd.Stdout, cmd.Stderr = stdout, stderr

	var outEnd, errEnd int64
	if d.follow != nil {
		if outEnd, err = logEnd(stdout); err != nil {
			return err
		}
		if errEnd, err = logEnd(stderr); err != nil {
			return err
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("couldn't start node %d: %w", nodeID, err)
	}
	pid := int32(cmd.Process.Pid)
	rec := record{PID: pid, Cmdline: strings.Join(cmd.Args, " "), Started: time.Now().UTC()}
	if proc, err := process.NewProcess(pid); err == nil {
		if cmdline, err := proc.Cmdline(); err == nil && cmdline != "" {
			rec.Cmdline = cmdline
		}
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(exited)
		d.log.Debug("node process exited", zap.Int("node", nodeID), zap.Int32("pid", pid), zap.Error(err))
	}()

	if d.follow != nil {
		name := fmt.Sprintf("node-%d", nodeID)
		attr := d.colors.NextColor()
		for path, offset := range map[string]int64{
			d.layout.NodeStdout(nodeID): outEnd,
			d.layout.NodeStderr(nodeID): errEnd,
		} {
			if err := followLog(path, offset, d.follow, name, attr, exited); err != nil {
				d.log.Warn("couldn't follow node output", zap.Int("node", nodeID), zap.String("path", path), zap.Error(err))
			}
		}
	}

	if err := d.store.put(nodeID, rec); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		return err
	}
	d.log.Info("started node process",
		zap.Int("node", nodeID),
		zap.Int32("pid", pid),
		zap.Bool("trusted-hash", opts.TrustedHash != ""),
	)
	return nil
}

func (d *Daemon) Stop(ctx context.Context, nodeID int) error {
	if !d.cfg.HasNode(nodeID) {
		return fmt.Errorf("%w: node %d", network.ErrNodeNotFound, nodeID)
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	st, rec := d.status(nodeID)
	if st != status.Running {
		d.log.Debug("node not running", zap.Int("node", nodeID), zap.Stringer("status", st))
		return nil
	}
	// Either the process got the signal, in which case status polling
	// observes the exit, or it didn't and the lifecycle manager times out.
	_ = terminateDescendants(rec.PID)
	proc, err := process.NewProcess(rec.PID)
	if err != nil {
		return nil
	}
	if err := proc.Terminate(); err != nil {
		return fmt.Errorf("couldn't signal node %d: %w", nodeID, err)
	}
	d.log.Info("sent SIGTERM to node process", zap.Int("node", nodeID), zap.Int32("pid", rec.PID))
	return nil
}

func (d *Daemon) Status(ctx context.Context, nodeID int) (status.Status, error) {
	if !d.cfg.HasNode(nodeID) {
		return status.Unknown, fmt.Errorf("%w: node %d", network.ErrNodeNotFound, nodeID)
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	st, rec := d.status(nodeID)
	if st == status.Stopped && rec.PID != 0 {
		// the process is gone for good; a later start records a new one
		if err := d.store.delete(nodeID); err != nil {
			d.log.Debug("couldn't drop process record", zap.Int("node", nodeID), zap.Error(err))
		}
	}
	return st, nil
}

// status maps the recorded process onto Running, Stopped or Unknown.
func (d *Daemon) status(nodeID int) (status.Status, record) {
	rec, err := d.store.get(nodeID)
	if err != nil {
		if errors.Is(err, errNoRecord) {
			return status.Stopped, rec
		}
		d.log.Warn("couldn't read process registry", zap.Int("node", nodeID), zap.Error(err))
		return status.Unknown, rec
	}
	exists, err := process.PidExists(rec.PID)
	if err != nil {
		return status.Unknown, rec
	}
	if !exists {
		return status.Stopped, rec
	}
	proc, err := process.NewProcess(rec.PID)
	if err != nil {
		// exited between the two calls
		return status.Stopped, rec
	}
	cmdline, err := proc.Cmdline()
	if err != nil {
		return status.Unknown, rec
	}
	// a reaped pid reused by another program, or a zombie
	if cmdline != rec.Cmdline {
		return status.Stopped, rec
	}
	return status.Running, rec
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), utils.DefaultDirPerms); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, utils.DefaultFilePerms)
}
