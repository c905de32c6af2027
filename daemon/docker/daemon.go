// Package docker runs each node in its own docker container.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"go.uber.org/zap"
)

var _ daemon.Daemon = (*Daemon)(nil)

const (
	labelNetwork = "ledger-network-runner.network"
	labelNode    = "ledger-network-runner.node"
)

// API is the subset of *docker.Client the daemon uses.
type API interface {
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainer(id string, hostConfig *docker.HostConfig) error
	KillContainer(opts docker.KillContainerOptions) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
	InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error)
}

type Daemon struct {
	log    *zap.Logger
	cfg    network.Config
	layout network.Layout
	client API
	lock   sync.Mutex
}

func New(log *zap.Logger, cfg network.Config, layout network.Layout, client API) (*Daemon, error) {
	if cfg.DockerImage == "" {
		return nil, network.Invalidf("docker backend requires a docker image")
	}
	return &Daemon{log: log, cfg: cfg, layout: layout, client: client}, nil
}

// Factory connects to [endpoint], or to the daemon described by the
// DOCKER_* environment when it is empty.
func Factory(endpoint string) daemon.Factory {
	return func(log *zap.Logger, cfg network.Config, layout network.Layout) (daemon.Daemon, error) {
		var (
			client *docker.Client
			err    error
		)
		if endpoint == "" {
			client, err = docker.NewClientFromEnv()
		} else {
			client, err = docker.NewClient(endpoint)
		}
		if err != nil {
			return nil, fmt.Errorf("can't connect to docker: %w", err)
		}
		return New(log, cfg, layout, client)
	}
}

// ContainerName is unique per chain and node.
func (d *Daemon) ContainerName(nodeID int) string {
	return fmt.Sprintf("%s-node-%d", d.cfg.ChainName, nodeID)
}

func (d *Daemon) Start(ctx context.Context, nodeID int, opts daemon.StartOptions) error {
	if !d.cfg.HasNode(nodeID) {
		return fmt.Errorf("%w: node %d", network.ErrNodeNotFound, nodeID)
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	name := d.ContainerName(nodeID)
	c, err := d.inspect(ctx, name)
	if err != nil {
		return err
	}
	if c != nil {
		if c.State.Running {
			d.log.Debug("container already running", zap.Int("node", nodeID), zap.String("container", name))
			return nil
		}
		// recreated so the command line reflects [opts]
		if err := d.client.RemoveContainer(docker.RemoveContainerOptions{ID: c.ID, Context: ctx}); err != nil {
			return fmt.Errorf("couldn't remove stale container %s: %w", name, err)
		}
	}

	root := d.layout.Root()
	created, err := d.client.CreateContainer(docker.CreateContainerOptions{
		Name:    name,
		Context: ctx,
		Config: &docker.Config{
			Image:      d.cfg.DockerImage,
			Cmd:        d.command(nodeID, opts),
			WorkingDir: d.layout.Node(nodeID),
			User:       fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
			Labels: map[string]string{
				labelNetwork: strconv.Itoa(d.cfg.ID),
				labelNode:    strconv.Itoa(nodeID),
			},
		},
		HostConfig: &docker.HostConfig{
			NetworkMode: "host",
			Binds:       []string{root + ":" + root},
		},
	})
	if err != nil {
		return fmt.Errorf("couldn't create container %s: %w", name, err)
	}
	if err := d.client.StartContainer(created.ID, nil); err != nil {
		var running *docker.ContainerAlreadyRunning
		if errors.As(err, &running) {
			return nil
		}
		return fmt.Errorf("couldn't start container %s: %w", name, err)
	}
	d.log.Info("started node container",
		zap.Int("node", nodeID),
		zap.String("container", name),
		zap.String("image", d.cfg.DockerImage),
	)
	return nil
}

func (d *Daemon) Stop(ctx context.Context, nodeID int) error {
	if !d.cfg.HasNode(nodeID) {
		return fmt.Errorf("%w: node %d", network.ErrNodeNotFound, nodeID)
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	name := d.ContainerName(nodeID)
	c, err := d.inspect(ctx, name)
	if err != nil {
		return err
	}
	if c == nil || !c.State.Running {
		return nil
	}
	err = d.client.KillContainer(docker.KillContainerOptions{ID: c.ID, Signal: docker.SIGTERM, Context: ctx})
	if err != nil {
		var notRunning *docker.ContainerNotRunning
		if errors.As(err, &notRunning) {
			return nil
		}
		return fmt.Errorf("couldn't signal container %s: %w", name, err)
	}
	d.log.Info("sent SIGTERM to node container", zap.Int("node", nodeID), zap.String("container", name))
	return nil
}

func (d *Daemon) Status(ctx context.Context, nodeID int) (status.Status, error) {
	if !d.cfg.HasNode(nodeID) {
		return status.Unknown, fmt.Errorf("%w: node %d", network.ErrNodeNotFound, nodeID)
	}
	c, err := d.inspect(ctx, d.ContainerName(nodeID))
	if err != nil {
		d.log.Debug("couldn't inspect container", zap.Int("node", nodeID), zap.Error(err))
		return status.Unknown, nil
	}
	if c == nil {
		return status.Stopped, nil
	}
	switch {
	case c.State.Running && !c.State.Paused && !c.State.Restarting:
		return status.Running, nil
	case c.State.Paused, c.State.Restarting:
		return status.Unknown, nil
	default:
		return status.Stopped, nil
	}
}

// inspect returns nil when the container doesn't exist.
func (d *Daemon) inspect(ctx context.Context, name string) (*docker.Container, error) {
	c, err := d.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: name, Context: ctx})
	if err != nil {
		var missing *docker.NoSuchContainer
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// command runs the staged node binary with its output appended to the
// node's log files, like the process backend does.
func (d *Daemon) command(nodeID int, opts daemon.StartOptions) []string {
	argv := []string{d.layout.BinFile(d.cfg.NodeBinary), "validator", d.layout.NodeConfigFile(nodeID)}
	if opts.TrustedHash != "" {
		argv = append(argv, "-C", opts.TrustedHashOverride())
	}
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	script := fmt.Sprintf("exec %s >>%s 2>>%s",
		strings.Join(quoted, " "),
		shellQuote(d.layout.NodeStdout(nodeID)),
		shellQuote(d.layout.NodeStderr(nodeID)),
	)
	return []string{"/bin/sh", "-c", script}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
