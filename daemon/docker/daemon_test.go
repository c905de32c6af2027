package docker

import (
	"context"
	"strings"
	"sync"
	"testing"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ API = (*docker.Client)(nil)

// fakeAPI keeps containers in memory, keyed by name.
type fakeAPI struct {
	lock       sync.Mutex
	containers map[string]*docker.Container
	created    []docker.CreateContainerOptions
	signals    []docker.Signal
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{containers: map[string]*docker.Container{}}
}

func (f *fakeAPI) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	c := &docker.Container{ID: "id-" + opts.Name, Name: opts.Name, Config: opts.Config}
	f.containers[opts.Name] = c
	f.created = append(f.created, opts)
	return c, nil
}

func (f *fakeAPI) byID(id string) *docker.Container {
	for _, c := range f.containers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeAPI) StartContainer(id string, _ *docker.HostConfig) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	c := f.byID(id)
	if c == nil {
		return &docker.NoSuchContainer{ID: id}
	}
	if c.State.Running {
		return &docker.ContainerAlreadyRunning{ID: id}
	}
	c.State.Running = true
	return nil
}

func (f *fakeAPI) KillContainer(opts docker.KillContainerOptions) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	c := f.byID(opts.ID)
	if c == nil {
		return &docker.NoSuchContainer{ID: opts.ID}
	}
	f.signals = append(f.signals, opts.Signal)
	c.State.Running = false
	return nil
}

func (f *fakeAPI) RemoveContainer(opts docker.RemoveContainerOptions) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	c := f.byID(opts.ID)
	if c == nil {
		return &docker.NoSuchContainer{ID: opts.ID}
	}
	delete(f.containers, c.Name)
	return nil
}

func (f *fakeAPI) InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	c, ok := f.containers[opts.ID]
	if !ok {
		return nil, &docker.NoSuchContainer{ID: opts.ID}
	}
	cp := *c
	return &cp, nil
}

func newTestDaemon(t *testing.T) (*Daemon, *fakeAPI) {
	cfg := network.NewConfig(2)
	cfg.NodeCount = 3
	cfg.Backend = network.BackendDocker
	cfg.DockerImage = "ledger/node:latest"
	api := newFakeAPI()
	d, err := New(zap.NewNop(), cfg, network.NewLayout(t.TempDir(), cfg.ID), api)
	require.NoError(t, err)
	return d, api
}

func TestNewRequiresImage(t *testing.T) {
	_, err := New(zap.NewNop(), network.NewConfig(1), network.NewLayout(t.TempDir(), 1), newFakeAPI())
	require.Error(t, err)
}

func TestStartStopStatus(t *testing.T) {
	d, api := newTestDaemon(t)
	ctx := context.Background()

	st, err := d.Status(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, status.Stopped, st)

	require.NoError(t, d.Start(ctx, 1, daemon.StartOptions{}))
	st, err = d.Status(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, status.Running, st)
	require.Len(t, api.created, 1)

	opts := api.created[0]
	require.Equal(t, "lnr-net-2-node-1", opts.Name)
	require.Equal(t, "ledger/node:latest", opts.Config.Image)
	require.Equal(t, "host", opts.HostConfig.NetworkMode)
	root := d.layout.Root()
	require.Equal(t, []string{root + ":" + root}, opts.HostConfig.Binds)
	require.Equal(t, "/bin/sh", opts.Config.Cmd[0])
	require.Contains(t, opts.Config.Cmd[2], "'validator' '"+d.layout.NodeConfigFile(1)+"'")
	require.Contains(t, opts.Config.Cmd[2], ">>'"+d.layout.NodeStdout(1)+"'")

	// already running
	require.NoError(t, d.Start(ctx, 1, daemon.StartOptions{}))
	require.Len(t, api.created, 1)

	require.NoError(t, d.Stop(ctx, 1))
	require.Equal(t, []docker.Signal{docker.SIGTERM}, api.signals)
	st, err = d.Status(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, status.Stopped, st)

	// stopping a stopped or missing container is a no-op
	require.NoError(t, d.Stop(ctx, 1))
	require.NoError(t, d.Stop(ctx, 2))
	require.Len(t, api.signals, 1)
}

func TestRestartRecreatesWithTrustedHash(t *testing.T) {
	d, api := newTestDaemon(t)
	ctx := context.Background()
	hash := strings.Repeat("0f", 32)

	require.NoError(t, d.Start(ctx, 5, daemon.StartOptions{}))
	require.NoError(t, d.Stop(ctx, 5))
	require.NoError(t, d.Start(ctx, 5, daemon.StartOptions{TrustedHash: hash}))
	require.Len(t, api.created, 2)
	require.Contains(t, api.created[1].Config.Cmd[2], "'-C' 'node.trusted_hash="+hash+"'")
}

func TestStatusMapping(t *testing.T) {
	d, api := newTestDaemon(t)
	ctx := context.Background()
	require.NoError(t, d.Start(ctx, 3, daemon.StartOptions{}))

	c := api.containers[d.ContainerName(3)]
	c.State.Paused = true
	st, err := d.Status(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, status.Unknown, st)

	c.State.Paused = false
	c.State.Running = false
	c.State.Restarting = true
	st, err = d.Status(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, status.Unknown, st)
}

func TestShellQuote(t *testing.T) {
	require.Equal(t, `'a b'`, shellQuote("a b"))
	require.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
