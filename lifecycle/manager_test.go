package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerops/ledger-network-runner/daemon/daemontest"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"github.com/ledgerops/ledger-network-runner/pkg/metrics"
	"github.com/ledgerops/ledger-network-runner/pkg/poll/polltest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	manager *Manager
	daemon  *daemontest.Fake
	sleeper *polltest.Sleeper
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg := network.NewConfig(1)
	cfg.NodeCount = 3
	f := &fixture{
		daemon:  daemontest.New(),
		sleeper: &polltest.Sleeper{},
	}
	var err error
	f.metrics, err = metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	opts = append([]Option{WithSleeper(f.sleeper), WithMetrics(f.metrics), WithRetries(5)}, opts...)
	f.manager = NewManager(zap.NewNop(), cfg, f.daemon, opts...)
	return f
}

func (f *fixture) status(nodeID int) status.Status {
	h, _ := f.manager.Handle(nodeID)
	return h.Status
}

func TestStartNode(t *testing.T) {
	f := newFixture(t)
	f.daemon.Delay = 2
	ctx := context.Background()

	require.NoError(t, f.manager.StartNode(ctx, 1, ""))
	require.Equal(t, status.Running, f.status(1))
	// two unsatisfied polls, each followed by one interval
	require.Equal(t, 2, f.sleeper.Count())
	require.Equal(t, 2*time.Second, f.sleeper.Total())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NodeTransitions.WithLabelValues(OpStart, metrics.ResultOK)))

	// already running
	require.NoError(t, f.manager.StartNode(ctx, 1, ""))
	require.Len(t, f.daemon.Starts, 1)
}

func TestStartNodeTrustedHash(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.StartNode(context.Background(), 4, "abcd"))
	require.Equal(t, "abcd", f.daemon.Starts[0].Opts.TrustedHash)
}

func TestStartNodeFailure(t *testing.T) {
	f := newFixture(t)
	f.daemon.Stuck[2] = true
	ctx := context.Background()

	err := f.manager.StartNode(ctx, 2, "")
	require.True(t, errors.Is(err, network.ErrStartupFailed))
	var nodeErr *network.NodeError
	require.True(t, errors.As(err, &nodeErr))
	require.Equal(t, 2, nodeErr.NodeID)
	require.Equal(t, OpStart, nodeErr.Op)
	require.Equal(t, status.Failed, f.status(2))
	// bounded: exactly the retry budget
	require.Equal(t, 5, f.sleeper.Count())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NodeTransitions.WithLabelValues(OpStart, metrics.ResultFailed)))

	// failed is terminal
	err = f.manager.StartNode(ctx, 2, "")
	require.True(t, errors.Is(err, network.ErrNodeFailed))
	require.Len(t, f.daemon.Starts, 1)
}

func TestStopNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.StartNode(ctx, 3, ""))

	f.daemon.Delay = 1
	require.NoError(t, f.manager.StopNode(ctx, 3))
	require.Equal(t, status.Stopped, f.status(3))
	require.Equal(t, []int{3}, f.daemon.Stops)

	// already stopped
	require.NoError(t, f.manager.StopNode(ctx, 3))
	require.Len(t, f.daemon.Stops, 1)
}

func TestStopNodeFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.StartNode(ctx, 1, ""))
	f.daemon.Stuck[1] = true

	err := f.manager.StopNode(ctx, 1)
	require.True(t, errors.Is(err, network.ErrShutdownFailed))
	require.Equal(t, status.Failed, f.status(1))
}

func TestUnknownNode(t *testing.T) {
	f := newFixture(t)
	err := f.manager.StartNode(context.Background(), 9, "")
	require.True(t, errors.Is(err, network.ErrNodeNotFound))
}

func TestRotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int{1, 2, 3} {
		require.NoError(t, f.manager.StartNode(ctx, id, ""))
	}

	require.NoError(t, f.manager.Rotate(ctx, 2, 4, ""))
	require.Equal(t, []int{1, 3, 4}, f.manager.ActiveSet().IDs())
	require.Equal(t, status.Stopped, f.status(2))
	require.Equal(t, status.Running, f.status(4))
	require.Equal(t, []int{1, 3, 4}, f.daemon.Running([]int{1, 2, 3, 4, 5, 6}))
}

func TestRotateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// out isn't active
	err := f.manager.Rotate(ctx, 5, 4, "")
	require.True(t, errors.Is(err, network.ErrInvalidInput))
	// in is already active
	err = f.manager.Rotate(ctx, 1, 2, "")
	require.True(t, errors.Is(err, network.ErrInvalidInput))
	// in isn't provisioned
	err = f.manager.Rotate(ctx, 1, 7, "")
	require.True(t, errors.Is(err, network.ErrNodeNotFound))

	require.Empty(t, f.daemon.Starts)
	require.Empty(t, f.daemon.Stops)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.daemon.Set(1, status.Running)
	f.daemon.Set(3, status.Running)
	f.daemon.Set(5, status.Running)

	require.NoError(t, f.manager.Sync(context.Background()))
	require.Equal(t, []int{1, 3, 5}, f.manager.ActiveSet().IDs())
	require.Equal(t, status.Running, f.status(5))
	require.Equal(t, status.Stopped, f.status(2))
	require.Len(t, f.manager.Handles(), 6)
}

func TestSyncNothingRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Sync(context.Background()))
	require.Equal(t, []int{1, 2, 3}, f.manager.ActiveSet().IDs())
}

func TestRotationSurvivesFullStop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "active_set.toml")
	f := newFixture(t, WithStateFile(path))
	for _, id := range []int{1, 2, 3} {
		require.NoError(t, f.manager.StartNode(ctx, id, ""))
	}
	require.NoError(t, f.manager.Rotate(ctx, 2, 4, ""))
	for _, id := range f.manager.ActiveSet().IDs() {
		require.NoError(t, f.manager.StopNode(ctx, id))
	}

	// a later invocation sees nothing running
	next := NewManager(zap.NewNop(), f.manager.Config(), f.daemon, WithSleeper(f.sleeper), WithStateFile(path))
	require.NoError(t, next.Sync(ctx))
	require.Equal(t, []int{1, 3, 4}, next.ActiveSet().IDs())
}

func TestSyncClearsFailed(t *testing.T) {
	f := newFixture(t)
	f.daemon.Stuck[2] = true
	require.Error(t, f.manager.StartNode(context.Background(), 2, ""))
	require.Equal(t, status.Failed, f.status(2))

	require.NoError(t, f.manager.Sync(context.Background()))
	require.Equal(t, status.Stopped, f.status(2))
}

func TestSyncRejectsBadStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active_set.toml")
	require.NoError(t, os.WriteFile(path, []byte("nodes = [1, 2, 9]\n"), 0o600))
	f := newFixture(t, WithStateFile(path))
	require.ErrorIs(t, f.manager.Sync(context.Background()), network.ErrNodeNotFound)

	require.NoError(t, os.WriteFile(path, []byte("nodes = [1, 2]\n"), 0o600))
	require.Error(t, f.manager.Sync(context.Background()))
}
