package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ledgerops/ledger-network-runner/daemon"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/network/node/status"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNode echoes its arguments and then idles until signalled.
const fakeNode = `#!/bin/sh
echo "args: $@"
while true; do sleep 0.1; done
`

func newTestDaemon(t *testing.T, opts ...Option) (*Daemon, network.Layout) {
	t.Helper()
	cfg := network.NewConfig(1)
	cfg.NodeCount = 3
	layout := network.NewLayout(t.TempDir(), cfg.ID)
	require.NoError(t, os.MkdirAll(layout.Bin(), 0o750))
	require.NoError(t, os.MkdirAll(layout.DaemonState(), 0o750))
	require.NoError(t, os.WriteFile(layout.BinFile(cfg.NodeBinary), []byte(fakeNode), 0o755))

	d, err := New(zap.NewNop(), cfg, layout, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, id := range cfg.NodeIDs() {
			_ = d.Stop(context.Background(), id)
		}
	})
	return d, layout
}

func awaitStatus(t *testing.T, d *Daemon, nodeID int, want status.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := d.Status(context.Background(), nodeID)
		return err == nil && st == want
	}, 10*time.Second, 50*time.Millisecond)
}

func TestStatusWithoutRecord(t *testing.T) {
	d, _ := newTestDaemon(t)
	st, err := d.Status(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, status.Stopped, st)

	// stopping a node that never ran is a no-op
	require.NoError(t, d.Stop(context.Background(), 1))
}

func TestStartStop(t *testing.T) {
	d, layout := newTestDaemon(t)
	ctx := context.Background()

	require.NoError(t, d.Start(ctx, 2, daemon.StartOptions{}))
	awaitStatus(t, d, 2, status.Running)

	first, err := d.store.get(2)
	require.NoError(t, err)
	// starting again doesn't spawn a second process
	require.NoError(t, d.Start(ctx, 2, daemon.StartOptions{}))
	second, err := d.store.get(2)
	require.NoError(t, err)
	require.Equal(t, first.PID, second.PID)

	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(layout.NodeStdout(2))
		return strings.Contains(string(b), "args: validator "+layout.NodeConfigFile(2))
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, d.Stop(ctx, 2))
	awaitStatus(t, d, 2, status.Stopped)
	_, err = d.store.get(2)
	require.ErrorIs(t, err, errNoRecord)
	require.NoError(t, d.Stop(ctx, 2))

	// the other nodes were never touched
	st, err := d.Status(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, status.Stopped, st)
}

func TestStartTrustedHash(t *testing.T) {
	d, layout := newTestDaemon(t)
	ctx := context.Background()
	hash := strings.Repeat("ab", 32)

	require.NoError(t, d.Start(ctx, 4, daemon.StartOptions{TrustedHash: hash}))
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(layout.NodeStdout(4))
		return strings.Contains(string(b), "-C node.trusted_hash="+hash)
	}, 10*time.Second, 50*time.Millisecond)
}

func TestStatusRecycledPid(t *testing.T) {
	d, _ := newTestDaemon(t)
	// our own pid is alive but isn't a node
	require.NoError(t, d.store.put(1, record{PID: int32(os.Getpid()), Cmdline: "ledger-node validator"}))
	st, err := d.Status(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, status.Stopped, st)
	_, err = d.store.get(1)
	require.ErrorIs(t, err, errNoRecord)
}

func TestUnknownNode(t *testing.T) {
	d, _ := newTestDaemon(t)
	err := d.Start(context.Background(), 7, daemon.StartOptions{})
	require.True(t, errors.Is(err, network.ErrNodeNotFound))
	_, err = d.Status(context.Background(), 0)
	require.True(t, errors.Is(err, network.ErrNodeNotFound))
}

type lockedBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func TestFollow(t *testing.T) {
	out := &lockedBuffer{}
	d, _ := newTestDaemon(t, WithFollow(out))
	require.NoError(t, d.Start(context.Background(), 1, daemon.StartOptions{}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[node-1] args: validator")
	}, 10*time.Second, 50*time.Millisecond)
}

// tickingNode writes a line every 50ms until signalled.
const tickingNode = `#!/bin/sh
while true; do echo tick; sleep 0.05; done
`

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("terminal gone") }

func TestNodeLogsWithoutFollower(t *testing.T) {
	d, layout := newTestDaemon(t, WithFollow(brokenWriter{}))
	require.NoError(t, os.WriteFile(layout.BinFile(d.cfg.NodeBinary), []byte(tickingNode), 0o755))
	require.NoError(t, d.Start(context.Background(), 1, daemon.StartOptions{}))

	// output keeps reaching the log file though nothing reads the follow side
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(layout.NodeStdout(1))
		return strings.Count(string(b), "tick") >= 20
	}, 10*time.Second, 50*time.Millisecond)
	awaitStatus(t, d, 1, status.Running)
}

func TestFollowSkipsEarlierOutput(t *testing.T) {
	out := &lockedBuffer{}
	d, layout := newTestDaemon(t, WithFollow(out))
	require.NoError(t, os.MkdirAll(layout.NodeLogs(1), 0o750))
	require.NoError(t, os.WriteFile(layout.NodeStdout(1), []byte("previous run\n"), 0o640))

	require.NoError(t, d.Start(context.Background(), 1, daemon.StartOptions{}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[node-1] args: validator")
	}, 10*time.Second, 50*time.Millisecond)
	require.NotContains(t, out.String(), "previous run")
}
