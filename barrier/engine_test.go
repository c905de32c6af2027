package barrier

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ledgerops/ledger-network-runner/chain"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/pkg/metrics"
	"github.com/ledgerops/ledger-network-runner/pkg/poll/polltest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUnreachable = errors.New("connection refused")

// scriptedReader replays per-node observations, repeating the last one.
type scriptedReader struct {
	lock    sync.Mutex
	samples map[int][]sample
	calls   map[int]int
}

type sample struct {
	obs chain.Observation
	err error
}

func newScriptedReader() *scriptedReader {
	return &scriptedReader{samples: map[int][]sample{}, calls: map[int]int{}}
}

func (r *scriptedReader) add(nodeID int, samples ...sample) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.samples[nodeID] = append(r.samples[nodeID], samples...)
}

func (r *scriptedReader) Observe(_ context.Context, nodeID int) (chain.Observation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	script := r.samples[nodeID]
	i := r.calls[nodeID]
	r.calls[nodeID]++
	if len(script) == 0 {
		return chain.Observation{NodeID: nodeID}, nil
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	s := script[i]
	s.obs.NodeID = nodeID
	return s.obs, s.err
}

func (r *scriptedReader) total() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func at(era, height uint64, hash string) sample {
	return sample{obs: chain.Observation{Era: era, Height: height, Hash: hash, Available: true}}
}

func unavailable() sample { return sample{} }

func failing() sample { return sample{err: errUnreachable} }

func newTestEngine(t *testing.T, reader chain.Reader) (*Engine, *polltest.Sleeper, *metrics.Metrics) {
	t.Helper()
	sleeper := &polltest.Sleeper{}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	return NewEngine(zap.NewNop(), reader, WithSleeper(sleeper), WithMetrics(m)), sleeper, m
}

func TestAwaitEra(t *testing.T) {
	reader := newScriptedReader()
	reader.add(1, unavailable(), failing(), at(0, 3, "aa"), at(1, 9, "bb"))
	e, sleeper, m := newTestEngine(t, reader)

	require.NoError(t, e.AwaitEra(context.Background(), 1, 1, 120*time.Second))
	require.Equal(t, 3, sleeper.Count())
	require.Equal(t, 4.0, testutil.ToFloat64(m.BarrierPolls.WithLabelValues(AwaitEraName)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.BarrierResults.WithLabelValues(AwaitEraName, metrics.ResultOK)))
}

func TestAwaitEraZeroTimeout(t *testing.T) {
	reader := newScriptedReader()
	reader.add(1, at(1, 1, "aa"))
	e, sleeper, _ := newTestEngine(t, reader)

	start := time.Now()
	err := e.AwaitEra(context.Background(), 1, 1, 0)
	require.True(t, errors.Is(err, network.ErrTimeout))
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, reader.total())
	require.Zero(t, sleeper.Count())
}

func TestAwaitEraTimeout(t *testing.T) {
	reader := newScriptedReader()
	reader.add(2, at(0, 1, "aa"))
	e, sleeper, m := newTestEngine(t, reader)

	err := e.AwaitEra(context.Background(), 2, 1, 5*time.Second)
	require.True(t, errors.Is(err, network.ErrTimeout))
	var nodeErr *network.NodeError
	require.True(t, errors.As(err, &nodeErr))
	require.Equal(t, 2, nodeErr.NodeID)
	require.Equal(t, AwaitEraName, nodeErr.Op)
	require.Equal(t, 5, reader.total())
	require.Equal(t, 5, sleeper.Count())
	require.Equal(t, 1.0, testutil.ToFloat64(m.BarrierResults.WithLabelValues(AwaitEraName, metrics.ResultTimeout)))
}

func TestAwaitEraExactMatch(t *testing.T) {
	reader := newScriptedReader()
	reader.add(1, at(2, 40, "aa"))
	e, _, _ := newTestEngine(t, reader)

	err := e.AwaitEra(context.Background(), 1, 1, 3*time.Second)
	require.True(t, errors.Is(err, network.ErrTimeout))
}

func TestAwaitNBlocksZeroOffset(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second, time.Hour} {
		reader := newScriptedReader()
		e, sleeper, _ := newTestEngine(t, reader)
		require.NoError(t, e.AwaitNBlocks(context.Background(), 1, 0, timeout))
		require.Zero(t, sleeper.Count())
		require.Zero(t, reader.total())
	}
}

func TestAwaitNBlocks(t *testing.T) {
	reader := newScriptedReader()
	// start height is the first available sample, 10
	reader.add(1, unavailable(), at(0, 10, "a"), at(0, 11, "b"), at(0, 12, "c"), at(0, 13, "d"))
	e, sleeper, _ := newTestEngine(t, reader)

	require.NoError(t, e.AwaitNBlocks(context.Background(), 1, 3, 30*time.Second))
	require.Equal(t, 4, sleeper.Count())
}

func TestAwaitNBlocksTimeout(t *testing.T) {
	reader := newScriptedReader()
	reader.add(3, at(0, 10, "a"), at(0, 11, "b"))
	e, _, _ := newTestEngine(t, reader)

	err := e.AwaitNBlocks(context.Background(), 3, 5, 4*time.Second)
	require.True(t, errors.Is(err, network.ErrTimeout))
}

func TestCheckNetworkSync(t *testing.T) {
	reader := newScriptedReader()
	reader.add(1, at(1, 5, "aa"), at(1, 6, "bb"))
	reader.add(2, unavailable(), at(1, 6, "bb"))
	reader.add(3, at(1, 5, "aa"), at(1, 6, "bb"))
	e, sleeper, _ := newTestEngine(t, reader)

	// order of the set doesn't matter
	require.NoError(t, e.CheckNetworkSync(context.Background(), []int{3, 1, 2}, 30*time.Second))
	require.Equal(t, 1, sleeper.Count())
	// every member sampled on both ticks
	require.Equal(t, 6, reader.total())

	// idempotent: unchanged observations satisfy on the first tick
	sleeper.Reset()
	require.NoError(t, e.CheckNetworkSync(context.Background(), []int{1, 2, 3}, 30*time.Second))
	require.Zero(t, sleeper.Count())
	require.Equal(t, 9, reader.total())
}

func TestCheckNetworkSyncTimeout(t *testing.T) {
	reader := newScriptedReader()
	reader.add(1, at(1, 5, "aa"))
	reader.add(2, at(1, 5, "aa"))
	reader.add(3, at(1, 4, "ff"))
	e, sleeper, _ := newTestEngine(t, reader)

	err := e.CheckNetworkSync(context.Background(), []int{1, 2, 3}, 3*time.Second)
	require.True(t, errors.Is(err, network.ErrSyncTimeout))
	var nodeErr *network.NodeError
	require.True(t, errors.As(err, &nodeErr))
	require.Equal(t, 1, nodeErr.NodeID)
	require.Equal(t, 3, sleeper.Count())
}

func TestCheckNetworkSyncUnavailablePivot(t *testing.T) {
	reader := newScriptedReader()
	reader.add(1, failing())
	reader.add(2, at(1, 5, "aa"))
	e, _, _ := newTestEngine(t, reader)

	err := e.CheckNetworkSync(context.Background(), []int{2, 1}, 2*time.Second)
	require.True(t, errors.Is(err, network.ErrSyncTimeout))

	err = e.CheckNetworkSync(context.Background(), nil, time.Second)
	require.True(t, errors.Is(err, network.ErrInvalidInput))
}

func TestCheckFaulty(t *testing.T) {
	layout := network.NewLayout(t.TempDir(), 1)

	// no log yet
	faulty, err := CheckFaulty(layout, 1)
	require.NoError(t, err)
	require.False(t, faulty)

	require.NoError(t, os.MkdirAll(layout.NodeLogs(1), 0o750))
	require.NoError(t, os.WriteFile(layout.NodeStdout(1), []byte("{\"msg\":\"era 1 started\"}\n"), 0o600))
	faulty, err = CheckFaulty(layout, 1)
	require.NoError(t, err)
	require.False(t, faulty)

	f, err := os.OpenFile(layout.NodeStdout(1), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"level\":\"WARN\",\"msg\":\"" + FaultMarker + "\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	faulty, err = CheckFaulty(layout, 1)
	require.NoError(t, err)
	require.True(t, faulty)
}
