package scenario

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ledgerops/ledger-network-runner/assets"
	"github.com/ledgerops/ledger-network-runner/barrier"
	"github.com/ledgerops/ledger-network-runner/dispatch"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/utils"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

const defaultBarrierTimeout = 300 * time.Second

// Op is one operation, shared by the CLI and scenario steps.
type Op struct {
	Name  string
	Short string
	// Accepted keys with their defaults.
	Usage string
	Run   func(ctx context.Context, r *Runner, netID int, args utils.Args) error
}

var ops = []Op{
	{
		Name:  "setup",
		Short: "Generate a network's assets, replacing any previous ones.",
		Usage: "net=1 nodes=5 users=5 bootstraps=1 delay=30 chain=lnr-net-<net> accounts=ed25519 backend=process image=",
		Run:   setupOp,
	},
	{
		Name:  "teardown",
		Short: "Stop a network's nodes and remove its assets.",
		Usage: "net=1",
		Run:   teardownOp,
	},
	{
		Name:  "start",
		Short: "Start nodes and wait until they run.",
		Usage: "net=1 node=all hash=",
		Run:   startOp,
	},
	{
		Name:  "stop",
		Short: "Stop nodes and wait until they stopped.",
		Usage: "net=1 node=all",
		Run:   stopOp,
	},
	{
		Name:  "rotate",
		Short: "Replace an active validator with a reserve node.",
		Usage: "net=1 out=<node> in=<node> hash=",
		Run:   rotateOp,
	},
	{
		Name:  "status",
		Short: "Print every node's status.",
		Usage: "net=1",
		Run:   statusOp,
	},
	{
		Name:  "view-tip",
		Short: "Print the last finalized block of nodes.",
		Usage: "net=1 node=all",
		Run:   viewTipOp,
	},
	{
		Name:  barrier.AwaitEraName,
		Short: "Wait until a node reports an era.",
		Usage: "net=1 node=1 era=<era> timeout=300",
		Run:   awaitEraOp,
	},
	{
		Name:  barrier.AwaitBlocksName,
		Short: "Wait until a node added blocks.",
		Usage: "net=1 node=1 offset=1 timeout=300",
		Run:   awaitBlocksOp,
	},
	{
		Name:  barrier.CheckSyncName,
		Short: "Wait until nodes agree on the last finalized block.",
		Usage: "net=1 nodes=all timeout=300",
		Run:   checkSyncOp,
	},
	{
		Name:  "check-faulty",
		Short: "Report whether a node logged itself as faulty.",
		Usage: "net=1 node=1 expect=",
		Run:   checkFaultyOp,
	},
	{
		Name:  dispatch.OpDispatch,
		Short: "Send transfers from the faucet to a user.",
		Usage: "net=1 node=all user=1 amount=2500000000 count=100 interval=0.01 gas=10 payment=10000000000",
		Run:   dispatchOp,
	},
}

// Ops lists every operation in CLI order.
func Ops() []Op {
	out := make([]Op, len(ops))
	copy(out, ops)
	return out
}

func lookup(name string) (Op, bool) {
	for _, op := range ops {
		if op.Name == name {
			return op, true
		}
	}
	return Op{}, false
}

func setupOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	cfg := network.NewConfig(netID)
	var err error
	if cfg.NodeCount, err = args.Int("nodes", cfg.NodeCount); err != nil {
		return err
	}
	if cfg.UserCount, err = args.Int("users", cfg.UserCount); err != nil {
		return err
	}
	if cfg.BootstrapCount, err = args.Int("bootstraps", cfg.BootstrapCount); err != nil {
		return err
	}
	if cfg.GenesisDelay, err = args.Int("delay", cfg.GenesisDelay); err != nil {
		return err
	}
	cfg.ChainName = args.String("chain", cfg.ChainName)
	cfg.AccountType = args.String("accounts", cfg.AccountType)
	cfg.Backend = args.String("backend", cfg.Backend)
	if cfg.Backend == network.BackendDocker {
		cfg.DockerImage = args.String("image", r.deps.DockerImage)
	}

	// stop whatever runs on the network being replaced
	cleanup := func(ctx context.Context, prev network.Config) error {
		return r.stopNetwork(ctx, prev.ID)
	}
	g := assets.NewGenerator(r.log, r.deps.Home, r.deps.Sources, assets.WithCleanup(cleanup))
	r.forget(netID)
	_, err = g.Generate(ctx, cfg)
	r.forget(netID)
	return err
}

func teardownOp(ctx context.Context, r *Runner, netID int, _ utils.Args) error {
	if err := r.stopNetwork(ctx, netID); err != nil {
		return err
	}
	r.forget(netID)
	if err := assets.Teardown(r.deps.Home, netID); err != nil {
		return err
	}
	r.log.Info("network torn down", zap.Int("network", netID))
	return nil
}

// selectNodes resolves [key] to node ids; "all" means the active set.
func selectNodes(s *session, args utils.Args, key string) ([]int, error) {
	ids, all, err := args.Nodes(key)
	if err != nil {
		return nil, err
	}
	if all {
		return s.manager.ActiveSet().IDs(), nil
	}
	for _, id := range ids {
		if !s.net.Config.HasNode(id) {
			return nil, fmt.Errorf("%w: node %d", network.ErrNodeNotFound, id)
		}
	}
	return ids, nil
}

func startOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	ids, err := selectNodes(s, args, "node")
	if err != nil {
		return err
	}
	hash := args.String("hash", "")
	for _, id := range ids {
		if err := s.manager.StartNode(ctx, id, hash); err != nil {
			return err
		}
	}
	return nil
}

func stopOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	ids, all, err := args.Nodes("node")
	if err != nil {
		return err
	}
	if all {
		return r.stopNetwork(ctx, netID)
	}
	for _, id := range ids {
		if err := s.manager.StopNode(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func rotateOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	out, err := args.RequireInt("out")
	if err != nil {
		return err
	}
	in, err := args.RequireInt("in")
	if err != nil {
		return err
	}
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	return s.manager.Rotate(ctx, out, in, args.String("hash", ""))
}

func statusOp(ctx context.Context, r *Runner, netID int, _ utils.Args) error {
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	if err := s.manager.Sync(ctx); err != nil {
		return err
	}
	active := s.manager.ActiveSet()
	tb := tablewriter.NewWriter(r.deps.Out)
	tb.SetAutoWrapText(false)
	tb.SetHeader([]string{"node", "role", "status", "active", "rpc", "rest"})
	for _, h := range s.manager.Handles() {
		node, _ := s.net.Node(h.NodeID)
		ports := s.net.Config.Ports(h.NodeID)
		tb.Append([]string{
			strconv.Itoa(h.NodeID),
			node.Role.String(),
			h.Status.String(),
			strconv.FormatBool(active.Contains(h.NodeID)),
			strconv.Itoa(int(ports.RPC)),
			strconv.Itoa(int(ports.REST)),
		})
	}
	tb.Render()
	return nil
}

func viewTipOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	ids, err := selectNodes(s, args, "node")
	if err != nil {
		return err
	}
	tb := tablewriter.NewWriter(r.deps.Out)
	tb.SetAutoWrapText(false)
	tb.SetHeader([]string{"node", "era", "height", "hash"})
	for _, id := range ids {
		obs, err := s.reader.Observe(ctx, id)
		if err != nil || !obs.Available {
			tb.Append([]string{strconv.Itoa(id), "-", "-", "-"})
			continue
		}
		tb.Append([]string{
			strconv.Itoa(id),
			strconv.FormatUint(obs.Era, 10),
			strconv.FormatUint(obs.Height, 10),
			obs.Hash,
		})
	}
	tb.Render()
	return nil
}

func awaitEraOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	node, err := args.Int("node", 1)
	if err != nil {
		return err
	}
	era, err := args.RequireInt("era")
	if err != nil {
		return err
	}
	if era < 0 {
		return network.Invalidf("era must be >= 0, got %d", era)
	}
	timeout, err := args.Seconds("timeout", defaultBarrierTimeout)
	if err != nil {
		return err
	}
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	return s.engine.AwaitEra(ctx, node, uint64(era), timeout)
}

func awaitBlocksOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	node, err := args.Int("node", 1)
	if err != nil {
		return err
	}
	offset, err := args.Uint64("offset", 1)
	if err != nil {
		return err
	}
	timeout, err := args.Seconds("timeout", defaultBarrierTimeout)
	if err != nil {
		return err
	}
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	return s.engine.AwaitNBlocks(ctx, node, offset, timeout)
}

func checkSyncOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	timeout, err := args.Seconds("timeout", defaultBarrierTimeout)
	if err != nil {
		return err
	}
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	ids, err := selectNodes(s, args, "nodes")
	if err != nil {
		return err
	}
	return s.engine.CheckNetworkSync(ctx, ids, timeout)
}

// checkFaultyOp records the observation. It only fails when expect= is
// given and doesn't match.
func checkFaultyOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	node, err := args.Int("node", 1)
	if err != nil {
		return err
	}
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	if !s.net.Config.HasNode(node) {
		return fmt.Errorf("%w: node %d", network.ErrNodeNotFound, node)
	}
	faulty, err := barrier.CheckFaulty(s.net.Layout, node)
	if err != nil {
		return network.NewNodeError(node, "check-faulty", err)
	}
	r.faults = append(r.faults, FaultObservation{NetworkID: netID, NodeID: node, Faulty: faulty, At: time.Now()})
	r.log.Info("fault check", zap.Int("network", netID), zap.Int("node", node), zap.Bool("faulty", faulty))
	if args.Has("expect") {
		expect, err := args.Bool("expect", false)
		if err != nil {
			return err
		}
		if expect != faulty {
			return network.NewNodeError(node, "check-faulty",
				fmt.Errorf("%w: faulty=%t, expected %t", network.ErrUnexpectedFault, faulty, expect))
		}
	}
	return nil
}

func dispatchOp(ctx context.Context, r *Runner, netID int, args utils.Args) error {
	ids, all, err := args.Nodes("node")
	if err != nil {
		return err
	}
	if !all && len(ids) != 1 {
		return network.Invalidf("node must be a single node or all")
	}
	req := dispatch.Request{Target: dispatch.Target{All: all}}
	if !all {
		req.Target.Node = ids[0]
	}
	if req.User, err = args.Int("user", 1); err != nil {
		return err
	}
	if req.Amount, err = args.Amount("amount", "2500000000"); err != nil {
		return err
	}
	if req.Count, err = args.Int("count", 100); err != nil {
		return err
	}
	if req.Interval, err = args.Seconds("interval", 10*time.Millisecond); err != nil {
		return err
	}
	if req.GasPrice, err = args.Uint64("gas", 10); err != nil {
		return err
	}
	if req.Payment, err = args.Amount("payment", "10000000000"); err != nil {
		return err
	}
	s, err := r.session(ctx, netID)
	if err != nil {
		return err
	}
	deploys, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		r.log.Error("dispatch halted", zap.Int("accepted", len(deploys)), zap.Int("count", req.Count))
		return err
	}
	return nil
}
