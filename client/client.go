// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package client runs the external ledger client. It's the only place
// that knows the client's flags and output format.
package client

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerops/ledger-network-runner/dispatch"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var _ dispatch.Client = (*CLI)(nil)

const (
	transferCmd = "transfer"
	hashLen     = 64

	DefaultTimeout = 30 * time.Second
)

// Response paths tried in order; older clients print the bare object.
var deployHashPaths = []string{"result.deploy_hash", "deploy_hash"}

type Config struct {
	// Path of the staged client binary.
	Binary string
	// Bounds one invocation.
	Timeout time.Duration
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type OpOption func(*CLI)

func WithRunner(r Runner) OpOption {
	return func(c *CLI) { c.run = r }
}

type CLI struct {
	log *zap.Logger
	cfg Config
	run Runner
}

func New(log *zap.Logger, cfg Config, opts ...OpOption) *CLI {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &CLI{log: log, cfg: cfg, run: execRunner}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CLI) Transfer(ctx context.Context, req dispatch.TransferRequest) (dispatch.DeployHash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.run(ctx, c.cfg.Binary, TransferArgs(req)...)
	if err != nil {
		return "", fmt.Errorf("transfer via node %d failed: %w", req.NodeID, err)
	}
	hash, err := ParseDeployHash(out)
	if err != nil {
		c.log.Debug("unexpected client output", zap.Int("node", req.NodeID), zap.ByteString("output", out))
		return "", err
	}
	return hash, nil
}

// TransferArgs are the client arguments of [req].
func TransferArgs(req dispatch.TransferRequest) []string {
	return []string{
		transferCmd,
		"--node-address", req.NodeAddress,
		"--chain-name", req.ChainName,
		"--secret-key", req.SecretKeyPath,
		"--amount", req.Amount,
		"--target-account", req.TargetPublicKey,
		"--payment-amount", req.Payment,
		"--gas-price", strconv.FormatUint(req.GasPrice, 10),
		"--transfer-id", strconv.FormatUint(req.TransferID, 10),
	}
}

// ParseDeployHash extracts and validates the deploy hash from the
// client's JSON output.
func ParseDeployHash(out []byte) (dispatch.DeployHash, error) {
	out = bytes.TrimSpace(out)
	if !gjson.ValidBytes(out) {
		return "", fmt.Errorf("client output isn't JSON: %.80q", out)
	}
	if rpcErr := gjson.GetBytes(out, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return "", fmt.Errorf("node rejected deploy: %s", rpcErr.Get("message").String())
	}
	for _, path := range deployHashPaths {
		v := gjson.GetBytes(out, path)
		if !v.Exists() {
			continue
		}
		hash := strings.ToLower(v.String())
		if !isHash(hash) {
			return "", fmt.Errorf("malformed deploy hash %q", v.String())
		}
		return dispatch.DeployHash(hash), nil
	}
	return "", fmt.Errorf("client output has no deploy hash")
}

func isHash(s string) bool {
	if len(s) != hashLen {
		return false
	}
	return strings.Trim(s, "0123456789abcdef") == ""
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
