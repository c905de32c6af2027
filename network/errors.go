// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"errors"
	"fmt"
)

var (
	// Rejected before any asset is created.
	ErrInvalidInput = errors.New("invalid input")
	// A node didn't reach RUNNING within the retry budget.
	ErrStartupFailed = errors.New("node startup failed")
	// A node didn't reach STOPPED within the retry budget.
	ErrShutdownFailed = errors.New("node shutdown failed")
	// A barrier wasn't satisfied in time.
	ErrTimeout = errors.New("barrier timed out")
	// Nodes didn't agree on the last finalized block in time.
	ErrSyncTimeout = errors.New("network sync timed out")
	// The external client rejected or failed a request.
	ErrDispatch = errors.New("dispatch failed")
	// A fault check didn't match the expected state.
	ErrUnexpectedFault = errors.New("unexpected fault state")

	ErrNetworkNotFound = errors.New("network not found")
	ErrNodeNotFound    = errors.New("node not found in network")
	ErrNodeFailed      = errors.New("node is in failed state")
)

// NodeError ties a failure to the node and the condition that failed.
type NodeError struct {
	NodeID int
	// Operation or barrier that failed, e.g. "start", "await-era".
	Op  string
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %d: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func NewNodeError(nodeID int, op string, err error) error {
	return &NodeError{NodeID: nodeID, Op: op, Err: err}
}

// Invalidf returns an error wrapping ErrInvalidInput.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
