// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logutil

import (
	"errors"

	"github.com/ledgerops/ledger-network-runner/network"
	"go.uber.org/zap"
)

// FailureFields returns the structured fields describing a fatal error.
// Errors that carry a node get its id and the failing condition.
func FailureFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var nodeErr *network.NodeError
	if errors.As(err, &nodeErr) {
		fields = append(fields,
			zap.Int("node", nodeErr.NodeID),
			zap.String("condition", nodeErr.Op),
		)
	}
	return fields
}

// ReportFailure emits the single error line for a fatal condition.
func ReportFailure(log *zap.Logger, err error) {
	log.Error("fatal condition", FailureFields(err)...)
	_ = log.Sync()
}
