// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package process

import (
	"github.com/shirou/gopsutil/process"
)

// terminateDescendants sends SIGTERM to every descendant of [pid],
// deepest first.
func terminateDescendants(pid int32) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			// exited while we were walking
			continue
		}
		if ppid != pid {
			continue
		}
		if err := terminateDescendants(proc.Pid); err != nil {
			return err
		}
		_ = proc.Terminate()
	}
	return nil
}
