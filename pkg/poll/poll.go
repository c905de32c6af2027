// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package poll implements bounded, fixed-cadence polling.
package poll

import (
	"context"
	"time"
)

// DefaultInterval is the cadence of every status poll and barrier.
const DefaultInterval = time.Second

// Sleeper blocks for a duration. Tests substitute one that doesn't.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

var _ Sleeper = RealSleeper{}

type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Condition is sampled once per tick.
// A non-nil error aborts polling.
type Condition func(ctx context.Context) (bool, error)

// Ticks returns how many samples fit in [timeout] at [interval].
func Ticks(timeout, interval time.Duration) int {
	if timeout <= 0 || interval <= 0 {
		return 0
	}
	return int(timeout / interval)
}

// Until samples [cond] at most [ticks] times, sleeping [interval] after
// every unsatisfied sample. Returns true as soon as [cond] holds and
// false once the ticks are exhausted.
func Until(
	ctx context.Context,
	sleeper Sleeper,
	interval time.Duration,
	ticks int,
	cond Condition,
) (bool, error) {
	for i := 0; i < ticks; i++ {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if err := sleeper.Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
	return false, nil
}
