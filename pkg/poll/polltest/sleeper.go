// Package polltest provides a Sleeper that records instead of sleeping.
package polltest

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerops/ledger-network-runner/pkg/poll"
)

var _ poll.Sleeper = (*Sleeper)(nil)

type Sleeper struct {
	lock  sync.Mutex
	slept []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func (s *Sleeper) Count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.slept)
}

func (s *Sleeper) Total() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	var total time.Duration
	for _, d := range s.slept {
		total += d
	}
	return total
}

func (s *Sleeper) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.slept = nil
}
