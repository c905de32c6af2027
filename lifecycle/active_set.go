package lifecycle

import (
	"fmt"
	"sort"

	"github.com/ledgerops/ledger-network-runner/network"
)

// ActiveSet is the ordered set of node ids currently acting as validators.
// Ids are kept ascending; rotation swaps membership.
type ActiveSet struct {
	ids []int
}

func NewActiveSet(ids []int) *ActiveSet {
	seen := make(map[int]struct{}, len(ids))
	s := &ActiveSet{ids: make([]int, 0, len(ids))}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	sort.Ints(s.ids)
	return s
}

func (s *ActiveSet) IDs() []int {
	out := make([]int, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *ActiveSet) Len() int { return len(s.ids) }

func (s *ActiveSet) Contains(id int) bool {
	i := sort.SearchInts(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

// Swap replaces [out] with [in], keeping the set ordered.
func (s *ActiveSet) Swap(out, in int) error {
	if !s.Contains(out) {
		return network.Invalidf("node %d is not active", out)
	}
	if s.Contains(in) {
		return network.Invalidf("node %d is already active", in)
	}
	ids := make([]int, 0, len(s.ids))
	for _, id := range s.ids {
		if id != out {
			ids = append(ids, id)
		}
	}
	ids = append(ids, in)
	sort.Ints(ids)
	s.ids = ids
	return nil
}

func (s *ActiveSet) String() string {
	return fmt.Sprint(s.ids)
}

// Cursor walks a snapshot of the set round robin, starting from the
// lowest id.
func (s *ActiveSet) Cursor() *Cursor {
	return &Cursor{ids: s.IDs()}
}

type Cursor struct {
	ids  []int
	next int
}

// Next returns the next id, wrapping around. It panics on an empty set.
func (c *Cursor) Next() int {
	id := c.ids[c.next]
	c.next = (c.next + 1) % len(c.ids)
	return id
}
