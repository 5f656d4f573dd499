// Package forward selects which neighbors a query is delegated to and
// in what order and concurrency, aggregating whatever rows come back.
// Grounded on original_source/overlay_core/strategies.py's
// ForwardingStrategy hierarchy and facade.py's _select_forward_targets
// / _request_neighbor_records, translated into Go with the neighbor
// call itself injected as a Caller func — the same inversion the
// reference implementation uses (request_func) to keep strategy logic
// independent of the transport.
package forward

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/aq-overlay/overlay/internal/model"
)

// Caller issues a forwarded query to neighbor and returns whatever rows
// it could gather (local plus its own further forwarding), up to
// remaining rows. A non-nil error means the neighbor could not be
// reached or its reply could not be read; a neighbor that answers with
// a non-ready status yields no rows and a nil error. Strategy
// implementations absorb errors without propagating or logging them,
// so one unreachable neighbor never fails the whole query.
type Caller func(neighbor *model.Process, filter model.QueryFilter, hops []string, remaining int) ([]model.Row, error)

// Strategy fans a query out to neighbors and merges their rows.
type Strategy interface {
	ForwardBlocking(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row
	ForwardAsync(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row
}

// Targets selects which of a process's configured neighbors a query
// should fan out to, per role: a leader only ever talks to team
// leaders, a team leader only to workers on its own team, and a worker
// forwards to nobody (it is always a leaf).
func Targets(self *model.Process, neighbors []*model.Process) []*model.Process {
	var out []*model.Process
	switch self.Role {
	case model.RoleLeader:
		for _, n := range neighbors {
			if n.Role == model.RoleTeamLeader {
				out = append(out, n)
			}
		}
	case model.RoleTeamLeader:
		for _, n := range neighbors {
			if n.Role == model.RoleWorker && n.Team == self.Team {
				out = append(out, n)
			}
		}
	}
	return out
}

func inHops(id string, hops []string) bool {
	for _, h := range hops {
		if h == id {
			return true
		}
	}
	return false
}

func excludeHops(neighbors []*model.Process, hops []string) []*model.Process {
	out := make([]*model.Process, 0, len(neighbors))
	for _, n := range neighbors {
		if !inHops(n.ID, hops) {
			out = append(out, n)
		}
	}
	return out
}

// allocate splits a remaining row budget across n neighbors: each gets a
// base share of ⌊remaining/n⌋ (floored up to 1, so nobody is starved),
// and the leftover from that division is handed out one row at a time,
// round-robin, to the first neighbors in order.
func allocate(n, remaining int) []int {
	if n <= 0 {
		return nil
	}
	base := remaining / n
	if base < 1 {
		base = 1
	}
	allocations := make([]int, n)
	for i := range allocations {
		allocations[i] = base
	}
	leftover := remaining - base*n
	for i := 0; i < n && leftover > 0; i++ {
		allocations[i]++
		leftover--
	}
	return allocations
}

func rotate(neighbors []*model.Process, start int) []*model.Process {
	if len(neighbors) == 0 {
		return nil
	}
	start = start % len(neighbors)
	out := make([]*model.Process, 0, len(neighbors))
	out = append(out, neighbors[start:]...)
	out = append(out, neighbors[:start]...)
	return out
}

// stableByID returns a copy of neighbors sorted by id. Rotation starts
// from a stable base ordering so that successive calls rotate through
// the same cycle regardless of the map iteration order the caller's
// topology lookup happened to produce.
func stableByID(neighbors []*model.Process) []*model.Process {
	out := make([]*model.Process, len(neighbors))
	copy(out, neighbors)
	slices.SortFunc(out, func(a, b *model.Process) bool { return strings.Compare(a.ID, b.ID) < 0 })
	return out
}

// RoundRobin forwards starting from a different neighbor each call,
// advancing an internal counter, so repeated identical queries spread
// load evenly across neighbors instead of always hitting the first one.
type RoundRobin struct {
	mu    sync.Mutex
	index int
}

func (r *RoundRobin) nextStart(n int) int {
	if n == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.index % n
	r.index++
	return start
}

func (r *RoundRobin) ForwardBlocking(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row {
	ordered := rotate(stableByID(neighbors), r.nextStart(len(neighbors)))
	return forwardSequential(ordered, call, filter, hops, remaining)
}

func (r *RoundRobin) ForwardAsync(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row {
	ordered := rotate(stableByID(neighbors), r.nextStart(len(neighbors)))
	return forwardParallel(ordered, call, filter, hops, remaining)
}

// Parallel always fans out to every eligible neighbor at once; its
// blocking form falls back to sequential order (matching the reference
// strategy, which only parallelizes in async mode).
type Parallel struct{}

func (Parallel) ForwardBlocking(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row {
	return forwardSequential(neighbors, call, filter, hops, remaining)
}

func (Parallel) ForwardAsync(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row {
	return forwardParallel(neighbors, call, filter, hops, remaining)
}

func forwardSequential(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row {
	valid := excludeHops(neighbors, hops)
	if len(valid) == 0 {
		return nil
	}
	allocations := allocate(len(valid), remaining)
	budget := remaining

	var aggregated []model.Row
	for i, n := range valid {
		if remaining <= 0 {
			break
		}
		rows, err := call(n, filter, hops, allocations[i])
		if err != nil {
			continue
		}
		aggregated = append(aggregated, rows...)
		remaining -= len(rows)
	}
	if budget >= 0 && len(aggregated) > budget {
		aggregated = aggregated[:budget]
	}
	return aggregated
}

func forwardParallel(neighbors []*model.Process, call Caller, filter model.QueryFilter, hops []string, remaining int) []model.Row {
	valid := excludeHops(neighbors, hops)
	if len(valid) == 0 {
		return nil
	}
	allocations := allocate(len(valid), remaining)

	var mu sync.Mutex
	var aggregated []model.Row
	left := remaining

	var wg sync.WaitGroup
	for i, n := range valid {
		mu.Lock()
		budget := left
		mu.Unlock()
		if budget <= 0 {
			break
		}
		wg.Add(1)
		go func(n *model.Process, alloc int) {
			defer wg.Done()
			mu.Lock()
			budget := left
			mu.Unlock()
			if budget <= 0 {
				return
			}
			rows, err := call(n, filter, hops, alloc)
			if err != nil {
				return
			}
			mu.Lock()
			aggregated = append(aggregated, rows...)
			left -= len(rows)
			mu.Unlock()
		}(n, allocations[i])
	}
	wg.Wait()

	if len(aggregated) > remaining {
		aggregated = aggregated[:remaining]
	}
	return aggregated
}

// ByName resolves one of the two closed-enumeration forwarding strategy
// names accepted on the command line.
func ByName(name string) (Strategy, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobin{}, nil
	case "parallel":
		return Parallel{}, nil
	default:
		return nil, fmt.Errorf("forward: unknown forwarding strategy %q", name)
	}
}
