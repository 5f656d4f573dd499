package datasource

import (
	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"

	"github.com/aq-overlay/overlay/internal/model"
)

// partitionKey0/partitionKey1 are fixed siphash keys used to derive a
// stable, deterministic ordering of team members for date partitioning.
// Using a hash of the member id (rather than plain lexical id order)
// means the partition boundary a given member lands on does not shift in
// lockstep whenever the team roster is extended with an id that sorts
// earlier — new members hash to arbitrary positions instead of always
// displacing the tail. Grounded on the teacher's own blob-to-peer
// partitioning in cmd/snellerd/splitter.go, which hashes by ETag with
// exactly this pair of fixed keys reused for a new purpose here.
const (
	partitionKey0 = uint64(0x5d1ec810)
	partitionKey1 = uint64(0xfebed702)
)

func hashID(id string) uint64 {
	return siphash.Hash(partitionKey0, partitionKey1, []byte(id))
}

// roleWeight mirrors the reference deployment's per-role share: a team
// leader carries a lighter slice of the dataset than a worker so that it
// has spare capacity to aggregate, per spec §4.2.
func roleWeight(r model.Role) int {
	switch r {
	case model.RoleTeamLeader:
		return 1
	case model.RoleWorker:
		return 2
	default:
		return 1
	}
}

// memberShares computes, for each member (in the order given), the
// number of dates out of total it should own. Shares are weighted by
// role, rounded to the nearest integer with a floor of 1, and the final
// member absorbs the rounding residual. The final member's own share
// never drops below 1, so when the rounded shares overshoot total by
// more than it can give up, the shares sum to more than total;
// AssignedDates clamps the overflow at the end of the date list.
func memberShares(members []*model.Process, total int) []int {
	if total <= 0 {
		return make([]int, len(members))
	}
	weights := make([]int, len(members))
	weightTotal := 0
	for i, m := range members {
		weights[i] = roleWeight(m.Role)
		weightTotal += weights[i]
	}
	if weightTotal == 0 {
		weightTotal = len(members)
	}
	shares := make([]int, len(members))
	sum := 0
	for i, w := range weights {
		s := int(round(float64(w) / float64(weightTotal) * float64(total)))
		if s < 1 {
			s = 1
		}
		shares[i] = s
		sum += s
	}
	diff := total - sum
	if diff > 0 {
		shares[len(shares)-1] += diff
	} else if diff < 0 {
		take := shares[len(shares)-1] - 1
		if take > -diff {
			take = -diff
		}
		if take > 0 {
			shares[len(shares)-1] -= take
		}
	}
	return shares
}

func round(f float64) float64 {
	if f < 0 {
		return -round(-f)
	}
	return float64(int64(f + 0.5))
}

// AssignedDates returns the contiguous sub-slice of sortedDates (which
// must already be sorted ascending and lie within the team's bounds)
// that belongs to processID, given every member of processID's team.
// The team's dates are divided among members in hash order (see
// hashID) using weighted shares (memberShares); a process absent from
// its own team's member list, or with no dates to assign, gets none.
func AssignedDates(members []*model.Process, processID string, sortedDates []string) []string {
	if len(members) == 0 || len(sortedDates) == 0 {
		return nil
	}
	ordered := make([]*model.Process, len(members))
	copy(ordered, members)
	slices.SortFunc(ordered, func(a, b *model.Process) bool { return hashID(a.ID) < hashID(b.ID) })

	shares := memberShares(ordered, len(sortedDates))
	start := 0
	for i, m := range ordered {
		end := start + shares[i]
		if i == len(ordered)-1 || end > len(sortedDates) {
			end = len(sortedDates)
		}
		if m.ID == processID {
			return append([]string(nil), sortedDates[start:end]...)
		}
		start = end
	}
	return nil
}
