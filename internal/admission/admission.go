// Package admission bounds how many queries a process works on at once
// and arbitrates between teams contending for that capacity. Grounded
// on original_source/overlay_core/strategies.py's FairnessStrategy
// hierarchy, translated from class-per-strategy into the teacher's
// interface-plus-struct idiom (cmd/snellerd selects an implementation
// by name at startup the same way).
package admission

import (
	"fmt"
	"strings"
	"sync"
)

// Fairness decides whether a new request for team may be admitted,
// given the current active-request counts. Implementations must be
// safe to call without holding any lock of their own; Controller
// serializes access.
type Fairness interface {
	ShouldAdmit(team string, activePerTeam map[string]int, maxActive, perTeamLimit int) bool
}

// StrictPerTeam rejects once the team's own count reaches perTeamLimit,
// regardless of how idle other teams are.
type StrictPerTeam struct{}

func (StrictPerTeam) ShouldAdmit(team string, activePerTeam map[string]int, maxActive, perTeamLimit int) bool {
	if totalActive(activePerTeam) >= maxActive {
		return false
	}
	if team != "" && activePerTeam[strings.ToLower(team)] >= perTeamLimit {
		return false
	}
	return true
}

// Weighted lets a team borrow capacity past its limit when every other
// team combined is using less than 80% of that same limit.
type Weighted struct{}

func (Weighted) ShouldAdmit(team string, activePerTeam map[string]int, maxActive, perTeamLimit int) bool {
	if totalActive(activePerTeam) >= maxActive {
		return false
	}
	if team == "" {
		return true
	}
	key := strings.ToLower(team)
	teamActive := activePerTeam[key]
	othersTotal := totalActive(activePerTeam) - teamActive
	if teamActive >= perTeamLimit && float64(othersTotal) >= float64(perTeamLimit)*0.8 {
		return false
	}
	return true
}

// Hybrid applies StrictPerTeam once overall load crosses a threshold
// fraction of maxActive, and Weighted below it.
type Hybrid struct {
	HighLoadThreshold float64
}

func NewHybrid() Hybrid {
	return Hybrid{HighLoadThreshold: 0.8}
}

func (h Hybrid) ShouldAdmit(team string, activePerTeam map[string]int, maxActive, perTeamLimit int) bool {
	threshold := h.HighLoadThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	var loadRatio float64
	if maxActive > 0 {
		loadRatio = float64(totalActive(activePerTeam)) / float64(maxActive)
	}
	if loadRatio >= threshold {
		return StrictPerTeam{}.ShouldAdmit(team, activePerTeam, maxActive, perTeamLimit)
	}
	return Weighted{}.ShouldAdmit(team, activePerTeam, maxActive, perTeamLimit)
}

func totalActive(activePerTeam map[string]int) int {
	sum := 0
	for _, v := range activePerTeam {
		sum += v
	}
	return sum
}

// ByName resolves one of the three closed-enumeration fairness strategy
// names accepted on the command line. Unknown names are a startup-time
// configuration error, never a silent fallback.
func ByName(name string) (Fairness, error) {
	switch strings.ToLower(name) {
	case "", "strict":
		return StrictPerTeam{}, nil
	case "weighted":
		return Weighted{}, nil
	case "hybrid":
		return NewHybrid(), nil
	default:
		return nil, fmt.Errorf("admission: unknown fairness strategy %q", name)
	}
}

// Controller tracks how many requests are in flight, overall and per
// team, and consults a Fairness policy before admitting a new one.
type Controller struct {
	mu           sync.Mutex
	fairness     Fairness
	maxActive    int
	perTeamLimit int
	active       map[string]int
	rejected     uint64
}

// NewController builds a Controller with the given policy and limits.
// maxActive bounds total concurrent in-flight requests on this process;
// perTeamLimit bounds a single team's share of that total, subject to
// fairness's own rules for relaxing it.
func NewController(fairness Fairness, maxActive, perTeamLimit int) *Controller {
	return &Controller{
		fairness:     fairness,
		maxActive:    maxActive,
		perTeamLimit: perTeamLimit,
		active:       make(map[string]int),
	}
}

// Admit attempts to reserve a slot for team. On success it returns a
// release func that must be called exactly once when the request
// finishes (success or failure) to free the slot; ok is false if the
// policy rejected the request, in which case release is nil.
func (c *Controller) Admit(team string) (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fairness.ShouldAdmit(team, c.active, c.maxActive, c.perTeamLimit) {
		c.rejected++
		return nil, false
	}
	key := strings.ToLower(team)
	c.active[key]++
	released := false
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if released {
			return
		}
		released = true
		c.active[key]--
		if c.active[key] <= 0 {
			delete(c.active, key)
		}
	}, true
}

// Snapshot reports the controller's current load for metrics reporting.
type Snapshot struct {
	Active        int
	ActivePerTeam map[string]int
	Rejected      uint64
}

// MaxActive reports the configured ceiling on total concurrent
// in-flight requests, surfaced verbatim in GetMetrics responses.
func (c *Controller) MaxActive() int {
	return c.maxActive
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	perTeam := make(map[string]int, len(c.active))
	total := 0
	for k, v := range c.active {
		perTeam[k] = v
		total += v
	}
	return Snapshot{Active: total, ActivePerTeam: perTeam, Rejected: c.rejected}
}
