// Package model defines the data types shared by every layer of the
// overlay: the static process/topology description, the row and filter
// shapes exchanged in queries, and the role vocabulary used to decide
// fan-out behavior.
package model

import "fmt"

// Role is the position a process occupies in the overlay hierarchy.
type Role string

const (
	RoleLeader     Role = "leader"
	RoleTeamLeader Role = "team_leader"
	RoleWorker     Role = "worker"
)

// DateBounds is an inclusive, lexicographically-ordered date range
// ("YYYYMMDD" or similar sortable string form).
type DateBounds struct {
	Lower string `json:"lower"`
	Upper string `json:"upper"`
}

// Empty reports whether no bounds were configured. cmd/overlayd then
// gives a non-leader process a weighted share of its team's dates
// (datasource.AssignedDates) instead of an explicit range.
func (b *DateBounds) Empty() bool {
	return b == nil || (b.Lower == "" && b.Upper == "")
}

// Process is the immutable description of one overlay member, as loaded
// from the static topology configuration. Identity fields never change
// once the process is constructed.
type Process struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Team       string      `json:"team"`
	Host       string      `json:"host"`
	Port       int         `json:"port"`
	Neighbors  []string    `json:"neighbors"`
	DateBounds *DateBounds `json:"date_bounds,omitempty"`
}

// Addr returns the dialable host:port string for this process.
func (p *Process) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// HasDataSlice reports whether this process was configured with an
// explicit, non-empty date range. A process without one may still hold
// rows: cmd/overlayd assigns a non-leader a share of its team's dates.
func (p *Process) HasDataSlice() bool {
	return !p.DateBounds.Empty()
}
