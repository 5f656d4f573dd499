// Package topology loads and exposes the static process graph that
// defines an overlay deployment. It is read once at startup; there is no
// runtime reconfiguration or dynamic discovery (see spec Non-goals).
package topology

import (
	"fmt"
	"os"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/aq-overlay/overlay/internal/model"
)

// Strategies names the pluggable policies selected for a deployment. Each
// process in the config file may be started with its own override via
// command-line flags; these are the defaults carried in the config file.
type Strategies struct {
	ForwardingStrategy string `json:"forwarding_strategy,omitempty"`
	AsyncForwarding    bool   `json:"async_forwarding,omitempty"`
	ChunkingStrategy   string `json:"chunking_strategy,omitempty"`
	FairnessStrategy   string `json:"fairness_strategy,omitempty"`
}

// Config is the on-disk shape of a deployment descriptor: a map of
// process id to Process, plus optional default strategy selection.
// sigs.k8s.io/yaml accepts this file as either YAML or plain JSON (JSON
// is a YAML subset), matching the spec's "JSON object" config format
// while letting operators hand-author a more readable YAML topology.
type Config struct {
	Processes  map[string]*model.Process `json:"processes"`
	Strategies Strategies                `json:"strategies,omitempty"`
}

// Topology is the validated, queryable view of a loaded Config.
type Topology struct {
	processes  map[string]*model.Process
	strategies Strategies
}

// Load reads and validates a topology file at path.
func Load(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing topology file: %w", err)
	}
	return New(&cfg)
}

// New validates cfg and builds a Topology from it.
func New(cfg *Config) (*Topology, error) {
	if len(cfg.Processes) == 0 {
		return nil, fmt.Errorf("topology: no processes configured")
	}
	for id, p := range cfg.Processes {
		if p.ID == "" {
			p.ID = id
		}
		if p.ID != id {
			return nil, fmt.Errorf("topology: process key %q does not match id %q", id, p.ID)
		}
		for _, n := range p.Neighbors {
			if _, ok := cfg.Processes[n]; !ok {
				return nil, fmt.Errorf("topology: process %q references unknown neighbor %q", id, n)
			}
		}
	}
	return &Topology{processes: cfg.Processes, strategies: cfg.Strategies}, nil
}

// Strategies returns the deployment-wide default strategy selection.
func (t *Topology) Strategies() Strategies {
	return t.strategies
}

// Get returns the process with the given id, or (nil, false) if unknown.
func (t *Topology) Get(id string) (*model.Process, bool) {
	p, ok := t.processes[id]
	return p, ok
}

// Neighbors returns the full Process records for id's configured
// neighbors, in configuration order.
func (t *Topology) Neighbors(id string) []*model.Process {
	p, ok := t.processes[id]
	if !ok {
		return nil
	}
	out := make([]*model.Process, 0, len(p.Neighbors))
	for _, n := range p.Neighbors {
		if np, ok := t.processes[n]; ok {
			out = append(out, np)
		}
	}
	return out
}

// All returns every process in the topology, sorted by id for
// deterministic iteration (config map order is not stable).
func (t *Topology) All() []*model.Process {
	out := make([]*model.Process, 0, len(t.processes))
	for _, p := range t.processes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TeamMembers returns every process belonging to team, in id order,
// used by the weighted date-range partition (internal/datasource) to
// divide a team's slice of the dataset among its members.
func (t *Topology) TeamMembers(team string) []*model.Process {
	var out []*model.Process
	for _, p := range t.All() {
		if p.Team == team {
			out = append(out, p)
		}
	}
	return out
}
