package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aq-overlay/overlay/internal/model"
)

func sampleConfig() *Config {
	return &Config{
		Processes: map[string]*model.Process{
			"A": {ID: "A", Role: model.RoleLeader, Neighbors: []string{"B", "E"}},
			"B": {ID: "B", Role: model.RoleTeamLeader, Team: "green", Neighbors: []string{"C"}},
			"C": {ID: "C", Role: model.RoleWorker, Team: "green"},
			"E": {ID: "E", Role: model.RoleTeamLeader, Team: "pink", Neighbors: []string{"F", "D"}},
			"F": {ID: "F", Role: model.RoleWorker, Team: "pink"},
			"D": {ID: "D", Role: model.RoleWorker, Team: "pink"},
		},
	}
}

func TestNewValidatesNeighbors(t *testing.T) {
	cfg := sampleConfig()
	cfg.Processes["A"].Neighbors = append(cfg.Processes["A"].Neighbors, "ghost")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown neighbor reference")
	}
}

func TestNeighborsAndTeamMembers(t *testing.T) {
	topo, err := New(sampleConfig())
	if err != nil {
		t.Fatal(err)
	}
	neighbors := topo.Neighbors("A")
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors for A, got %d", len(neighbors))
	}
	pink := topo.TeamMembers("pink")
	if len(pink) != 3 {
		t.Fatalf("expected 3 pink members, got %d", len(pink))
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "topo.json")
	data := []byte(`{"processes":{"W":{"id":"W","role":"worker","team":"green"}}}`)
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	topo, err := Load(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := topo.Get("W"); !ok {
		t.Fatal("expected process W to be present")
	}

	yamlPath := filepath.Join(dir, "topo.yaml")
	yamlData := []byte("processes:\n  W:\n    id: W\n    role: worker\n    team: green\n")
	if err := os.WriteFile(yamlPath, yamlData, 0o644); err != nil {
		t.Fatal(err)
	}
	topo, err = Load(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := topo.Get("W"); !ok {
		t.Fatal("expected process W to be present in the YAML topology")
	}
}

func TestGetUnknown(t *testing.T) {
	topo, _ := New(sampleConfig())
	if _, ok := topo.Get("nope"); ok {
		t.Fatal("expected unknown process to be absent")
	}
}
