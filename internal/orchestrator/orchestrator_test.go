package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aq-overlay/overlay/internal/admission"
	"github.com/aq-overlay/overlay/internal/datasource"
	"github.com/aq-overlay/overlay/internal/forward"
	"github.com/aq-overlay/overlay/internal/model"
	"github.com/aq-overlay/overlay/internal/resultcache"
	"github.com/aq-overlay/overlay/internal/topology"
	"github.com/aq-overlay/overlay/internal/wire"
)

type fakeDatasource struct {
	rows []model.Row
}

func (f *fakeDatasource) Query(filter model.QueryFilter) []model.Row { return f.rows }
func (f *fakeDatasource) Dates() []string                            { return nil }
func (f *fakeDatasource) FilesLoaded() int                           { return 1 }

func buildTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New(&topology.Config{
		Processes: map[string]*model.Process{
			"A": {ID: "A", Role: model.RoleLeader, Neighbors: []string{"B"}},
			"B": {ID: "B", Role: model.RoleTeamLeader, Team: "green", Neighbors: []string{"C"}},
			"C": {ID: "C", Role: model.RoleWorker, Team: "green"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return topo
}

func newOrchestrator(t *testing.T, self *model.Process, data *fakeDatasource, caller forward.Caller) *Orchestrator {
	t.Helper()
	cache := resultcache.New(time.Minute)
	t.Cleanup(cache.Close)
	var ds datasource.Datasource
	if data != nil {
		ds = data
	}
	return New(Config{
		Self:           self,
		Topology:       buildTopology(t),
		Data:           ds,
		Admission:      admission.NewController(admission.StrictPerTeam{}, 100, 100),
		Cache:          cache,
		Forwarding:     &forward.RoundRobin{},
		ForwardingName: "round_robin",
		FairnessName:   "strict",
		ChunkingName:   "fixed",
		Caller:         caller,
		DefaultLimit:   2000,
	})
}

func TestQuerySingleNodeLocal(t *testing.T) {
	self := &model.Process{ID: "C", Role: model.RoleWorker, Team: "green"}
	data := &fakeDatasource{rows: []model.Row{{SiteName: "a"}, {SiteName: "b"}}}
	o := newOrchestrator(t, self, data, nil)

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`{}`)})
	if resp.Status != "ready" {
		t.Fatalf("expected ready, got %q", resp.Status)
	}
	if resp.TotalRecords != 2 {
		t.Fatalf("expected 2 records, got %d", resp.TotalRecords)
	}
}

func TestQueryLoopDetected(t *testing.T) {
	self := &model.Process{ID: "C", Role: model.RoleWorker, Team: "green"}
	o := newOrchestrator(t, self, &fakeDatasource{}, nil)

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`{}`), Hops: []string{"A", "C"}})
	if resp.Status != "loop_detected" {
		t.Fatalf("expected loop_detected, got %q", resp.Status)
	}
}

func TestQueryForwardsToTeamLeaderNeighbor(t *testing.T) {
	self := &model.Process{ID: "A", Role: model.RoleLeader}
	called := false
	caller := func(n *model.Process, filter model.QueryFilter, hops []string, remaining int) ([]model.Row, error) {
		called = true
		if n.ID != "B" {
			t.Fatalf("expected leader to forward to team leader B, got %s", n.ID)
		}
		return []model.Row{{SiteName: "remote"}}, nil
	}
	o := newOrchestrator(t, self, nil, caller)

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`{}`)})
	if resp.Status != "ready" {
		t.Fatalf("expected ready, got %q", resp.Status)
	}
	if !called {
		t.Fatal("expected leader to forward the query")
	}
	if resp.TotalRecords != 1 {
		t.Fatalf("expected 1 forwarded record, got %d", resp.TotalRecords)
	}
}

func TestQueryStopsForwardingOnceLimitSatisfiedLocally(t *testing.T) {
	self := &model.Process{ID: "B", Role: model.RoleTeamLeader, Team: "green"}
	data := &fakeDatasource{rows: []model.Row{{SiteName: "local"}}}
	called := false
	caller := func(n *model.Process, filter model.QueryFilter, hops []string, remaining int) ([]model.Row, error) {
		called = true
		return nil, nil
	}
	o := newOrchestrator(t, self, data, caller)

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`{"limit":1}`)})
	if resp.Status != "ready" || resp.TotalRecords != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if called {
		t.Fatal("expected no forwarding once the local result already satisfied the limit")
	}
}

func TestQueryRejectedByAdmission(t *testing.T) {
	self := &model.Process{ID: "C", Role: model.RoleWorker, Team: "green"}
	o := New(Config{
		Self:         self,
		Topology:     buildTopology(t),
		Data:         &fakeDatasource{},
		Admission:    admission.NewController(admission.StrictPerTeam{}, 0, 0),
		Cache:        resultcache.New(time.Minute),
		Forwarding:   &forward.RoundRobin{},
		ChunkingName: "fixed",
		DefaultLimit: 2000,
	})

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`{}`)})
	if resp.Status != "rejected" {
		t.Fatalf("expected rejected with maxActive=0, got %q", resp.Status)
	}
}

func TestGetChunkAndMetrics(t *testing.T) {
	self := &model.Process{ID: "C", Role: model.RoleWorker, Team: "green"}
	data := &fakeDatasource{rows: []model.Row{{SiteName: "a"}, {SiteName: "b"}}}
	o := newOrchestrator(t, self, data, nil)

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`{}`)})
	if resp.Status != "ready" {
		t.Fatalf("expected ready, got %q", resp.Status)
	}

	chunk := o.GetChunk(resp.UID, 0)
	if chunk.Status != "success" {
		t.Fatalf("expected success fetching chunk 0, got %q", chunk.Status)
	}

	metricsResp := o.Metrics()
	if metricsResp.ProcessID != "C" || metricsResp.DataFilesLoaded != 1 {
		t.Fatalf("unexpected metrics: %+v", metricsResp)
	}
	if metricsResp.ForwardingStrategy != "round_robin" || metricsResp.ChunkingStrategy != "fixed" || metricsResp.FairnessStrategy != "strict" {
		t.Fatalf("expected strategy names to be reported, got %+v", metricsResp)
	}
	if len(metricsResp.RecentLogs) == 0 {
		t.Fatalf("expected recent logs to include the query just run")
	}
}

func TestQueryInvalidFilterJSON(t *testing.T) {
	self := &model.Process{ID: "C", Role: model.RoleWorker, Team: "green"}
	o := newOrchestrator(t, self, &fakeDatasource{}, nil)

	resp := o.Query(wire.QueryRequest{QueryParams: json.RawMessage(`not json`)})
	if resp.Status == "ready" {
		t.Fatal("expected invalid_query status for malformed filter payload")
	}
}
