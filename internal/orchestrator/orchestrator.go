// Package orchestrator implements the single end-to-end query pipeline
// shared by every process in the overlay, regardless of role: parse
// and admit a request, answer it from local data and/or forwarded
// neighbor results, cache the aggregated rows in chunks, and report
// what happened. Grounded on
// original_source/overlay_core/facade.py's OverlayFacade.execute_query
// / get_chunk / build_metrics_response, which this package
// restructures into explicit Go types instead of one god-object class.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aq-overlay/overlay/internal/admission"
	"github.com/aq-overlay/overlay/internal/chunking"
	"github.com/aq-overlay/overlay/internal/datasource"
	"github.com/aq-overlay/overlay/internal/forward"
	"github.com/aq-overlay/overlay/internal/metrics"
	"github.com/aq-overlay/overlay/internal/model"
	"github.com/aq-overlay/overlay/internal/resultcache"
	"github.com/aq-overlay/overlay/internal/topology"
	"github.com/aq-overlay/overlay/internal/wire"
)

// Config bundles the dependencies and policy choices a single process
// needs to answer queries. Data may be nil: a leader coordinates but
// never holds rows of its own.
type Config struct {
	Self           *model.Process
	Topology       *topology.Topology
	Data           datasource.Datasource
	Admission      *admission.Controller
	Cache          *resultcache.Cache
	Forwarding     forward.Strategy
	ForwardingName string
	FairnessName   string
	Async          bool
	ChunkingName   string
	FixedChunkSize int
	Caller         forward.Caller
	DefaultLimit   int
	Logger         *log.Logger
}

// Orchestrator answers Query/GetChunk/GetMetrics for one process.
type Orchestrator struct {
	self           *model.Process
	topo           *topology.Topology
	data           datasource.Datasource
	admission      *admission.Controller
	cache          *resultcache.Cache
	forwarding     forward.Strategy
	forwardingName string
	fairnessName   string
	async          bool
	chunkingName   string
	fixedChunkSize int
	caller         forward.Caller
	defaultLimit   int
	metrics        *metrics.Tracker
	logger         *log.Logger
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 2000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		self:           cfg.Self,
		topo:           cfg.Topology,
		data:           cfg.Data,
		admission:      cfg.Admission,
		cache:          cfg.Cache,
		forwarding:     cfg.Forwarding,
		forwardingName: cfg.ForwardingName,
		fairnessName:   cfg.FairnessName,
		async:          cfg.Async,
		chunkingName:   cfg.ChunkingName,
		fixedChunkSize: cfg.FixedChunkSize,
		caller:         cfg.Caller,
		defaultLimit:   limit,
		metrics:        metrics.New(),
		logger:         logger,
	}
}

func containsHop(id string, hops []string) bool {
	for _, h := range hops {
		if h == id {
			return true
		}
	}
	return false
}

// Query runs the full admission -> local query -> forward -> cache
// pipeline for req and reports where its result can be fetched from.
func (o *Orchestrator) Query(req wire.QueryRequest) wire.QueryResponse {
	hops := append([]string(nil), req.Hops...)

	if containsHop(o.self.ID, hops) {
		return wire.QueryResponse{Hops: hops, Status: "loop_detected"}
	}
	hops = append(hops, o.self.ID)

	filter, err := model.ParseFilter(req.QueryParams, o.defaultLimit)
	if err != nil {
		return wire.QueryResponse{Hops: hops, Status: fmt.Sprintf("invalid_query:%s", err)}
	}

	team := filter.Team
	if team == "" {
		team = o.self.Team
	}

	release, ok := o.admission.Admit(team)
	if !ok {
		o.metrics.RecordRejection()
		return wire.QueryResponse{Hops: hops, Status: "rejected"}
	}
	defer release()

	start := time.Now()
	rows := o.collectRows(filter, hops)
	if len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}

	chunkStrategy, err := chunking.ByName(o.chunkingName, filter.Limit, o.fixedChunkSize)
	if err != nil {
		// Validated at startup; falling back to Adaptive here only
		// guards against a config value changing out from under a
		// running process.
		chunkStrategy = chunking.NewAdaptive()
	}
	chunkSize := chunkStrategy.ChunkSize(len(rows))

	uid := resultcache.NewUID()
	o.cache.Store(uid, rows, chunkSize)
	totalChunks, _ := o.cache.TotalChunks(uid)

	duration := time.Since(start)
	o.metrics.RecordCompletion(duration)
	o.logger.Printf("%s query %s: %d records in %s", o.self.ID, uid[:8], len(rows), duration)
	o.metrics.Logf("%s query %s: %d records in %s", o.self.ID, uid[:8], len(rows), duration)

	return wire.QueryResponse{
		UID:          uid,
		TotalChunks:  totalChunks,
		TotalRecords: len(rows),
		Hops:         hops,
		Status:       "ready",
	}
}

func (o *Orchestrator) collectRows(filter model.QueryFilter, hops []string) []model.Row {
	var aggregated []model.Row
	remaining := filter.Limit

	if o.data != nil {
		local := o.data.Query(filter)
		if len(local) > remaining {
			local = local[:remaining]
		}
		aggregated = append(aggregated, local...)
		remaining -= len(local)
		if remaining <= 0 {
			return aggregated
		}
	}

	neighbors := forward.Targets(o.self, o.topo.Neighbors(o.self.ID))
	if len(neighbors) == 0 || o.caller == nil {
		return aggregated
	}

	var remote []model.Row
	if o.async {
		remote = o.forwarding.ForwardAsync(neighbors, o.caller, filter, hops, remaining)
	} else {
		remote = o.forwarding.ForwardBlocking(neighbors, o.caller, filter, hops, remaining)
	}
	return append(aggregated, remote...)
}

// GetChunk returns one page of a previously produced result.
func (o *Orchestrator) GetChunk(uid string, index int) wire.ChunkResponse {
	chunk, status := o.cache.GetChunk(uid, index)
	if status != resultcache.StatusSuccess {
		return wire.ChunkResponse{UID: uid, ChunkIndex: index, IsLast: true, Status: string(status)}
	}
	data, err := marshalRows(chunk.Rows)
	if err != nil {
		return wire.ChunkResponse{UID: uid, ChunkIndex: index, IsLast: true, Status: "invalid_chunk"}
	}
	return wire.ChunkResponse{
		UID:         uid,
		ChunkIndex:  chunk.ChunkIndex,
		TotalChunks: chunk.TotalChunks,
		Data:        data,
		IsLast:      chunk.IsLast,
		Status:      string(resultcache.StatusSuccess),
	}
}

// Metrics reports the process's current health and load.
func (o *Orchestrator) Metrics() wire.MetricsResponse {
	admissionSnap := o.admission.Snapshot()
	metricsSnap := o.metrics.Snapshot()

	filesLoaded := 0
	if o.data != nil {
		filesLoaded = o.data.FilesLoaded()
	}

	return wire.MetricsResponse{
		ProcessID:           o.self.ID,
		Role:                string(o.self.Role),
		Team:                o.self.Team,
		ActiveRequests:      admissionSnap.Active,
		MaxCapacity:         o.admission.MaxActive(),
		IsHealthy:           metricsSnap.IsHealthy,
		QueueSize:           o.cache.Len(),
		AvgProcessingTimeMs: metricsSnap.AvgProcessingTimeMs,
		DataFilesLoaded:     filesLoaded,
		ForwardingStrategy:  o.forwardingName,
		AsyncForwarding:     o.async,
		ChunkingStrategy:    o.chunkingName,
		FairnessStrategy:    o.fairnessName,
		RecentLogs:          o.metrics.RecentLog(),
	}
}

func marshalRows(rows []model.Row) (json.RawMessage, error) {
	if rows == nil {
		rows = []model.Row{}
	}
	return json.Marshal(rows)
}
