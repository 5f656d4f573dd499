package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aq-overlay/overlay/internal/admission"
	"github.com/aq-overlay/overlay/internal/chunking"
	"github.com/aq-overlay/overlay/internal/datasource"
	"github.com/aq-overlay/overlay/internal/forward"
	"github.com/aq-overlay/overlay/internal/model"
	"github.com/aq-overlay/overlay/internal/orchestrator"
	"github.com/aq-overlay/overlay/internal/overlay"
	"github.com/aq-overlay/overlay/internal/remoteclient"
	"github.com/aq-overlay/overlay/internal/resultcache"
	"github.com/aq-overlay/overlay/internal/topology"
)

func runServe(args []string) {
	cmd := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := cmd.String("config", "", "path to the topology config file (YAML or JSON)")
	processID := cmd.String("id", "", "id of this process within the topology")
	datasetRoot := cmd.String("dataset-root", "", "directory containing one <date>.csv file per date")
	chunkSizeFlag := cmd.Int("chunk-size", 200, "chunk size used by the fixed chunking strategy")
	resultTTLSeconds := cmd.Int("result-ttl-seconds", 300, "seconds a cached result survives without being fully drained")
	forwardingStrategy := cmd.String("forwarding-strategy", "", "round_robin or parallel (defaults to the topology file's setting, then round_robin)")
	asyncForwarding := cmd.Bool("async-forwarding", false, "forward to neighbors concurrently instead of sequentially")
	chunkingStrategy := cmd.String("chunking-strategy", "", "fixed, adaptive, or query_based (defaults to the topology file's setting, then adaptive)")
	fairnessStrategy := cmd.String("fairness-strategy", "", "strict, weighted, or hybrid (defaults to the topology file's setting, then strict)")
	maxActive := cmd.Int("max-active", 64, "maximum concurrent in-flight requests this process admits")
	perTeamLimit := cmd.Int("per-team-limit", 32, "maximum concurrent in-flight requests a single team may hold")
	defaultLimit := cmd.Int("default-limit", 2000, "upper bound on a query's row limit")

	if err := cmd.Parse(args); err != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	if *configPath == "" || *processID == "" {
		logger.Fatal("serve: -config and -id are required")
	}

	topo, err := topology.Load(*configPath)
	if err != nil {
		logger.Fatalf("serve: loading topology: %s", err)
	}
	self, ok := topo.Get(*processID)
	if !ok {
		logger.Fatalf("serve: process %q is not defined in the topology", *processID)
	}

	strategies := topo.Strategies()
	forwardingName := firstNonEmpty(*forwardingStrategy, strategies.ForwardingStrategy, "round_robin")
	chunkingName := firstNonEmpty(*chunkingStrategy, strategies.ChunkingStrategy, "adaptive")
	fairnessName := firstNonEmpty(*fairnessStrategy, strategies.FairnessStrategy, "strict")
	useAsync := *asyncForwarding || strategies.AsyncForwarding

	fwd, err := forward.ByName(forwardingName)
	if err != nil {
		logger.Fatalf("serve: %s", err)
	}
	fair, err := admission.ByName(fairnessName)
	if err != nil {
		logger.Fatalf("serve: %s", err)
	}
	if _, err := chunking.ByName(chunkingName, 0, *chunkSizeFlag); err != nil {
		logger.Fatalf("serve: %s", err)
	}

	var data datasource.Datasource
	if self.Role != model.RoleLeader {
		data, err = loadAssignedData(topo, self, *datasetRoot)
		if err != nil {
			logger.Fatalf("serve: loading dataset: %s", err)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Self:           self,
		Topology:       topo,
		Data:           data,
		Admission:      admission.NewController(fair, *maxActive, *perTeamLimit),
		Cache:          resultcache.New(time.Duration(*resultTTLSeconds) * time.Second),
		Forwarding:     fwd,
		ForwardingName: forwardingName,
		FairnessName:   fairnessName,
		Async:          useAsync,
		ChunkingName:   chunkingName,
		FixedChunkSize: *chunkSizeFlag,
		Caller:         remoteclient.New().Call,
		DefaultLimit:   *defaultLimit,
		Logger:         logger,
	})

	ln, err := net.Listen("tcp", self.Addr())
	if err != nil {
		logger.Fatalf("serve: listening on %s: %s", self.Addr(), err)
	}

	srv := overlay.New(orch, logger)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		logger.Printf("overlayd %s (%s/%s) listening on %s", self.ID, self.Role, self.Team, self.Addr())
		if err := srv.Serve(ctx, ln); err != nil {
			logger.Printf("serve: %s", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Println("overlayd: shutting down")
	cancel()
	time.Sleep(100 * time.Millisecond)
}

func loadAssignedData(topo *topology.Topology, self *model.Process, datasetRoot string) (datasource.Datasource, error) {
	if datasetRoot == "" {
		return datasource.LoadLocal(datasetRoot, nil)
	}
	if !self.DateBounds.Empty() {
		dates, err := allDates(datasetRoot)
		if err != nil {
			return nil, err
		}
		var want []string
		for _, d := range dates {
			if d >= self.DateBounds.Lower && d <= self.DateBounds.Upper {
				want = append(want, d)
			}
		}
		return datasource.LoadLocal(datasetRoot, want)
	}

	members := topo.TeamMembers(self.Team)
	dates, err := allDates(datasetRoot)
	if err != nil {
		return nil, err
	}
	assigned := datasource.AssignedDates(members, self.ID, dates)
	return datasource.LoadLocal(datasetRoot, assigned)
}

func allDates(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		dates = append(dates, strings.TrimSuffix(e.Name(), ".csv"))
	}
	return dates, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
