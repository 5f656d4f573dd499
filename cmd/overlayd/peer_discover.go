package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"time"
)

// maxWaitForPeers bounds how long peer-discover retries DNS lookups
// against a not-yet-ready headless service before giving up.
const maxWaitForPeers = 10 * time.Second

type peerAddr struct {
	Addr string `json:"addr"`
}

type peerList struct {
	Peers []peerAddr `json:"peers"`
}

// runPeerDiscover resolves every address behind a Kubernetes headless
// service and prints them as JSON, so an operator can paste candidate
// neighbor addresses into a topology file without hand-resolving pod
// IPs. It does not itself write a topology file: role, team, and
// neighbor-graph shape are deployment decisions this tool cannot infer
// from DNS alone.
func runPeerDiscover(args []string) {
	cmd := flag.NewFlagSet("peer-discover", flag.ExitOnError)
	service := cmd.String("service", "", "headless service name to resolve")
	port := cmd.Int("port", 9000, "port every peer listens on")
	if err := cmd.Parse(args); err != nil {
		os.Exit(1)
	}
	if *service == "" {
		fmt.Fprintln(os.Stderr, "peer-discover: -service is required")
		os.Exit(1)
	}

	start := time.Now()
	var ips []net.IP
	for {
		var err error
		ips, err = net.LookupIP(*service)
		if err == nil {
			break
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound && time.Since(start) < maxWaitForPeers {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		fmt.Fprintf(os.Stderr, "peer-discover: resolving %q: %s\n", *service, err)
		os.Exit(1)
	}

	endpoints := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		endpoints = append(endpoints, &net.TCPAddr{IP: ip, Port: *port})
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return bytes.Compare(endpoints[i].IP, endpoints[j].IP) < 0
	})

	var out peerList
	for _, ep := range endpoints {
		out.Peers = append(out.Peers, peerAddr{Addr: ep.String()})
	}
	if err := json.NewEncoder(os.Stdout).Encode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "peer-discover: encoding output: %s\n", err)
		os.Exit(1)
	}
}
