// Package remoteclient implements the forwarding-layer Caller that
// actually talks to a neighbor process over internal/wire: issue a
// Query, then pull every chunk of its result until remaining is
// exhausted or the neighbor says it sent the last one. Grounded on
// original_source/overlay_core/facade.py's _request_neighbor_records /
// _drain_remote_chunks, translated onto the custom wire framing in
// place of the reference implementation's gRPC stub.
package remoteclient

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/aq-overlay/overlay/internal/model"
	"github.com/aq-overlay/overlay/internal/wire"
)

// Client calls a single neighbor process.
type Client struct {
	DialTimeout time.Duration
}

// New returns a Client with a sensible default dial timeout.
func New() *Client {
	return &Client{DialTimeout: 5 * time.Second}
}

// Call implements forward.Caller: it forwards filter (with Limit set to
// remaining) to neighbor, then drains whatever chunks come back, up to
// remaining rows.
func (c *Client) Call(neighbor *model.Process, filter model.QueryFilter, hops []string, remaining int) ([]model.Row, error) {
	conn, err := net.DialTimeout("tcp", neighbor.Addr(), c.dialTimeout())
	if err != nil {
		return nil, fmt.Errorf("remoteclient: dialing %s: %w", neighbor.ID, err)
	}
	defer conn.Close()

	forwardFilter := filter.Clone()
	forwardFilter.Limit = remaining
	forwardFilter.Team = neighbor.Team

	params, err := json.Marshal(forwardFilter)
	if err != nil {
		return nil, fmt.Errorf("remoteclient: encoding forwarded filter: %w", err)
	}

	req := wire.QueryRequest{QueryParams: params, Hops: hops}
	if err := wire.WriteFrame(conn, wire.MsgQueryRequest, req); err != nil {
		return nil, fmt.Errorf("remoteclient: sending query to %s: %w", neighbor.ID, err)
	}

	msgType, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("remoteclient: reading query response from %s: %w", neighbor.ID, err)
	}
	if msgType != wire.MsgQueryResponse {
		return nil, fmt.Errorf("remoteclient: unexpected response type %v from %s", msgType, neighbor.ID)
	}
	var resp wire.QueryResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("remoteclient: decoding query response from %s: %w", neighbor.ID, err)
	}

	if resp.Status != "ready" || resp.UID == "" {
		return nil, nil
	}

	return c.drainChunks(conn, neighbor, resp.UID, resp.TotalChunks, remaining)
}

func (c *Client) drainChunks(conn net.Conn, neighbor *model.Process, uid string, totalChunks, remaining int) ([]model.Row, error) {
	var collected []model.Row
	for idx := 0; idx < totalChunks; idx++ {
		if remaining <= 0 {
			break
		}
		req := wire.ChunkRequest{UID: uid, ChunkIndex: idx}
		if err := wire.WriteFrame(conn, wire.MsgChunkRequest, req); err != nil {
			return collected, fmt.Errorf("remoteclient: requesting chunk %d from %s: %w", idx, neighbor.ID, err)
		}
		msgType, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return collected, fmt.Errorf("remoteclient: reading chunk %d response from %s: %w", idx, neighbor.ID, err)
		}
		if msgType != wire.MsgChunkResponse {
			return collected, fmt.Errorf("remoteclient: unexpected response type %v from %s", msgType, neighbor.ID)
		}
		var resp wire.ChunkResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return collected, fmt.Errorf("remoteclient: decoding chunk %d response from %s: %w", idx, neighbor.ID, err)
		}
		if resp.Status != "success" {
			break
		}
		var rows []model.Row
		if len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, &rows); err != nil {
				return collected, fmt.Errorf("remoteclient: decoding chunk %d rows from %s: %w", idx, neighbor.ID, err)
			}
		}
		for _, row := range rows {
			if remaining <= 0 {
				break
			}
			collected = append(collected, row)
			remaining--
		}
		if resp.IsLast {
			break
		}
	}
	return collected, nil
}

func (c *Client) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return 5 * time.Second
	}
	return c.DialTimeout
}
