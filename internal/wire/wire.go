// Package wire implements the overlay's node-to-node request framing: a
// small length-prefixed, optionally-compressed message format carried
// over a plain TCP connection. The RPC surface itself (Query, GetChunk,
// GetMetrics, Shutdown) is intentionally minimal — the framing style
// (fixed magic-numbered header, binary.LittleEndian fields, length
// prefix) is grounded on the teacher's tenant/tnproto package, adapted
// here to frame JSON payloads instead of an ion-encoded query plan.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// headerMagic marks the start of every frame. It is written
// little-endian, so the first byte on the wire is its low byte (0x02),
// which keeps a frame from being mistaken for a plain JSON document
// (which would start with '{' or '[').
const headerMagic uint32 = 0xf0a71c02

const headerSize = 4 + 4 + 1 + 4 // magic + msgType + flags + length

const flagCompressed = 1 << 0

// MsgType identifies which request or response a frame carries.
type MsgType uint32

const (
	MsgQueryRequest MsgType = iota + 1
	MsgQueryResponse
	MsgChunkRequest
	MsgChunkResponse
	MsgMetricsRequest
	MsgMetricsResponse
	MsgShutdownRequest
	MsgShutdownResponse
)

// compressThreshold is the payload size at or above which WriteFrame
// deflates the body (keeping the result only if it is smaller); below it
// the overhead of compression outweighs the saving.
const compressThreshold = 512

// QueryRequest asks a node to run a filter query, forwarding onward as
// its role and the accumulated hops list allow.
type QueryRequest struct {
	QueryParams json.RawMessage `json:"query_params"`
	Hops        []string        `json:"hops"`
	ClientID    string          `json:"client_id,omitempty"`
}

// QueryResponse reports where the (possibly aggregated) result of a
// QueryRequest can be fetched from, or why it could not be produced.
type QueryResponse struct {
	UID          string   `json:"uid"`
	TotalChunks  int      `json:"total_chunks"`
	TotalRecords int      `json:"total_records"`
	Hops         []string `json:"hops"`
	Status       string   `json:"status"`
}

// ChunkRequest asks for one page of a previously produced result.
type ChunkRequest struct {
	UID        string `json:"uid"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkResponse carries one page of rows, JSON-encoded verbatim as Data
// so the framing layer never needs to know the row schema.
type ChunkResponse struct {
	UID         string          `json:"uid"`
	ChunkIndex  int             `json:"chunk_index"`
	TotalChunks int             `json:"total_chunks"`
	Data        json.RawMessage `json:"data"`
	IsLast      bool            `json:"is_last"`
	Status      string          `json:"status"`
}

// MetricsRequest carries no fields; it exists so the dispatcher has a
// symmetric request/response pair for every RPC.
type MetricsRequest struct{}

// MetricsResponse reports a node's current health, load, and active
// strategy selection. RecentLogs is the tail of the process's bounded
// in-memory log ring, exposed so a remote caller can see recent activity
// without a structured logging sink.
type MetricsResponse struct {
	ProcessID           string   `json:"process_id"`
	Role                string   `json:"role"`
	Team                string   `json:"team"`
	ActiveRequests      int      `json:"active_requests"`
	MaxCapacity         int      `json:"max_capacity"`
	IsHealthy           bool     `json:"is_healthy"`
	QueueSize           int      `json:"queue_size"`
	AvgProcessingTimeMs float64  `json:"avg_processing_time_ms"`
	DataFilesLoaded     int      `json:"data_files_loaded"`
	ForwardingStrategy  string   `json:"forwarding_strategy"`
	AsyncForwarding     bool     `json:"async_forwarding"`
	ChunkingStrategy    string   `json:"chunking_strategy"`
	FairnessStrategy    string   `json:"fairness_strategy"`
	RecentLogs          []string `json:"recent_logs"`
}

// ShutdownRequest asks a node to stop. The server acknowledges it and
// closes the requesting connection; the process itself keeps running.
type ShutdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ShutdownResponse acknowledges a ShutdownRequest.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
}

// WriteFrame encodes body as JSON, optionally deflating it, and writes
// a framed message of the given type to w.
func WriteFrame(w io.Writer, msgType MsgType, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("wire: marshaling %v payload: %w", msgType, err)
	}

	var flags uint8
	if len(payload) >= compressThreshold {
		compressed, err := deflate(payload)
		if err == nil && len(compressed) < len(payload) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], headerMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(msgType))
	header[8] = flags
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one framed message from r and returns its type and
// decompressed JSON payload.
func ReadFrame(r io.Reader) (MsgType, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != headerMagic {
		return 0, nil, fmt.Errorf("wire: bad frame magic %x", magic)
	}
	msgType := MsgType(binary.LittleEndian.Uint32(header[4:8]))
	flags := header[8]
	length := binary.LittleEndian.Uint32(header[9:13])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("wire: reading frame payload: %w", err)
	}

	if flags&flagCompressed != 0 {
		inflated, err := inflate(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("wire: inflating frame payload: %w", err)
		}
		payload = inflated
	}
	return msgType, payload, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}
