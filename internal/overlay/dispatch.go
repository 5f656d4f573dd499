package overlay

import (
	"encoding/json"
	"fmt"

	"github.com/aq-overlay/overlay/internal/wire"
)

func (s *Server) dispatch(msgType wire.MsgType, payload []byte) (interface{}, wire.MsgType, error) {
	switch msgType {
	case wire.MsgQueryRequest:
		var req wire.QueryRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, 0, fmt.Errorf("decoding query request: %w", err)
		}
		return s.orch.Query(req), wire.MsgQueryResponse, nil

	case wire.MsgChunkRequest:
		var req wire.ChunkRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, 0, fmt.Errorf("decoding chunk request: %w", err)
		}
		return s.orch.GetChunk(req.UID, req.ChunkIndex), wire.MsgChunkResponse, nil

	case wire.MsgMetricsRequest:
		return s.orch.Metrics(), wire.MsgMetricsResponse, nil

	case wire.MsgShutdownRequest:
		return wire.ShutdownResponse{Accepted: true}, wire.MsgShutdownResponse, nil

	default:
		return nil, 0, fmt.Errorf("unknown message type %v", msgType)
	}
}
