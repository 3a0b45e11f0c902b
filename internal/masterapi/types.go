package masterapi

import "github.com/jaywantadh/distrodepot/internal/model"

// Response is the JSON envelope every write RPC returns, matching the
// teacher's {ok, message}-shaped transfer responses generalized to the
// {ok, reason} contract this spec's dispatcher uses.
type Response struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// RegisterRequest mirrors the NodeDescriptor fields a storage agent
// reports at registration.
type RegisterRequest struct {
	NodeID       string  `json:"node_id"`
	Host         string  `json:"host"`
	Port         int     `json:"grpc_port"`
	CapacityByte int64   `json:"capacity_bytes"`
	FreeBytes    int64   `json:"free_bytes"`
	MAC          string  `json:"mac"`
	LoadFactor   float64 `json:"load_factor"`
}

// HeartbeatRequest is the periodic node->Master liveness ping.
type HeartbeatRequest struct {
	NodeID     string  `json:"node_id"`
	FreeBytes  int64   `json:"free_bytes"`
	LoadFactor float64 `json:"load_factor"`
}

// HeartbeatResponse carries the instructions drained for the caller.
type HeartbeatResponse struct {
	OK         bool                `json:"ok"`
	Reason     string              `json:"reason,omitempty"`
	Rebalances []model.Instruction `json:"rebalances"`
}

// PlanRequest asks the Master to plan chunk placement for an upload.
type PlanRequest struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	ChunkSize int64  `json:"chunk_size"`
}

// PlanResponse is the hydrated upload plan.
type PlanResponse struct {
	OK                bool                      `json:"ok"`
	Reason            string                    `json:"reason,omitempty"`
	FileID            string                    `json:"file_id"`
	ChunkSize         int64                     `json:"chunk_size"`
	ReplicationFactor int                       `json:"replication_factor"`
	Placements        []model.HydratedPlacement `json:"placements"`
}

// ChunkStoredRequest reports a successfully replicated chunk.
type ChunkStoredRequest struct {
	FileID     string `json:"file_id"`
	ChunkID    string `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	NodeID     string `json:"node_id"`
}

// FileMetadataResponse is the hydrated FileRecord returned to callers.
type FileMetadataResponse struct {
	OK         bool                      `json:"ok"`
	Reason     string                    `json:"reason,omitempty"`
	FileID     string                    `json:"file_id"`
	FileName   string                    `json:"file_name"`
	FileSize   int64                     `json:"file_size"`
	ChunkSize  int64                     `json:"chunk_size"`
	Placements []model.HydratedPlacement `json:"placements"`
}
