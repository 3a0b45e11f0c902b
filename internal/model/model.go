// Package model holds the value types shared by the Master's store,
// planner, and RPC façade, and by the storage agent.
package model

import "time"

// NodeState is everything the Master knows about one storage node.
type NodeState struct {
	NodeID       string    `json:"node_id"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	CapacityByte int64     `json:"capacity_bytes"`
	FreeBytes    int64     `json:"free_bytes"`
	LoadFactor   float64   `json:"load_factor"`
	MAC          string    `json:"mac"`
	LastSeen     time.Time `json:"last_seen"`
	Healthy      bool      `json:"healthy"`
}

// Clone returns a deep copy so callers outside the store can never
// mutate live state through a returned pointer.
func (n *NodeState) Clone() *NodeState {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

// ChunkPlacement is the identity and current replica set of one chunk.
type ChunkPlacement struct {
	ChunkID    string   `json:"chunk_id"`
	ChunkIndex int      `json:"chunk_index"`
	Replicas   []string `json:"replicas"`
}

// Clone deep-copies the placement, including the replica slice.
func (p *ChunkPlacement) Clone() *ChunkPlacement {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Replicas = append([]string(nil), p.Replicas...)
	return &cp
}

// HasReplica reports whether nodeID already appears in the replica set.
func (p *ChunkPlacement) HasReplica(nodeID string) bool {
	for _, id := range p.Replicas {
		if id == nodeID {
			return true
		}
	}
	return false
}

// FileRecord is metadata for one immutable blob.
type FileRecord struct {
	FileID     string            `json:"file_id"`
	FileName   string            `json:"file_name"`
	FileSize   int64             `json:"file_size"`
	ChunkSize  int64             `json:"chunk_size"`
	Placements []*ChunkPlacement `json:"placements"`
}

// Clone deep-copies the record and every placement it holds.
func (f *FileRecord) Clone() *FileRecord {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Placements = make([]*ChunkPlacement, len(f.Placements))
	for i, p := range f.Placements {
		cp.Placements[i] = p.Clone()
	}
	return &cp
}

// PlacementByChunkID finds a placement by chunk id, or nil.
func (f *FileRecord) PlacementByChunkID(chunkID string) *ChunkPlacement {
	for _, p := range f.Placements {
		if p.ChunkID == chunkID {
			return p
		}
	}
	return nil
}

// Instruction is a pending rebalance move: pull chunk id from source
// onto target.
type Instruction struct {
	ChunkID string `json:"chunk_id"`
	FileID  string `json:"file_id"`
	Source  string `json:"source_node_id"`
	Target  string `json:"target_node_id"`
}

// NodeDescriptor is the wire-level, hydrated view of a node handed back
// to callers inside a ChunkPlacement or FileMetadata response.
type NodeDescriptor struct {
	NodeID       string    `json:"node_id"`
	Host         string    `json:"host"`
	Port         int       `json:"grpc_port"`
	CapacityByte int64     `json:"capacity_bytes"`
	FreeBytes    int64     `json:"free_bytes"`
	MAC          string    `json:"mac"`
	Healthy      bool      `json:"healthy"`
	LastSeen     time.Time `json:"last_seen"`
	LoadFactor   float64   `json:"load_factor"`
}

// Descriptor converts a NodeState into its wire descriptor.
func (n *NodeState) Descriptor() NodeDescriptor {
	return NodeDescriptor{
		NodeID:       n.NodeID,
		Host:         n.Host,
		Port:         n.Port,
		CapacityByte: n.CapacityByte,
		FreeBytes:    n.FreeBytes,
		MAC:          n.MAC,
		Healthy:      n.Healthy,
		LastSeen:     n.LastSeen,
		LoadFactor:   n.LoadFactor,
	}
}

// HydratedPlacement is a ChunkPlacement with each replica id resolved to
// its current NodeDescriptor (for unknown ids, a descriptor carrying
// only the node id).
type HydratedPlacement struct {
	ChunkID    string           `json:"chunk_id"`
	ChunkIndex int              `json:"chunk_index"`
	Replicas   []NodeDescriptor `json:"replicas"`
}
