package agent

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/storage"
)

// chunkServer exposes the bytes this node already holds to the rest of
// the fleet. This is the storage-agent-to-storage-agent transfer
// surface the replication job uses to pull a chunk from a source peer;
// the on-disk chunk layout it reads from remains out of scope, it only
// ever reads whatever storage.Storage hands back by id.
type chunkServer struct {
	store storage.Storage
	log   *logrus.Entry
}

func newChunkServer(store storage.Storage, log *logrus.Entry) *chunkServer {
	return &chunkServer{store: store, log: log.WithField("component", "agent.chunkserver")}
}

func (cs *chunkServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/chunks/", cs.handleGetChunk)
}

func (cs *chunkServer) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/chunks/")
	if id == "" {
		http.Error(w, "chunk id is required", http.StatusBadRequest)
		return
	}

	rc, err := cs.store.Get(id)
	if err != nil {
		cs.log.WithField("chunk_id", id).WithError(err).Warn("chunk fetch requested but not found")
		http.Error(w, "chunk not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		cs.log.WithField("chunk_id", id).WithError(err).Warn("chunk fetch write failed")
	}
}

// fetchChunk pulls a chunk's bytes from a peer's chunk server.
func fetchChunk(httpClient *http.Client, host string, port int, chunkID string) (io.ReadCloser, error) {
	url := fmt.Sprintf("http://%s:%d/v1/chunks/%s", host, port, chunkID)
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %s from %s:%d: %w", chunkID, host, port, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch chunk %s from %s:%d: status %s", chunkID, host, port, resp.Status)
	}
	return resp.Body, nil
}
