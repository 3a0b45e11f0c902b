package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/distrodepot/internal/masterapi"
	"github.com/jaywantadh/distrodepot/internal/model"
	"github.com/jaywantadh/distrodepot/internal/storage"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeMaster is a minimal stand-in for the Master's RPC surface,
// recording registrations and serving a single fixed heartbeat
// response and file-metadata record.
type fakeMaster struct {
	srv *httptest.Server

	registered   []masterapi.RegisterRequest
	heartbeats   []masterapi.HeartbeatRequest
	chunkStored  []masterapi.ChunkStoredRequest
	nextRebalances []model.Instruction
	fileMeta     masterapi.FileMetadataResponse
}

func newFakeMaster() *fakeMaster {
	fm := &fakeMaster{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/nodes/register", func(w http.ResponseWriter, r *http.Request) {
		var req masterapi.RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fm.registered = append(fm.registered, req)
		_ = json.NewEncoder(w).Encode(masterapi.Response{OK: true})
	})
	mux.HandleFunc("/v1/nodes/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req masterapi.HeartbeatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fm.heartbeats = append(fm.heartbeats, req)
		_ = json.NewEncoder(w).Encode(masterapi.HeartbeatResponse{OK: true, Rebalances: fm.nextRebalances})
	})
	mux.HandleFunc("/v1/files/chunk-stored", func(w http.ResponseWriter, r *http.Request) {
		var req masterapi.ChunkStoredRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fm.chunkStored = append(fm.chunkStored, req)
		_ = json.NewEncoder(w).Encode(masterapi.Response{OK: true})
	})
	mux.HandleFunc("/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fm.fileMeta)
	})
	fm.srv = httptest.NewServer(mux)
	return fm
}

func (fm *fakeMaster) Close() { fm.srv.Close() }

func mustHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestAgent_Register(t *testing.T) {
	fm := newFakeMaster()
	defer fm.Close()

	dataDir := t.TempDir()
	store, err := storage.NewLocalStorage(dataDir)
	require.NoError(t, err)

	a := New(Config{
		NodeID:        "node-1",
		PublicHost:    "127.0.0.1",
		Port:          9001,
		DataDir:       dataDir,
		MasterBaseURL: fm.srv.URL,
	}, store, testLog())

	require.NoError(t, a.Register(context.Background()))
	require.Len(t, fm.registered, 1)
	require.Equal(t, "node-1", fm.registered[0].NodeID)
	require.Equal(t, "127.0.0.1", fm.registered[0].Host)
}

func TestAgent_ReplicatesChunkFromSourcePeer(t *testing.T) {
	// sourceAgent already holds the chunk bytes and serves them over its
	// chunk server.
	sourceDir := t.TempDir()
	sourceStore, err := storage.NewLocalStorage(sourceDir)
	require.NoError(t, err)
	require.NoError(t, sourceStore.Put("chunk-1", strings.NewReader("hello world")))

	sourceAgent := New(Config{NodeID: "node-src", DataDir: sourceDir}, sourceStore, testLog())
	sourceSrv := httptest.NewServer(sourceAgent.ChunkServerMux())
	defer sourceSrv.Close()
	sourceHost, sourcePort := mustHostPort(t, sourceSrv.URL)

	fm := newFakeMaster()
	defer fm.Close()
	fm.fileMeta = masterapi.FileMetadataResponse{
		OK:       true,
		FileID:   "file-1",
		FileName: "blob.bin",
		FileSize: 11,
		Placements: []model.HydratedPlacement{
			{
				ChunkID:    "chunk-1",
				ChunkIndex: 0,
				Replicas: []model.NodeDescriptor{
					{NodeID: "node-src", Host: sourceHost, Port: sourcePort},
				},
			},
		},
	}
	fm.nextRebalances = []model.Instruction{
		{ChunkID: "chunk-1", FileID: "file-1", Source: "node-src", Target: "node-dst"},
	}

	dstDir := t.TempDir()
	dstStore, err := storage.NewLocalStorage(dstDir)
	require.NoError(t, err)

	dst := New(Config{
		NodeID:            "node-dst",
		PublicHost:        "127.0.0.1",
		Port:              9002,
		DataDir:           dstDir,
		MasterBaseURL:     fm.srv.URL,
		HeartbeatInterval: time.Hour,
	}, dstStore, testLog())

	dst.heartbeatOnce(context.Background())

	require.Eventually(t, func() bool {
		rc, err := dstStore.Get("chunk-1")
		if err != nil {
			return false
		}
		defer rc.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(fm.chunkStored) == 1
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, "chunk-1", fm.chunkStored[0].ChunkID)
	require.Equal(t, "node-dst", fm.chunkStored[0].NodeID)
}

func TestAgent_ReplicationHonorsDesignatedSourceNotFirstReplica(t *testing.T) {
	// Two candidate replicas hold chunk-1 under the same id but with
	// different bytes. The scheduler designated the *second* one
	// ("node-src") as source; the agent must fetch from it specifically,
	// not from whichever replica happens to be listed first.
	wrongDir := t.TempDir()
	wrongStore, err := storage.NewLocalStorage(wrongDir)
	require.NoError(t, err)
	require.NoError(t, wrongStore.Put("chunk-1", strings.NewReader("not the designated source")))
	wrongAgent := New(Config{NodeID: "node-wrong", DataDir: wrongDir}, wrongStore, testLog())
	wrongSrv := httptest.NewServer(wrongAgent.ChunkServerMux())
	defer wrongSrv.Close()
	wrongHost, wrongPort := mustHostPort(t, wrongSrv.URL)

	rightDir := t.TempDir()
	rightStore, err := storage.NewLocalStorage(rightDir)
	require.NoError(t, err)
	require.NoError(t, rightStore.Put("chunk-1", strings.NewReader("hello world")))
	rightAgent := New(Config{NodeID: "node-src", DataDir: rightDir}, rightStore, testLog())
	rightSrv := httptest.NewServer(rightAgent.ChunkServerMux())
	defer rightSrv.Close()
	rightHost, rightPort := mustHostPort(t, rightSrv.URL)

	fm := newFakeMaster()
	defer fm.Close()
	fm.fileMeta = masterapi.FileMetadataResponse{
		OK:       true,
		FileID:   "file-1",
		FileName: "blob.bin",
		FileSize: 11,
		Placements: []model.HydratedPlacement{
			{
				ChunkID:    "chunk-1",
				ChunkIndex: 0,
				Replicas: []model.NodeDescriptor{
					{NodeID: "node-wrong", Host: wrongHost, Port: wrongPort},
					{NodeID: "node-src", Host: rightHost, Port: rightPort},
				},
			},
		},
	}
	fm.nextRebalances = []model.Instruction{
		{ChunkID: "chunk-1", FileID: "file-1", Source: "node-src", Target: "node-dst"},
	}

	dstDir := t.TempDir()
	dstStore, err := storage.NewLocalStorage(dstDir)
	require.NoError(t, err)

	dst := New(Config{
		NodeID:            "node-dst",
		PublicHost:        "127.0.0.1",
		Port:              9003,
		DataDir:           dstDir,
		MasterBaseURL:     fm.srv.URL,
		HeartbeatInterval: time.Hour,
	}, dstStore, testLog())

	dst.heartbeatOnce(context.Background())

	require.Eventually(t, func() bool {
		rc, err := dstStore.Get("chunk-1")
		if err != nil {
			return false
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		return err == nil && string(got) == "hello world"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAgent_HeartbeatIgnoresInstructionsForOtherTargets(t *testing.T) {
	fm := newFakeMaster()
	defer fm.Close()
	fm.nextRebalances = []model.Instruction{
		{ChunkID: "chunk-1", FileID: "file-1", Source: "node-src", Target: "node-other"},
	}

	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	a := New(Config{NodeID: "node-dst", DataDir: dir, MasterBaseURL: fm.srv.URL}, store, testLog())
	a.heartbeatOnce(context.Background())

	time.Sleep(50 * time.Millisecond)
	_, err = store.Get("chunk-1")
	require.Error(t, err)
}

func TestAgent_RunStopsOnContextCancel(t *testing.T) {
	fm := newFakeMaster()
	defer fm.Close()

	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	a := New(Config{
		NodeID:            "node-1",
		DataDir:           dir,
		MasterBaseURL:     fm.srv.URL,
		HeartbeatInterval: 10 * time.Millisecond,
	}, store, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	require.NotEmpty(t, fm.heartbeats)
}
