package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jaywantadh/distrodepot/internal/masterapi"
)

// masterClient is the storage agent's side of the RPC façade, grounded
// on the teacher's transfer.Client: a plain *http.Client with a fixed
// timeout, JSON in, JSON out.
type masterClient struct {
	baseURL    string
	httpClient *http.Client
}

func newMasterClient(baseURL string) *masterClient {
	return &masterClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *masterClient) postJSON(path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpResp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func (c *masterClient) getJSON(path string, resp interface{}) error {
	httpResp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func (c *masterClient) register(req masterapi.RegisterRequest) error {
	var resp masterapi.Response
	if err := c.postJSON("/v1/nodes/register", req, &resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("register rejected: %s", resp.Reason)
	}
	return nil
}

func (c *masterClient) heartbeat(req masterapi.HeartbeatRequest) (masterapi.HeartbeatResponse, error) {
	var resp masterapi.HeartbeatResponse
	if err := c.postJSON("/v1/nodes/heartbeat", req, &resp); err != nil {
		return resp, fmt.Errorf("heartbeat: %w", err)
	}
	return resp, nil
}

func (c *masterClient) getFileMetadata(fileID string) (masterapi.FileMetadataResponse, error) {
	var resp masterapi.FileMetadataResponse
	if err := c.getJSON("/v1/files/"+fileID, &resp); err != nil {
		return resp, fmt.Errorf("get_file_metadata: %w", err)
	}
	return resp, nil
}

func (c *masterClient) reportChunkStored(req masterapi.ChunkStoredRequest) error {
	var resp masterapi.Response
	if err := c.postJSON("/v1/files/chunk-stored", req, &resp); err != nil {
		return fmt.Errorf("report_chunk_stored: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("report_chunk_stored rejected: %s", resp.Reason)
	}
	return nil
}
