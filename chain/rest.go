package chain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/tidwall/gjson"
)

var _ Reader = (*RESTReader)(nil)

const (
	statusPath     = "/status"
	defaultTimeout = 5 * time.Second
	lastBlockPath  = "last_added_block_info"
)

// RESTReader queries a node's REST status endpoint.
type RESTReader struct {
	client  *http.Client
	baseURL func(nodeID int) string
}

type RESTOption func(*RESTReader)

func WithHTTPClient(client *http.Client) RESTOption {
	return func(r *RESTReader) {
		r.client = client
	}
}

// WithBaseURL overrides how a node's REST address is resolved.
func WithBaseURL(fn func(nodeID int) string) RESTOption {
	return func(r *RESTReader) {
		r.baseURL = fn
	}
}

func NewRESTReader(cfg network.Config, opts ...RESTOption) *RESTReader {
	r := &RESTReader{
		client: &http.Client{Timeout: defaultTimeout},
		baseURL: func(nodeID int) string {
			return fmt.Sprintf("http://127.0.0.1:%d", cfg.Ports(nodeID).REST)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RESTReader) Observe(ctx context.Context, nodeID int) (Observation, error) {
	obs := Observation{NodeID: nodeID}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL(nodeID)+statusPath, nil)
	if err != nil {
		return obs, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return obs, fmt.Errorf("couldn't query node %d status: %w", nodeID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return obs, err
	}
	if resp.StatusCode != http.StatusOK {
		return obs, fmt.Errorf("node %d status returned %s", nodeID, resp.Status)
	}
	return ParseStatus(nodeID, body)
}

// ParseStatus extracts the last finalized block from a status response.
// A missing or null block means the node has nothing finalized yet.
func ParseStatus(nodeID int, body []byte) (Observation, error) {
	obs := Observation{NodeID: nodeID}
	if !gjson.ValidBytes(body) {
		return obs, fmt.Errorf("node %d returned malformed status", nodeID)
	}
	block := gjson.GetBytes(body, lastBlockPath)
	if !block.Exists() || block.Type == gjson.Null {
		return obs, nil
	}
	hash := block.Get("hash")
	if hash.String() == "" {
		return obs, nil
	}
	obs.Era = block.Get("era_id").Uint()
	obs.Height = block.Get("height").Uint()
	obs.Hash = hash.String()
	obs.Available = true
	return obs, nil
}
