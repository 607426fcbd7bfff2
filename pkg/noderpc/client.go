package noderpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/pindex/pkg/types"
)

// Client talks to the storage node's RPC surface. Only two operations are
// used: listing the recursive pin set and listing directory children.
type Client struct {
	base       string
	httpClient *http.Client
	retries    int
}

// NewClient creates a node RPC client for base, e.g. "http://127.0.0.1:5001".
func NewClient(base string, timeout time.Duration, retries int) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
	}
}

type pinsResponse struct {
	Keys map[string]json.RawMessage `json:"keys"`
}

// ListPins returns the set of recursive pin roots.
func (c *Client) ListPins(ctx context.Context) (map[string]struct{}, error) {
	body, err := c.post(ctx, c.base+"/pins")
	if err != nil {
		return nil, fmt.Errorf("failed to list pins: %w", err)
	}

	var decoded pinsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode pins response: %w", err)
	}

	pins := make(map[string]struct{}, len(decoded.Keys))
	for cid := range decoded.Keys {
		pins[cid] = struct{}{}
	}
	return pins, nil
}

type lsLink struct {
	Hash string `json:"Hash"`
	Cid  string `json:"Cid"`
	Name string `json:"Name"`
	Size int64  `json:"Size"`
	Type int    `json:"Type"`
}

type lsObject struct {
	Links []lsLink `json:"Links"`
}

type lsResponse struct {
	Objects []lsObject `json:"Objects"`
}

// ListDirectory lists the children of a directory CID.
func (c *Client) ListDirectory(ctx context.Context, cid string) ([]types.DirEntry, error) {
	body, err := c.post(ctx, c.base+"/ls?arg="+url.QueryEscape(cid))
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", cid, err)
	}

	var decoded lsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode ls response for %s: %w", cid, err)
	}

	var entries []types.DirEntry
	for _, obj := range decoded.Objects {
		for _, link := range obj.Links {
			child := link.Hash
			if child == "" {
				child = link.Cid
			}
			if child == "" {
				continue
			}
			entries = append(entries, types.DirEntry{
				CID:  child,
				Name: link.Name,
				Size: link.Size,
				Type: link.Type,
			})
		}
	}
	return entries, nil
}

func (c *Client) post(ctx context.Context, url string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("node returned %d for %s", resp.StatusCode, url)
		}
		if resp.StatusCode != http.StatusOK {
			// The node puts the reason ("not a directory", ...) in the body;
			// carry a snippet so callers can tell listing errors apart.
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return nil, backoff.Permanent(fmt.Errorf("node returned %d for %s: %s",
				resp.StatusCode, url, strings.TrimSpace(string(snippet))))
		}

		// Cap RPC responses at 32 MiB to bound memory on pathological
		// listings.
		const maxRPCBody = 32 << 20
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCBody))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), ctx)
	return backoff.RetryWithData(operation, policy)
}
