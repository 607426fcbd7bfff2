package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client fetches content-addressed objects from the co-located HTTP gateway.
// Requests carry a per-request timeout, bounded retries with jittered
// exponential backoff, and caller-capped body reads.
type Client struct {
	base       string
	httpClient *http.Client
	retries    int
}

// NewClient creates a gateway client. base is the gateway root, e.g.
// "http://127.0.0.1:8080". retries is the number of retry attempts after the
// first try; only transport errors and 5xx responses are retried.
func NewClient(base string, timeout time.Duration, retries int) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
	}
}

// Response wraps one gateway response with the structural flags the
// detector needs.
type Response struct {
	Status          int
	ContentType     string
	HasContentRange bool
	// TotalLength is the object's full size: the Content-Range total when
	// present, else Content-Length. -1 when unknown.
	TotalLength int64

	body io.ReadCloser
}

// ReadBodyLimited reads at most n bytes of the body, truncating the stream
// at the cap, and closes it.
func (r *Response) ReadBodyLimited(n int64) ([]byte, error) {
	if r.body == nil {
		return nil, nil
	}
	defer r.body.Close()

	data, err := io.ReadAll(io.LimitReader(r.body, n))
	if err != nil {
		return data, fmt.Errorf("failed to read body: %w", err)
	}
	// Drain is intentionally skipped: truncated bodies are abandoned.
	return data, nil
}

// Close releases the body without reading it.
func (r *Response) Close() {
	if r.body != nil {
		r.body.Close()
	}
}

// ContentURL returns the gateway URL for a CID.
func (c *Client) ContentURL(cid string) string {
	return c.base + "/content/" + cid
}

// Head probes a CID without transferring the body.
func (c *Client) Head(ctx context.Context, cid string) (*Response, error) {
	resp, err := c.fetch(ctx, http.MethodHead, c.ContentURL(cid), nil)
	if err != nil {
		return nil, err
	}
	resp.Close()
	return resp, nil
}

// FetchRange requests bytes [from, to] of a CID. The gateway may ignore the
// range and answer 200 with the full body; callers must check
// HasContentRange and fall back to a capped read.
func (c *Client) FetchRange(ctx context.Context, cid string, from, to int64) (*Response, error) {
	headers := map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", from, to),
	}
	return c.fetch(ctx, http.MethodGet, c.ContentURL(cid), headers)
}

// Fetch performs a plain GET with no range header.
func (c *Client) Fetch(ctx context.Context, cid string) (*Response, error) {
	return c.fetch(ctx, http.MethodGet, c.ContentURL(cid), nil)
}

func (c *Client) fetch(ctx context.Context, method, url string, headers map[string]string) (*Response, error) {
	operation := func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport errors (timeouts, resets) are transient.
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("gateway returned %d for %s", resp.StatusCode, url)
		}
		return wrapResponse(resp), nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), ctx)
	return backoff.RetryWithData(operation, policy)
}

func wrapResponse(resp *http.Response) *Response {
	r := &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		TotalLength: -1,
		body:        resp.Body,
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		r.HasContentRange = true
		r.TotalLength = parseContentRangeTotal(cr)
	} else if resp.ContentLength >= 0 {
		r.TotalLength = resp.ContentLength
	}
	return r
}

// parseContentRangeTotal extracts the total from "bytes a-b/total".
// Returns -1 for unknown or unparseable totals ("bytes a-b/*").
func parseContentRangeTotal(cr string) int64 {
	idx := strings.LastIndexByte(cr, '/')
	if idx < 0 || idx == len(cr)-1 {
		return -1
	}
	total, err := strconv.ParseInt(cr[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}
