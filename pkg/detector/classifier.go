package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/pindex/pkg/types"
)

// classifierClient posts samples to the optional external classifier.
type classifierClient struct {
	url        string
	httpClient *http.Client
}

func newClassifierClient(url string) *classifierClient {
	return &classifierClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type classifierRequest struct {
	Size       int64  `json:"size"`
	HeadBase64 string `json:"head_base64"`
	TailBase64 string `json:"tail_base64"`
}

type classifierResponse struct {
	Mime       string   `json:"mime"`
	Ext        string   `json:"ext,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// classify submits head+tail and returns the classifier's candidate, or nil
// when the classifier has no opinion.
func (c *classifierClient) classify(ctx context.Context, size int64, head, tail []byte) (*candidate, error) {
	payload, err := json.Marshal(classifierRequest{
		Size:       size,
		HeadBase64: base64.StdEncoding.EncodeToString(head),
		TailBase64: base64.StdEncoding.EncodeToString(tail),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier response: %w", err)
	}

	var decoded classifierResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	if decoded.Mime == "" {
		return nil, nil
	}

	conf := 0.5
	if decoded.Confidence != nil {
		conf = *decoded.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
	}

	kind := types.Kind(decoded.Kind)
	if kind == "" {
		kind = KindForMime(decoded.Mime)
	}

	return &candidate{
		mime:       decoded.Mime,
		ext:        decoded.Ext,
		kind:       kind,
		confidence: conf,
		source:     types.SourceClassifier,
	}, nil
}
