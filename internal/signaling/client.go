package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const engineCallTimeout = 2 * time.Second

// EngineClient talks to the media engine's local HTTP control API (spec 6's
// "External media-engine HTTP surface"), grounded on the teacher's
// internal/github.HTTPClient get/put/doRequest shape.
type EngineClient struct {
	baseURL    string
	streamURL  string
	httpClient *http.Client
}

// NewEngineClient builds a client bound to the engine's listening port. The
// streamURL is the capture source (e.g. "screen://0") passed to createOffer.
func NewEngineClient(port int, streamURL string) *EngineClient {
	return &EngineClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		streamURL:  streamURL,
		httpClient: &http.Client{Timeout: engineCallTimeout},
	}
}

// CreateOffer requests a fresh SDP offer for a new viewer via
// GET /api/createOffer?peerid=...&url=....
func (c *EngineClient) CreateOffer(ctx context.Context, viewerID string) (protocol.SDPDescription, error) {
	var offer protocol.SDPDescription
	path := fmt.Sprintf("/api/createOffer?peerid=%s&url=%s", url.QueryEscape(viewerID), url.QueryEscape(c.streamURL))
	err := c.get(ctx, path, &offer)
	return offer, err
}

// SetAnswer forwards a viewer's SDP answer via POST /api/setAnswer?peerid=....
func (c *EngineClient) SetAnswer(ctx context.Context, viewerID string, answer protocol.SDPDescription) error {
	path := fmt.Sprintf("/api/setAnswer?peerid=%s", url.QueryEscape(viewerID))
	return c.post(ctx, path, answer, nil)
}

// GetICECandidates fetches newly gathered local candidates via
// GET /api/getIceCandidate?peerid=....
func (c *EngineClient) GetICECandidates(ctx context.Context, viewerID string) ([]protocol.ICECandidate, error) {
	var candidates []protocol.ICECandidate
	path := fmt.Sprintf("/api/getIceCandidate?peerid=%s", url.QueryEscape(viewerID))
	err := c.get(ctx, path, &candidates)
	return candidates, err
}

// AddICECandidate forwards a remote candidate via
// POST /api/addIceCandidate?peerid=....
func (c *EngineClient) AddICECandidate(ctx context.Context, viewerID string, candidate protocol.ICECandidate) error {
	path := fmt.Sprintf("/api/addIceCandidate?peerid=%s", url.QueryEscape(viewerID))
	return c.post(ctx, path, candidate, nil)
}

// Hangup tears down the engine's side of a viewer connection via
// POST /api/hangup?peerid=....
func (c *EngineClient) Hangup(ctx context.Context, viewerID string) error {
	path := fmt.Sprintf("/api/hangup?peerid=%s", url.QueryEscape(viewerID))
	return c.post(ctx, path, nil, nil)
}

func (c *EngineClient) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

func (c *EngineClient) post(ctx context.Context, path string, body any, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("signaling: marshal request to %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, result)
}

func (c *EngineClient) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signaling: request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("signaling: read response from %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("signaling: engine %s returned status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("signaling: parse response from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}

// probeHTTP reports whether a GET to url succeeds with a 2xx status.
func probeHTTP(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := http.Client{Timeout: 1 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
