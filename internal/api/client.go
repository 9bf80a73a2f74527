package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"walkroom/native/internal/domain"
)

const defaultTimeout = 10 * time.Second

type iceResponse struct {
	ICEServers []domain.ICEServer `json:"iceServers"`
}

// Client talks to the walkrelay HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates an API client for the relay at base. ws(s) URLs are
// mapped to http(s) so the same value can configure the signaling client.
func NewClient(base string) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("relay url %q: unsupported scheme %q", base, u.Scheme)
	}
	return &Client{base: u, http: &http.Client{Timeout: defaultTimeout}}, nil
}

// FetchICEServers returns the ICE servers the relay hands out, so clients
// need no embedded STUN/TURN endpoints.
func (c *Client) FetchICEServers(ctx context.Context) ([]domain.ICEServer, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ice"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var iceResp iceResponse
	if err := json.Unmarshal(respBody, &iceResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return iceResp.ICEServers, nil
}
