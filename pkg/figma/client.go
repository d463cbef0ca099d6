package figma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ritzau/ds-audit/pkg/logging"
)

// DefaultBaseURL is the public Figma REST endpoint.
const DefaultBaseURL = "https://api.figma.com"

// ErrFrameNotFound is returned when the API response does not contain the
// requested node.
var ErrFrameNotFound = errors.New("frame not found")

// APIError is returned for non-2xx responses from the Figma API.
type APIError struct {
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("figma api: %s", e.Status)
}

// Client fetches frames from the Figma REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *lru.Cache[FrameRef, *Node]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. A client passed to
// WithHTTPClient is copied, not modified.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithCacheSize sets how many fetched frames are kept in memory.
// A size of zero disables caching.
func WithCacheSize(size int) ClientOption {
	return func(c *Client) {
		if size <= 0 {
			c.cache = nil
			return
		}
		cache, err := lru.New[FrameRef, *Node](size)
		if err == nil {
			c.cache = cache
		}
	}
}

// NewClient creates a client authenticating with a personal access token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	c.cache, _ = lru.New[FrameRef, *Node](32)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nodesResponse struct {
	Name  string `json:"name"`
	Nodes map[string]*struct {
		Document *Node `json:"document"`
	} `json:"nodes"`
}

// FetchFrame returns the document subtree rooted at the given node.
func (c *Client) FetchFrame(ctx context.Context, ref FrameRef) (*Node, error) {
	if c.cache != nil {
		if n, ok := c.cache.Get(ref); ok {
			logging.DebugContext(ctx, "frame cache hit", "fileKey", ref.FileKey, "nodeId", ref.NodeID)
			return n, nil
		}
	}

	endpoint := fmt.Sprintf("%s/v1/files/%s/nodes?ids=%s",
		c.baseURL, url.PathEscape(ref.FileKey), url.QueryEscape(ref.NodeID))

	var body nodesResponse
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}

	entry, ok := body.Nodes[ref.NodeID]
	if !ok || entry == nil || entry.Document == nil {
		return nil, fmt.Errorf("%w: %s in file %s", ErrFrameNotFound, ref.NodeID, ref.FileKey)
	}

	if c.cache != nil {
		c.cache.Add(ref, entry.Document)
	}
	logging.InfoContext(ctx, "fetched frame", "fileKey", ref.FileKey, "nodeId", ref.NodeID, "name", entry.Document.Name)
	return entry.Document, nil
}

// ValidateToken reports whether the configured token is accepted. Only 401
// and 403 count as a rejected token; other API failures are returned.
func (c *Client) ValidateToken(ctx context.Context) (bool, error) {
	err := c.get(ctx, c.baseURL+"/v1/me", nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return false, err
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Figma-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("figma request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode figma response: %w", err)
	}
	return nil
}
