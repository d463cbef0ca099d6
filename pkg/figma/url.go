package figma

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a frame URL cannot be resolved to a file
// key and node id.
var ErrInvalidURL = errors.New("invalid figma frame url")

// FrameRef identifies a frame inside a Figma file.
type FrameRef struct {
	FileKey string `json:"fileKey"`
	NodeID  string `json:"nodeId"`
}

// ParseURL extracts the file key and node id from a Figma frame link such
// as https://www.figma.com/design/<key>/<title>?node-id=8287-54836.
// The node id is returned in the colon form used by the REST API.
func ParseURL(raw string) (FrameRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return FrameRef{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host != "" && !strings.HasSuffix(u.Hostname(), "figma.com") {
		return FrameRef{}, fmt.Errorf("%w: unexpected host %q", ErrInvalidURL, u.Host)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return FrameRef{}, fmt.Errorf("%w: missing file key", ErrInvalidURL)
	}
	switch parts[0] {
	case "design", "file", "proto", "board":
	default:
		return FrameRef{}, fmt.Errorf("%w: unsupported path %q", ErrInvalidURL, u.Path)
	}

	nodeID := u.Query().Get("node-id")
	if nodeID == "" {
		return FrameRef{}, fmt.Errorf("%w: missing node-id parameter", ErrInvalidURL)
	}

	return FrameRef{
		FileKey: parts[1],
		NodeID:  strings.ReplaceAll(nodeID, "-", ":"),
	}, nil
}
