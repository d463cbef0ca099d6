package figma

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Node types the auditor distinguishes. Any other type string is passed
// through unchanged and treated as a generic container or shape.
const (
	TypeInstance  = "INSTANCE"
	TypeComponent = "COMPONENT"
	TypeText      = "TEXT"
	TypeRectangle = "RECTANGLE"
	TypeEllipse   = "ELLIPSE"
	TypeVector    = "VECTOR"
	TypeFrame     = "FRAME"
	TypeGroup     = "GROUP"
	TypeLine      = "LINE"
)

// Node is one element of a Figma document tree as returned by the REST API.
// Only the fields read by the auditor are decoded; absent fields mean
// "no signal", never an error.
type Node struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	Type           string                     `json:"type"`
	ComponentID    string                     `json:"componentId,omitempty"`
	Children       []*Node                    `json:"children,omitempty"`
	BoundingBox    *BoundingBox               `json:"absoluteBoundingBox,omitempty"`
	TextStyleID    string                     `json:"textStyleId,omitempty"`
	FillStyleID    string                     `json:"fillStyleId,omitempty"`
	Styles         *Styles                    `json:"styles,omitempty"`
	BoundVariables map[string]json.RawMessage `json:"boundVariables,omitempty"`
	Fills          []Paint                    `json:"fills,omitempty"`
	Visible        *bool                      `json:"visible,omitempty"`
}

// BoundingBox is the absolute bounding box of a node in canvas units.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Styles holds the shared style references applied to a node.
type Styles struct {
	Text string `json:"text,omitempty"`
	Fill string `json:"fill,omitempty"`
}

// Paint is one entry of a node's fills.
type Paint struct {
	Type           string                     `json:"type,omitempty"`
	Color          *Color                     `json:"color,omitempty"`
	BoundVariables map[string]json.RawMessage `json:"boundVariables,omitempty"`
	StyleID        string                     `json:"styleId,omitempty"`
	FillStyleID    string                     `json:"fillStyleId,omitempty"`
}

// Color is an RGBA color with channels in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// IsHidden reports whether the node follows the underscore naming
// convention for hidden layers.
func (n *Node) IsHidden() bool {
	return strings.HasPrefix(n.Name, "_")
}

// HasChildren reports whether the node has at least one child.
func (n *Node) HasChildren() bool {
	return len(n.Children) > 0
}

// HasBoundVariable reports whether the named variable binding is present
// with a truthy value.
func (n *Node) HasBoundVariable(key string) bool {
	raw, ok := n.BoundVariables[key]
	return ok && Truthy(raw)
}

// Truthy reports whether a raw JSON value is present and not one of
// null, false, 0 or "".
func Truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", "0", `""`:
		return false
	}
	return true
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's subtree.
func Walk(n *Node, fn func(node *Node, depth int) bool) {
	if n == nil {
		return
	}
	type frame struct {
		node  *Node
		depth int
	}
	stack := []frame{{n, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.node, f.depth) {
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			if c := f.node.Children[i]; c != nil {
				stack = append(stack, frame{c, f.depth + 1})
			}
		}
	}
}

// ErrNoDocument is returned by ParseDocument when the input holds no node.
var ErrNoDocument = errors.New("no document node in input")

// ParseDocument decodes a node tree saved from the REST API. It accepts a
// bare node, a {"document": node} wrapper, or a nodes response holding
// exactly one node.
func ParseDocument(data []byte) (*Node, error) {
	var probe struct {
		Document *Node `json:"document"`
		Nodes    map[string]*struct {
			Document *Node `json:"document"`
		} `json:"nodes"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	switch {
	case probe.Document != nil:
		return probe.Document, nil
	case probe.Nodes != nil:
		if len(probe.Nodes) != 1 {
			return nil, fmt.Errorf("%w: nodes response holds %d nodes", ErrNoDocument, len(probe.Nodes))
		}
		for _, e := range probe.Nodes {
			if e == nil || e.Document == nil {
				return nil, ErrNoDocument
			}
			return e.Document, nil
		}
	case probe.Type == "":
		return nil, ErrNoDocument
	}
	return ParseNode(data)
}

// ParseNode decodes a single node tree from JSON.
func ParseNode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
