package analyzer

import "github.com/ritzau/ds-audit/pkg/figma"

const (
	maxSuggestions    = 10
	suggestionMinSize = 10
)

// Suggestion is a shape the user may want to report as a missed component.
type Suggestion struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	NodeID string  `json:"nodeId"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SuggestMissedComponents lists visible shapes outside instances that are
// large enough to be UI elements. Names are unique; at most ten are
// returned, in document order.
func SuggestMissedComponents(root *figma.Node) []Suggestion {
	out := []Suggestion{}
	seen := make(map[string]bool)

	figma.Walk(root, func(n *figma.Node, depth int) bool {
		if len(out) >= maxSuggestions {
			return false
		}
		b := n.BoundingBox
		if depth > 0 && !n.IsHidden() && isShape(n.Type) && b != nil &&
			b.Width > suggestionMinSize && b.Height > suggestionMinSize && !seen[n.Name] {
			seen[n.Name] = true
			out = append(out, Suggestion{
				Name:   n.Name,
				Type:   n.Type,
				NodeID: n.ID,
				Width:  b.Width,
				Height: b.Height,
			})
		}
		return n.Type != figma.TypeInstance
	})
	return out
}
