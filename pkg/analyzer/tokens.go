package analyzer

import (
	"strings"

	"github.com/ritzau/ds-audit/pkg/figma"
)

var (
	typographyVariables = []string{"fontFamily", "fontSize", "fontWeight", "lineHeight", "letterSpacing"}
	colorVariables      = []string{"fills", "strokes", "textRangeFills"}
)

// UsesDesignSystemTokens reports whether a text node binds both a
// typography token and a color token. Either one alone does not count.
func UsesDesignSystemTokens(n *figma.Node) bool {
	return HasTextToken(n) && HasColorToken(n)
}

// HasTextToken reports whether the node's typography comes from a shared
// style or variable.
func HasTextToken(n *figma.Node) bool {
	if strings.TrimSpace(n.TextStyleID) != "" {
		return true
	}
	if n.Styles != nil && strings.TrimSpace(n.Styles.Text) != "" {
		return true
	}
	for _, key := range typographyVariables {
		if n.HasBoundVariable(key) {
			return true
		}
	}
	return false
}

// HasColorToken reports whether the node's color comes from a shared style
// or variable.
func HasColorToken(n *figma.Node) bool {
	if strings.TrimSpace(n.FillStyleID) != "" {
		return true
	}
	if n.Styles != nil && strings.TrimSpace(n.Styles.Fill) != "" {
		return true
	}
	for _, f := range n.Fills {
		if len(f.BoundVariables) > 0 || f.StyleID != "" || f.FillStyleID != "" {
			return true
		}
	}
	for _, key := range colorVariables {
		if n.HasBoundVariable(key) {
			return true
		}
	}
	return false
}
