package analyzer

import (
	"regexp"
	"strings"

	"github.com/ritzau/ds-audit/pkg/figma"
)

var (
	componentNamePattern = regexp.MustCompile(`(?i)button|btn|card|modal|popup|tooltip|input|field|form|checkbox|radio|icon|avatar|badge|chip|tag|header|footer|sidebar|menu|nav|component|element|widget|rectangle \d+|ellipse \d+|vector \d+`)

	importantTextPattern = regexp.MustCompile(`(?i)component|element|widget|title|heading|header|label|caption|subtitle|button|link|menu|nav|tab|capa|teste|demo|example|sample|text \d+|texto \d+|main|primary|secondary|content`)

	placeholderTextPattern = regexp.MustCompile(`(?i)^(placeholder|lorem ipsum|sample text|text|label|caption)$`)
)

const (
	disconnectedMaxDepth = 4
	disconnectedMinSize  = 20
	disconnectedMaxSize  = 500
	shallowContainerMax  = 2

	optionMaxDepth = 5
	optionMinSize  = 5

	textMaxDepth     = 6
	textMinSize      = 5
	textMaxWidth     = 1200
	textMaxHeight    = 400
	placeholderShort = 15
)

func isShape(t string) bool {
	return t == figma.TypeRectangle || t == figma.TypeEllipse || t == figma.TypeVector
}

// shouldIncludeAsDisconnected reports whether a shape or container looks
// like a hand-built component.
func shouldIncludeAsDisconnected(n *figma.Node, depth int) bool {
	if depth > disconnectedMaxDepth {
		return false
	}
	if !isShape(n.Type) && n.Type != figma.TypeFrame && n.Type != figma.TypeGroup {
		return false
	}
	if b := n.BoundingBox; b != nil {
		if b.Width < disconnectedMinSize || b.Height < disconnectedMinSize ||
			b.Width > disconnectedMaxSize || b.Height > disconnectedMaxSize {
			return false
		}
	}
	return componentNamePattern.MatchString(n.Name) || (n.HasChildren() && depth <= shallowContainerMax)
}

// shouldShowAsOption reports whether a node is listed speculatively so the
// user can toggle it.
func shouldShowAsOption(n *figma.Node, depth int) bool {
	if depth > optionMaxDepth {
		return false
	}
	switch n.Type {
	case figma.TypeText, figma.TypeRectangle, figma.TypeEllipse, figma.TypeVector,
		figma.TypeFrame, figma.TypeGroup, figma.TypeLine:
	default:
		return false
	}
	if n.IsHidden() {
		return false
	}
	if b := n.BoundingBox; b != nil && (b.Width < optionMinSize || b.Height < optionMinSize) {
		return false
	}
	return true
}

// shouldIncludeText is permissive: only deep, oddly sized or placeholder
// text is left out.
func shouldIncludeText(n *figma.Node, depth int) bool {
	if depth > textMaxDepth {
		return false
	}
	if b := n.BoundingBox; b != nil {
		if b.Width < textMinSize || b.Height < textMinSize || b.Width > textMaxWidth || b.Height > textMaxHeight {
			return false
		}
	}
	if importantTextPattern.MatchString(n.Name) {
		return true
	}
	name := strings.TrimSpace(n.Name)
	if len(name) < placeholderShort && placeholderTextPattern.MatchString(name) {
		return false
	}
	return true
}
