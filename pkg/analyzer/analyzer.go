// Package analyzer classifies the elements of a Figma frame as connected to
// or disconnected from the design system.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/logging"
	"github.com/ritzau/ds-audit/pkg/rules"
)

// ErrNilRoot is returned when no frame was supplied.
var ErrNilRoot = errors.New("analyzer: nil root node")

// Analyzer classifies frames against the rules in an engine.
type Analyzer struct {
	engine *rules.Engine
}

// New creates an analyzer. The engine's store is read once per analysis.
func New(engine *rules.Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// AnalyzeFrame snapshots the rules and classifies the frame rooted at root.
func (a *Analyzer) AnalyzeFrame(ctx context.Context, root *figma.Node, frameURL string) (*AnalysisResult, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	set, err := a.engine.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	result := AnalyzeFrame(root, frameURL, set)
	logging.DebugContext(ctx, "analysed frame",
		"frame", root.Name,
		"rules", set.Len(),
		"components", result.Summary.Total,
		"connected", result.Summary.Connected,
	)
	return result, nil
}

// AnalyzeFrame classifies the frame rooted at root against a rule snapshot.
// The root itself is never classified. Components are listed in pre-order.
func AnalyzeFrame(root *figma.Node, frameURL string, set *rules.RuleSet) *AnalysisResult {
	components := []ComponentAnalysis{}

	if root != nil {
		figma.Walk(root, func(n *figma.Node, depth int) bool {
			if depth == 0 {
				return true
			}
			c, emit, descend := classify(n, depth, set)
			if emit {
				components = append(components, c)
			}
			return descend
		})
	}

	result := &AnalysisResult{
		Components: relevant(components),
		FrameInfo:  FrameInfo{URL: frameURL},
	}
	result.Summary = Summarize(result.Components)
	if root != nil {
		result.FrameInfo.Name = root.Name
		result.FrameInfo.NodeID = root.ID
	}
	return result
}

// classify decides a single node below the root. It returns the component
// to emit, whether to emit it, and whether to visit the node's children.
func classify(n *figma.Node, depth int, set *rules.RuleSet) (ComponentAnalysis, bool, bool) {
	if n.IsHidden() {
		return ComponentAnalysis{}, false, false
	}

	d := set.Apply(n.Name, n.Type)
	if d.ShouldIgnore {
		return ComponentAnalysis{}, false, false
	}

	component := func(t ComponentType, connected bool) ComponentAnalysis {
		return ComponentAnalysis{
			Name:            n.Name,
			Type:            t,
			IsConnectedToDS: connected,
			Priority:        t.Priority(),
			NodeID:          n.ID,
			Depth:           depth,
		}
	}
	ruleOr := func(fallback bool) bool {
		if d.Classification != nil {
			return d.Classification.Bool()
		}
		return fallback
	}

	switch n.Type {
	case figma.TypeInstance:
		return component(ComponentInstance, ruleOr(hasComponentID(n))), true, false

	case figma.TypeComponent:
		return component(ComponentComponent, ruleOr(false)), true, false

	case figma.TypeText:
		switch {
		case d.ShouldInclude:
			return component(ComponentText, ruleOr(false)), true, false
		case shouldIncludeText(n, depth):
			return component(ComponentText, ruleOr(UsesDesignSystemTokens(n))), true, false
		}
		return ComponentAnalysis{}, false, false
	}

	switch {
	case d.ShouldInclude && isShape(n.Type):
		return component(ComponentOther, ruleOr(false)), true, true
	case shouldIncludeAsDisconnected(n, depth), shouldShowAsOption(n, depth):
		return component(ComponentOther, false), true, true
	}
	return ComponentAnalysis{}, false, true
}

func hasComponentID(n *figma.Node) bool {
	return strings.TrimSpace(n.ComponentID) != ""
}

// relevant is the final scope filter. Every classified component is in
// scope; users narrow the list downstream.
func relevant(components []ComponentAnalysis) []ComponentAnalysis {
	return components
}
