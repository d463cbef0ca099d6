package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/ritzau/ds-audit/pkg/analyzer"
)

// DefaultThreshold is the compliance rate at which a frame is approved.
const DefaultThreshold = 80

const (
	StatusApproved    = "Approved"
	StatusNeedsReview = "Needs review"
)

// Status maps a compliance rate to its review label.
func Status(rate, threshold int) string {
	if rate >= threshold {
		return StatusApproved
	}
	return StatusNeedsReview
}

// PrintComplianceReport writes a colorized report of an analysis. Components
// are grouped disconnected first, ordered by priority within each group.
func PrintComplianceReport(w io.Writer, result *analyzer.AnalysisResult, threshold int) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	bold.Fprintln(w, "Design System Compliance Report")
	bold.Fprintln(w, "===============================")
	fmt.Fprintf(w, "Frame: %s (%s)\n", result.FrameInfo.Name, result.FrameInfo.NodeID)
	if result.FrameInfo.URL != "" {
		fmt.Fprintf(w, "URL: %s\n", result.FrameInfo.URL)
	}
	fmt.Fprintf(w, "Scanned: %d components\n", result.Summary.Total)
	green.Fprintf(w, "Connected: %d\n", result.Summary.Connected)
	if result.Summary.Disconnected > 0 {
		yellow.Fprintf(w, "Disconnected: %d\n", result.Summary.Disconnected)
	} else {
		fmt.Fprintf(w, "Disconnected: 0\n")
	}
	fmt.Fprintln(w)

	connected, disconnected := analyzer.Categorize(result.Components)
	byPriority(connected)
	byPriority(disconnected)

	if len(disconnected) > 0 {
		red.Fprintln(w, "DISCONNECTED:")
		for _, c := range disconnected {
			yellow.Fprintf(w, "  %s", c.Name)
			cyan.Fprintf(w, "  [%s]", c.Type)
			fmt.Fprintf(w, "  %s\n", c.NodeID)
		}
		fmt.Fprintln(w)
	}
	if len(connected) > 0 {
		green.Fprintln(w, "CONNECTED:")
		for _, c := range connected {
			fmt.Fprintf(w, "  %s", c.Name)
			cyan.Fprintf(w, "  [%s]", c.Type)
			fmt.Fprintf(w, "  %s\n", c.NodeID)
		}
		fmt.Fprintln(w)
	}

	rate := result.Summary.ComplianceRate()
	summaryColor := green
	if rate < 100 {
		summaryColor = yellow
	}
	if rate < threshold {
		summaryColor = red
	}
	summaryColor.Fprintf(w, "Summary: %d%% compliance (%d/%d components) - %s\n",
		rate, result.Summary.Connected, result.Summary.Total, Status(rate, threshold))
}

func byPriority(cs []analyzer.ComponentAnalysis) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Priority < cs[j].Priority })
}
