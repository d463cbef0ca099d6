package analyzer

import "math"

// ComponentType is the coarse category a classified element is reported as.
type ComponentType string

const (
	ComponentInstance  ComponentType = "INSTANCE"
	ComponentComponent ComponentType = "COMPONENT"
	ComponentText      ComponentType = "TEXT"
	ComponentOther     ComponentType = "OTHER"
)

// Priority returns the display priority of the type: instances first.
func (t ComponentType) Priority() int {
	switch t {
	case ComponentInstance:
		return 1
	case ComponentComponent:
		return 2
	default:
		return 3
	}
}

// ComponentAnalysis is one classified element of a frame.
type ComponentAnalysis struct {
	Name            string        `json:"name"`
	Type            ComponentType `json:"type"`
	IsConnectedToDS bool          `json:"isConnectedToDS"`
	Priority        int           `json:"priority"`
	NodeID          string        `json:"nodeId"`
	Depth           int           `json:"depth"`
}

// Summary holds the aggregate counts of an analysis.
type Summary struct {
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
	Total        int `json:"total"`
}

// ComplianceRate is the rounded percentage of connected components, or 0
// for an empty analysis.
func (s Summary) ComplianceRate() int {
	if s.Total == 0 {
		return 0
	}
	return int(math.Round(float64(s.Connected) / float64(s.Total) * 100))
}

// FrameInfo identifies the analysed frame.
type FrameInfo struct {
	Name   string `json:"name"`
	NodeID string `json:"nodeId"`
	URL    string `json:"url"`
}

// AnalysisResult is the full outcome of analysing one frame.
type AnalysisResult struct {
	Components []ComponentAnalysis `json:"components"`
	Summary    Summary             `json:"summary"`
	FrameInfo  FrameInfo           `json:"frameInfo"`
}

// Summarize counts connected and disconnected components.
func Summarize(components []ComponentAnalysis) Summary {
	var s Summary
	for _, c := range components {
		if c.IsConnectedToDS {
			s.Connected++
		} else {
			s.Disconnected++
		}
	}
	s.Total = s.Connected + s.Disconnected
	return s
}

// Categorize splits components by classification, preserving order.
func Categorize(components []ComponentAnalysis) (connected, disconnected []ComponentAnalysis) {
	connected = []ComponentAnalysis{}
	disconnected = []ComponentAnalysis{}
	for _, c := range components {
		if c.IsConnectedToDS {
			connected = append(connected, c)
		} else {
			disconnected = append(disconnected, c)
		}
	}
	return connected, disconnected
}
