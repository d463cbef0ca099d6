package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/ritzau/ds-audit/pkg/analyzer"
)

var csvHeader = []string{"Name", "Type", "Connected", "Priority", "Node ID"}

// WriteCSV writes one row per component in analysis order.
func WriteCSV(w io.Writer, result *analyzer.AnalysisResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, c := range result.Components {
		connected := "no"
		if c.IsConnectedToDS {
			connected = "yes"
		}
		row := []string{c.Name, string(c.Type), connected, strconv.Itoa(c.Priority), c.NodeID}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Report is the JSON document produced for an analysis.
type Report struct {
	*analyzer.AnalysisResult
	ComplianceRate int    `json:"complianceRate"`
	Status         string `json:"status"`
}

// NewReport wraps a result with its rate and status.
func NewReport(result *analyzer.AnalysisResult, threshold int) Report {
	rate := result.Summary.ComplianceRate()
	return Report{
		AnalysisResult: result,
		ComplianceRate: rate,
		Status:         Status(rate, threshold),
	}
}

// WriteJSON writes the indented JSON report.
func WriteJSON(w io.Writer, result *analyzer.AnalysisResult, threshold int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewReport(result, threshold))
}
