// Package audit runs the full audit pipeline for one frame: resolve the
// URL, fetch the node tree, classify it and record the outcome.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ritzau/ds-audit/pkg/analyzer"
	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/learning"
	"github.com/ritzau/ds-audit/pkg/logging"
	"github.com/ritzau/ds-audit/pkg/pubsub"
)

// ErrInvalidToken is returned when the Figma API rejects the token.
var ErrInvalidToken = errors.New("figma token is invalid or lacks permissions")

// Status states published on pubsub.TopicAnalysisStatus.
const (
	StateParsingURL      = "parsing_url"
	StateValidatingToken = "validating_token"
	StateFetching        = "fetching"
	StateClassifying     = "classifying"
	StateRecording       = "recording"
	StateReady           = "ready"
	StateError           = "error"
)

const totalSteps = 5

// FrameSource fetches frames from Figma. *figma.Client implements it.
type FrameSource interface {
	ValidateToken(ctx context.Context) (bool, error)
	FetchFrame(ctx context.Context, ref figma.FrameRef) (*figma.Node, error)
}

// Outcome is the product of one audit.
type Outcome struct {
	ID          string                   `json:"id"`
	Result      *analyzer.AnalysisResult `json:"result"`
	Corrections *learning.Counts         `json:"corrections,omitempty"`
	Suggestions []analyzer.Suggestion    `json:"suggestions"`
}

// Runner orchestrates audits. Runs are serialized.
type Runner struct {
	source    FrameSource
	analyzer  *analyzer.Analyzer
	learning  *learning.Service
	publisher pubsub.Publisher

	// SkipTokenCheck omits the /v1/me round trip before fetching.
	SkipTokenCheck bool

	mu sync.Mutex
}

// NewRunner creates a runner. learning and publisher may be nil.
func NewRunner(source FrameSource, a *analyzer.Analyzer, l *learning.Service, p pubsub.Publisher) *Runner {
	return &Runner{
		source:    source,
		analyzer:  a,
		learning:  l,
		publisher: p,
	}
}

// Run audits the frame addressed by rawURL.
func (r *Runner) Run(ctx context.Context, rawURL string) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	logging.InfoContext(ctx, "starting audit", "url", rawURL, "id", id)

	r.publish(ctx, StateParsingURL, "Parsing frame URL...", 1, rawURL, "")
	ref, err := figma.ParseURL(rawURL)
	if err != nil {
		return nil, r.fail(ctx, 1, rawURL, err)
	}

	if r.source == nil {
		return nil, r.fail(ctx, 2, rawURL, errors.New("no figma client configured"))
	}

	if !r.SkipTokenCheck {
		r.publish(ctx, StateValidatingToken, "Validating Figma token...", 2, rawURL, "")
		ok, err := r.source.ValidateToken(ctx)
		if err != nil {
			return nil, r.fail(ctx, 2, rawURL, fmt.Errorf("token validation failed: %w", err))
		}
		if !ok {
			return nil, r.fail(ctx, 2, rawURL, ErrInvalidToken)
		}
	}

	r.publish(ctx, StateFetching, "Fetching frame from Figma...", 3, rawURL, "")
	root, err := r.source.FetchFrame(ctx, ref)
	if err != nil {
		return nil, r.fail(ctx, 3, rawURL, err)
	}

	out, err := r.analyze(ctx, id, root, rawURL)
	if err != nil {
		return nil, err
	}
	logging.InfoContext(ctx, "audit complete", "id", id,
		"frame", out.Result.FrameInfo.Name,
		"components", out.Result.Summary.Total,
		"compliance", out.Result.Summary.ComplianceRate(),
	)
	return out, nil
}

// AnalyzeNode audits an already loaded node tree. frameURL is informational.
func (r *Runner) AnalyzeNode(ctx context.Context, root *figma.Node, frameURL string) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.analyze(ctx, uuid.NewString(), root, frameURL)
}

func (r *Runner) analyze(ctx context.Context, id string, root *figma.Node, frameURL string) (*Outcome, error) {
	r.publish(ctx, StateClassifying, "Classifying components...", 4, frameURL, "")
	result, err := r.analyzer.AnalyzeFrame(ctx, root, frameURL)
	if err != nil {
		return nil, r.fail(ctx, 4, frameURL, err)
	}

	out := &Outcome{
		ID:          id,
		Result:      result,
		Suggestions: analyzer.SuggestMissedComponents(root),
	}

	if r.learning != nil {
		r.publish(ctx, StateRecording, "Recording analysis...", 5, frameURL, "")
		p, err := r.learning.RecordAnalysis(ctx, result)
		if err != nil {
			// the audit itself succeeded
			logging.WarnContext(ctx, "failed to record analysis", "frame", result.FrameInfo.NodeID, "error", err)
		} else if p.Corrections != nil {
			c := *p.Corrections
			out.Corrections = &c
		}
	}

	r.publish(ctx, StateReady, "Analysis complete", totalSteps, frameURL, id)
	return out, nil
}

func (r *Runner) fail(ctx context.Context, step int, frameURL string, err error) error {
	logging.ErrorContext(ctx, "audit failed", "step", step, "url", frameURL, "error", err)
	r.publish(ctx, StateError, err.Error(), step, frameURL, "")
	return err
}

func (r *Runner) publish(ctx context.Context, state, msg string, step int, frameURL, reportID string) {
	if r.publisher == nil {
		return
	}
	status := pubsub.AnalysisStatus{
		State:    state,
		Message:  msg,
		Step:     step,
		Total:    totalSteps,
		FrameURL: frameURL,
		ReportID: reportID,
	}
	if err := r.publisher.Publish(pubsub.TopicAnalysisStatus, state, status); err != nil {
		logging.WarnContext(ctx, "failed to publish analysis status", "state", state, "error", err)
	}
}
