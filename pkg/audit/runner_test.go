package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/ds-audit/pkg/analyzer"
	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/figma/figmatest"
	"github.com/ritzau/ds-audit/pkg/learning"
	"github.com/ritzau/ds-audit/pkg/pubsub"
	"github.com/ritzau/ds-audit/pkg/rules"
)

type fixture struct {
	api      *figmatest.Server
	rules    *rules.MemoryStore
	learning *learning.Service
	pub      *pubsub.SSEPublisher
	runner   *Runner
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	api := figmatest.NewServer()
	t.Cleanup(api.Close)
	api.AddFrame("KEY", figmatest.CheckoutFrame())

	store := rules.NewMemoryStore()
	svc := learning.NewService(store, learning.NewMemoryPatternStore())
	pub := pubsub.NewSSEPublisher()
	t.Cleanup(func() { pub.Close() })

	client := figma.NewClient(token, figma.WithBaseURL(api.URL))
	return &fixture{
		api:      api,
		rules:    store,
		learning: svc,
		pub:      pub,
		runner:   NewRunner(client, analyzer.New(rules.NewEngine(store)), svc, pub),
	}
}

func collectStates(t *testing.T, sub pubsub.Subscription, until string) []pubsub.AnalysisStatus {
	t.Helper()
	var out []pubsub.AnalysisStatus
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-sub.Events():
			var st pubsub.AnalysisStatus
			require.NoError(t, json.Unmarshal(ev.Data, &st))
			out = append(out, st)
			if st.State == until {
				return out
			}
		case <-timeout:
			t.Fatalf("did not see state %q, got %v", until, out)
			return nil
		}
	}
}

func TestRunPublishesProgress(t *testing.T) {
	f := newFixture(t, figmatest.Token)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := f.pub.Subscribe(ctx, pubsub.TopicAnalysisStatus)
	require.NoError(t, err)

	out, err := f.runner.Run(ctx, f.api.FrameURL("KEY", "1:2"))
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, analyzer.Summary{Connected: 1, Disconnected: 1, Total: 2}, out.Result.Summary)
	assert.Equal(t, "Checkout", out.Result.FrameInfo.Name)
	assert.Nil(t, out.Corrections)

	states := collectStates(t, sub, StateReady)
	var names []string
	for _, s := range states {
		names = append(names, s.State)
		assert.Equal(t, totalSteps, s.Total)
	}
	assert.Equal(t, []string{StateParsingURL, StateValidatingToken, StateFetching, StateClassifying, StateRecording, StateReady}, names)
	assert.Equal(t, out.ID, states[len(states)-1].ReportID)

	p, err := f.learning.Pattern(ctx, "1:2")
	require.NoError(t, err)
	assert.Equal(t, learning.Counts{Connected: 1, Disconnected: 1}, p.Components)
}

func TestRunAppliesFeedbackRules(t *testing.T) {
	f := newFixture(t, figmatest.Token)
	ctx := context.Background()
	url := f.api.FrameURL("KEY", "1:2")

	_, err := f.runner.Run(ctx, url)
	require.NoError(t, err)
	_, err = f.learning.SubmitFeedback(ctx, "1:2", rules.Feedback{Type: rules.FeedbackShouldIgnore, ComponentName: "Card"})
	require.NoError(t, err)
	_, err = f.learning.SetCorrections(ctx, "1:2", learning.Counts{Connected: 2})
	require.NoError(t, err)

	out, err := f.runner.Run(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Result.Summary.ComplianceRate())
	require.NotNil(t, out.Corrections)
	assert.Equal(t, 2, out.Corrections.Connected)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		url     string
		wantErr error
		step    int
	}{
		{name: "invalid url", token: figmatest.Token, url: "https://example.com/nope", wantErr: figma.ErrInvalidURL, step: 1},
		{name: "rejected token", token: "wrong", url: "https://www.figma.com/design/KEY/T?node-id=1-2", wantErr: ErrInvalidToken, step: 2},
		{name: "missing frame", token: figmatest.Token, url: "https://www.figma.com/design/KEY/T?node-id=9-9", wantErr: figma.ErrFrameNotFound, step: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.token)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sub, err := f.pub.Subscribe(ctx, pubsub.TopicAnalysisStatus)
			require.NoError(t, err)

			_, err = f.runner.Run(ctx, tt.url)
			assert.ErrorIs(t, err, tt.wantErr)

			states := collectStates(t, sub, StateError)
			last := states[len(states)-1]
			assert.Equal(t, tt.step, last.Step)
			assert.NotEmpty(t, last.Message)
		})
	}
}

func TestRunSkipTokenCheck(t *testing.T) {
	f := newFixture(t, figmatest.Token)
	f.runner.SkipTokenCheck = true

	_, err := f.runner.Run(context.Background(), f.api.FrameURL("KEY", "1:2"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.Fetches())
}

func TestAnalyzeNodeWithoutLearning(t *testing.T) {
	r := NewRunner(nil, analyzer.New(rules.NewEngine(rules.NewMemoryStore())), nil, nil)

	out, err := r.AnalyzeNode(context.Background(), figmatest.CheckoutFrame(), "file.json")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.Summary.Total)
	assert.NotNil(t, out.Suggestions)

	_, err = r.AnalyzeNode(context.Background(), nil, "")
	assert.ErrorIs(t, err, analyzer.ErrNilRoot)
}

func TestRunWithoutSource(t *testing.T) {
	r := NewRunner(nil, analyzer.New(rules.NewEngine(rules.NewMemoryStore())), nil, nil)
	_, err := r.Run(context.Background(), "https://www.figma.com/design/KEY/T?node-id=1-2")
	assert.Error(t, err)
}

func TestRunsAreSerialized(t *testing.T) {
	f := newFixture(t, figmatest.Token)
	url := f.api.FrameURL("KEY", "1:2")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.runner.Run(context.Background(), url)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.learning.Pattern(context.Background(), "1:2")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Components.Total())
}
