package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/ds-audit/pkg/analyzer"
	"github.com/ritzau/ds-audit/pkg/audit"
	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/figma/figmatest"
	"github.com/ritzau/ds-audit/pkg/learning"
	"github.com/ritzau/ds-audit/pkg/pubsub"
	"github.com/ritzau/ds-audit/pkg/rules"
)

type testEnv struct {
	api *figmatest.Server
	srv *httptest.Server
}

func newTestEnv(t *testing.T, cacheSize int) *testEnv {
	t.Helper()
	api := figmatest.NewServer()
	t.Cleanup(api.Close)
	api.AddFrame("KEY", figmatest.CheckoutFrame())

	store := rules.NewMemoryStore()
	engine := rules.NewEngine(store)
	pub := pubsub.NewSSEPublisher()
	t.Cleanup(func() { pub.Close() })
	svc := learning.NewService(store, learning.NewMemoryPatternStore(), learning.WithPublisher(pub))
	client := figma.NewClient(figmatest.Token, figma.WithBaseURL(api.URL))
	runner := audit.NewRunner(client, analyzer.New(engine), svc, pub)

	s, err := NewServer(runner, svc, engine, pub, Options{ReportCacheSize: cacheSize})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{api: api, srv: srv}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type reportDoc struct {
	ID             string                       `json:"id"`
	ComplianceRate int                          `json:"complianceRate"`
	Status         string                       `json:"status"`
	Summary        analyzer.Summary             `json:"summary"`
	FrameInfo      analyzer.FrameInfo           `json:"frameInfo"`
	Components     []analyzer.ComponentAnalysis `json:"components"`
	Corrections    *learning.Counts             `json:"corrections"`
	Suggestions    []analyzer.Suggestion        `json:"suggestions"`
}

func TestAnalyzeAndShare(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := env.post(t, "/api/analyze", map[string]string{"url": env.api.FrameURL("KEY", "1:2")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	report := decode[reportDoc](t, resp)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 50, report.ComplianceRate)
	assert.Equal(t, "Needs review", report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, "Checkout", report.FrameInfo.Name)
	assert.Len(t, report.Components, 2)
	assert.NotNil(t, report.Suggestions)

	shared := decode[reportDoc](t, env.get(t, "/api/analysis/"+report.ID))
	assert.Equal(t, report, shared)

	csvResp := env.get(t, "/api/analysis/"+report.ID+"/csv")
	require.Equal(t, http.StatusOK, csvResp.StatusCode)
	assert.Contains(t, csvResp.Header.Get("Content-Disposition"), "ds-audit-1-2.csv")
	records, err := csv.NewReader(csvResp.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/analysis/unknown").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/analysis/unknown/csv").StatusCode)
}

func TestAnalyzeDocument(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := env.post(t, "/api/analyze", map[string]any{"document": figmatest.CheckoutFrame(), "url": "upload"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[reportDoc](t, resp)
	assert.Equal(t, 1, report.Summary.Connected)
	assert.Zero(t, env.api.Fetches())
}

func TestAnalyzeErrors(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty body", map[string]string{}, http.StatusBadRequest},
		{"invalid url", map[string]string{"url": "https://example.com/x"}, http.StatusBadRequest},
		{"missing frame", map[string]string{"url": env.api.FrameURL("KEY", "9:9")}, http.StatusNotFound},
		{"unknown file", map[string]string{"url": env.api.FrameURL("NOPE", "1:2")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.post(t, "/api/analyze", tt.body).StatusCode)
		})
	}

	resp, err := http.Post(env.srv.URL+"/api/analyze", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportCacheEvicts(t *testing.T) {
	env := newTestEnv(t, 1)
	url := env.api.FrameURL("KEY", "1:2")

	first := decode[reportDoc](t, env.post(t, "/api/analyze", map[string]string{"url": url}))
	second := decode[reportDoc](t, env.post(t, "/api/analyze", map[string]string{"url": url}))

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/analysis/"+first.ID).StatusCode)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/analysis/"+second.ID).StatusCode)
}

func TestFeedbackLoop(t *testing.T) {
	env := newTestEnv(t, 0)
	url := env.api.FrameURL("KEY", "1:2")

	resp := env.post(t, "/api/feedback", map[string]any{
		"frameId":  "1:2",
		"feedback": map[string]string{"type": "should_ignore", "componentName": "Card"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "feedback needs a recorded analysis")

	require.Equal(t, http.StatusOK, env.post(t, "/api/analyze", map[string]string{"url": url}).StatusCode)

	resp = env.post(t, "/api/feedback", map[string]any{
		"frameId":  "1:2",
		"feedback": map[string]string{"type": "should_ignore", "componentName": "Card"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[struct {
		Rules []rules.Rule `json:"rules"`
	}](t, resp)
	require.Len(t, created.Rules, 1)
	assert.Equal(t, rules.TypeExclude, created.Rules[0].Type)

	resp = env.post(t, "/api/feedback", map[string]any{
		"frameId":  "1:2",
		"feedback": map[string]string{"type": "compliment"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	listed := decode[[]rules.Rule](t, env.get(t, "/api/rules"))
	assert.Len(t, listed, 1)

	report := decode[reportDoc](t, env.post(t, "/api/analyze", map[string]string{"url": url}))
	assert.Equal(t, 100, report.ComplianceRate)
	assert.Equal(t, "Approved", report.Status)
}

func TestCorrections(t *testing.T) {
	env := newTestEnv(t, 0)
	url := env.api.FrameURL("KEY", "1:2")
	require.Equal(t, http.StatusOK, env.post(t, "/api/analyze", map[string]string{"url": url}).StatusCode)

	resp := env.post(t, "/api/corrections", map[string]any{"frameId": "1:2", "connected": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/corrections", map[string]any{"frameId": "1:2", "connected": 2, "disconnected": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[reportDoc](t, env.post(t, "/api/analyze", map[string]string{"url": url}))
	require.NotNil(t, report.Corrections)
	assert.Equal(t, 2, report.Corrections.Connected)
	assert.Equal(t, 50, report.ComplianceRate, "corrections never rewrite the summary")
}

func TestLearningEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)
	require.Equal(t, http.StatusOK, env.post(t, "/api/analyze", map[string]string{"url": env.api.FrameURL("KEY", "1:2")}).StatusCode)

	stats := decode[learning.Stats](t, env.get(t, "/api/learning/stats"))
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.InDelta(t, 50, stats.AverageCompliance, 1e-9)

	resp := env.get(t, "/api/learning/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "ds-audit-learning-")
	exp := decode[learning.Export](t, resp)
	assert.Equal(t, learning.ExportVersion, exp.ExportInfo.Version)
	assert.Len(t, exp.Patterns, 1)
}

func TestSuggestions(t *testing.T) {
	env := newTestEnv(t, 0)
	doc := &figma.Node{
		ID: "0:1", Name: "Root", Type: figma.TypeFrame,
		Children: []*figma.Node{
			{ID: "0:2", Name: "Divider", Type: figma.TypeRectangle, BoundingBox: &figma.BoundingBox{Width: 200, Height: 20}},
		},
	}

	resp := env.post(t, "/api/suggestions", map[string]any{"document": doc})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[[]analyzer.Suggestion](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "Divider", got[0].Name)

	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/suggestions", map[string]any{}).StatusCode)
}

func TestHealthAndStatic(t *testing.T) {
	env := newTestEnv(t, 0)

	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, env.get(t, "/health")))

	resp := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestSubscribeAnalysisStatus(t *testing.T) {
	env := newTestEnv(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe/analysis_status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// wait for the connection comment so the subscription exists
	select {
	case l := <-lines:
		require.Equal(t, ": connected", l)
	case <-time.After(time.Second):
		t.Fatal("stream did not open")
	}

	require.Equal(t, http.StatusOK, env.post(t, "/api/analyze", map[string]string{"url": env.api.FrameURL("KEY", "1:2")}).StatusCode)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if !strings.HasPrefix(l, "data: ") {
				continue
			}
			var ev pubsub.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(l, "data: ")), &ev))
			if ev.Type == audit.StateReady {
				return
			}
		case <-timeout:
			t.Fatal("no ready event on stream")
		}
	}
}

func TestSubscribeUnknownTopic(t *testing.T) {
	env := newTestEnv(t, 0)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/subscribe/bogus").StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid url", fmt.Errorf("%w: missing node-id", figma.ErrInvalidURL), http.StatusBadRequest},
		{"rejected token", audit.ErrInvalidToken, http.StatusUnauthorized},
		{"rate limited token check", fmt.Errorf("token validation failed: %w", &figma.APIError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}), http.StatusBadGateway},
		{"frame missing", figma.ErrFrameNotFound, http.StatusNotFound},
		{"pattern missing", learning.ErrPatternNotFound, http.StatusNotFound},
		{"bad rule", &rules.RuleCompilationError{RuleID: "r", Pattern: "(", Err: errors.New("bad")}, http.StatusUnprocessableEntity},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func newOfflineServer(t *testing.T) *Server {
	t.Helper()
	store := rules.NewMemoryStore()
	engine := rules.NewEngine(store)
	pub := pubsub.NewSSEPublisher()
	t.Cleanup(func() { pub.Close() })
	svc := learning.NewService(store, learning.NewMemoryPatternStore())
	runner := audit.NewRunner(nil, analyzer.New(engine), svc, pub)

	s, err := NewServer(runner, svc, engine, pub, Options{})
	require.NoError(t, err)
	return s
}

func TestShutdownEndsEventStreams(t *testing.T) {
	s := newOfflineServer(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/api/subscribe/rules")
	require.NoError(t, err)
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	require.Equal(t, ": connected", sc.Text())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	for sc.Scan() {
	}
	assert.NoError(t, sc.Err(), "stream should end cleanly")
}

func TestShutdownBeforeServe(t *testing.T) {
	s := newOfflineServer(t)
	require.NoError(t, s.Shutdown(context.Background()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.NoError(t, s.Serve(l))
}
