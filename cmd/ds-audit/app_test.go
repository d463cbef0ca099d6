package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/ds-audit/pkg/config"
	"github.com/ritzau/ds-audit/pkg/figma/figmatest"
	"github.com/ritzau/ds-audit/pkg/rules"
)

func baseConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Format:       config.FormatText,
		Port:         8080,
		FigmaBaseURL: "http://127.0.0.1:1",
		FigmaTimeout: time.Second,
		RulesStore:   config.StoreMemory,
		RulesFile:    filepath.Join(dir, "rules.json"),
		PatternsFile: filepath.Join(dir, "patterns.json"),
		Threshold:    80,
	}
}

func TestNewAppStores(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, store := range []string{config.StoreMemory, config.StoreFile, config.StoreRedis} {
		t.Run(store, func(t *testing.T) {
			cfg := baseConfig(t)
			cfg.RulesStore = store
			cfg.RedisAddr = mr.Addr()
			cfg.RedisPrefix = "test-" + store + ":"

			a, err := newApp(context.Background(), cfg)
			require.NoError(t, err)
			defer a.Close()

			out, err := a.runner.AnalyzeNode(context.Background(), figmatest.CheckoutFrame(), "test")
			require.NoError(t, err)
			assert.Equal(t, 2, out.Result.Summary.Total)

			st, err := a.learning.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, st.TotalPatterns)
		})
	}
}

func TestNewAppRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig(t)
	cfg.RulesStore = config.StoreRedis
	cfg.RedisAddr = addr
	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestWatchReloadsRulesFile(t *testing.T) {
	cfg := baseConfig(t)
	cfg.RulesStore = config.StoreFile
	cfg.Watch = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	edited := []rules.Rule{{
		ID:         "manual",
		Type:       rules.TypeExclude,
		Condition:  rules.Condition{NodeName: "Card"},
		Action:     rules.Action{Ignore: true},
		Confidence: 1,
		Source:     rules.SourceUserFeedback,
	}}
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.RulesFile, data, 0o644))

	require.Eventually(t, func() bool {
		set, err := a.engine.Snapshot(ctx)
		return err == nil && set.Len() == 1
	}, 5*time.Second, 50*time.Millisecond)

	out, err := a.runner.AnalyzeNode(ctx, figmatest.CheckoutFrame(), "test")
	require.NoError(t, err)
	assert.Equal(t, 100, out.Result.Summary.ComplianceRate())
}

func TestAuditOnceFromInput(t *testing.T) {
	cfg := baseConfig(t)
	input := filepath.Join(t.TempDir(), "frame.json")
	data, err := json.Marshal(map[string]any{"document": figmatest.CheckoutFrame()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(input, data, 0o644))
	cfg.Input = input

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, auditOnce(context.Background(), a, cfg))

	cfg.Input = ""
	assert.Error(t, auditOnce(context.Background(), a, cfg), "nothing to audit")

	cfg.URL = "https://www.figma.com/design/KEY/T?node-id=1-2"
	assert.Error(t, auditOnce(context.Background(), a, cfg), "token required")
}

func TestAuditOnceFromFigma(t *testing.T) {
	api := figmatest.NewServer()
	defer api.Close()
	api.AddFrame("KEY", figmatest.CheckoutFrame())

	cfg := baseConfig(t)
	cfg.FigmaToken = figmatest.Token
	cfg.FigmaBaseURL = api.URL
	cfg.URL = api.FrameURL("KEY", "1:2")
	cfg.Format = config.FormatJSON

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, auditOnce(context.Background(), a, cfg))
	assert.Equal(t, 1, api.Fetches())
}

func TestFlagSetFeedsConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	f := newFlagSet()
	require.NoError(t, f.Parse([]string{"--rules-store", "memory", "-f", "csv", "-vv", "--threshold", "90", "https://www.figma.com/design/K/T?node-id=1-2"}))

	cfg, err := config.Load(f)
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.RulesStore)
	assert.Equal(t, config.FormatCSV, cfg.Format)
	assert.Equal(t, 2, cfg.VerboseCnt)
	assert.Equal(t, 90, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.FigmaTimeout)
	assert.Equal(t, "https://www.figma.com/design/K/T?node-id=1-2", f.Arg(0))

	var buf bytes.Buffer
	f.SetOutput(&buf)
	f.Usage()
	assert.Contains(t, buf.String(), "--rules-store")
}

func TestServeWebStopsOnCancel(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Port = 0

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, serveWeb(ctx, a, cfg))
}
