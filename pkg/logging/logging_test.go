package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.With("frame", "Checkout").Info("analysed frame",
		"components", 12,
		"status", "Needs review",
		"error", errors.New("boom"),
		"durationMs", int64(42),
		"requestID", "0123456789abcdef",
	)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[INFO]  "), line)
	assert.Contains(t, line, "analysed frame | frame=Checkout components=12")
	assert.Contains(t, line, `status="Needs review"`)
	assert.Contains(t, line, `error="boom"`)
	assert.Contains(t, line, "duration=42ms")
	assert.Contains(t, line, "req=01234567")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestCompactHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	h := NewCompactHandler(&buf, &slog.HandlerOptions{Level: LevelTrace})
	log := slog.New(h)

	log.Log(context.Background(), LevelTrace, "t")
	log.Debug("d")
	log.Warn("w")
	log.Error("e")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	for i, prefix := range []string{"[TRACE]", "[DEBUG]", "[WARN]", "[ERROR]"} {
		assert.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
	}

	assert.False(t, NewCompactHandler(&buf, nil).Enabled(context.Background(), slog.LevelDebug))
}

func TestCompactHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewCompactHandler(&buf, nil)).WithGroup("rules").Info("loaded", "count", 3)
	assert.Contains(t, buf.String(), "rules.count=3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, ParseLevel("", 0))
	assert.Equal(t, slog.LevelDebug, ParseLevel("", 1))
	assert.Equal(t, LevelTrace, ParseLevel("", 3))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN", 2))
	assert.Equal(t, slog.LevelError, ParseLevel("error", 0))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense", 0))
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: slog.LevelDebug, Writer: &buf})
	defer Configure(Options{Level: slog.LevelInfo})

	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	req.Header.Set("X-Request-ID", "fixed-request-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-request-id", seen)
	assert.Equal(t, "fixed-request-id", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "request rejected")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}
