package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Errorf("unexpected event version %d", event.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func publishN(t *testing.T, pub *SSEPublisher, topic string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, pub.Publish(topic, "step", AnalysisStatus{State: "fetching", Step: i, Total: n}))
	}
}

func TestEventBufferReplayAll(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicAnalysisStatus, TopicConfig{BufferSize: 3, ReplayAll: true})

	publishN(t, pub, TopicAnalysisStatus, 5)

	sub, err := pub.Subscribe(context.Background(), TopicAnalysisStatus)
	require.NoError(t, err)
	defer sub.Close()

	for want := 3; want <= 5; want++ {
		assert.Equal(t, want, receive(t, sub).Version)
	}
	assertNoEvent(t, sub)
}

func TestReplayLastOnly(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicAnalysisStatus, TopicConfig{BufferSize: 5})

	publishN(t, pub, TopicAnalysisStatus, 3)

	sub, err := pub.Subscribe(context.Background(), TopicAnalysisStatus)
	require.NoError(t, err)
	defer sub.Close()

	event := receive(t, sub)
	assert.Equal(t, 3, event.Version)

	var status AnalysisStatus
	require.NoError(t, json.Unmarshal(event.Data, &status))
	assert.Equal(t, 3, status.Step)
	assertNoEvent(t, sub)

	last, ok := pub.Last(TopicAnalysisStatus)
	require.True(t, ok)
	assert.Equal(t, 3, last.Version)
}

func TestNoBuffer(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	publishN(t, pub, TopicRules, 3)

	sub, err := pub.Subscribe(context.Background(), TopicRules)
	require.NoError(t, err)
	defer sub.Close()
	assertNoEvent(t, sub)

	require.NoError(t, pub.Publish(TopicRules, "reload", RulesChanged{Total: 4, Reason: "reload"}))
	assert.Equal(t, 4, receive(t, sub).Version)

	_, ok := pub.Last(TopicRules)
	assert.False(t, ok)
}

func TestContextCancelClosesSubscription(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := pub.Subscribe(ctx, TopicRules)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}

	assert.NoError(t, sub.Close(), "double close is a no-op")
	assert.NoError(t, pub.Publish(TopicRules, "reload", RulesChanged{}))
}

func TestPublisherClose(t *testing.T) {
	pub := NewSSEPublisher()
	sub, err := pub.Subscribe(context.Background(), TopicRules)
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.NoError(t, sub.Close())

	assert.ErrorIs(t, pub.Publish(TopicRules, "x", nil), ErrClosed)
	_, err = pub.Subscribe(context.Background(), TopicRules)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, Event{Topic: TopicRules, Type: "feedback", Data: json.RawMessage(`{"added":1}`), Version: 7}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "data: {"))
	assert.True(t, strings.HasSuffix(out, "\n\n"))
	assert.Contains(t, out, `"version":7`)
	assert.Contains(t, out, `"data":{"added":1}`)
}
