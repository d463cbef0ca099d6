package pubsub

import (
	"context"
	"encoding/json"
)

// Topics published by the auditor.
const (
	TopicAnalysisStatus = "analysis_status"
	TopicRules          = "rules"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // e.g. "analysis_status", "rules"
	Type    string          `json:"type"`    // e.g. "fetching", "classifying", "ready", "error"
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	Topic() string
	Events() <-chan Event
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic.
	// Context cancellation will close the subscription.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	Close() error
}

// AnalysisStatus reports progress of one audit run.
type AnalysisStatus struct {
	State    string `json:"state"`   // parsing_url, validating_token, fetching, classifying, recording, ready, error
	Message  string `json:"message"` // Human-readable status message
	Step     int    `json:"step"`    // Current step number (1-based)
	Total    int    `json:"total"`   // Total number of steps
	FrameURL string `json:"frameUrl,omitempty"`
	ReportID string `json:"reportId,omitempty"`
}

// RulesChanged announces that the rule set was modified.
type RulesChanged struct {
	Added  int    `json:"added"`
	Total  int    `json:"total"`
	Reason string `json:"reason"` // feedback, reload
}
