// Package realtime carries workflow events to live consoles.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is one event addressed to a channel key.
type Message struct {
	Key         string          `json:"key"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// NewMessage encodes payload into a message for key.
func NewMessage(key, event string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Key: key, Event: event, Payload: raw, PublishedAt: time.Now().UTC()}, nil
}

// Publisher delivers messages to subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// ScopeKey addresses everyone watching a block floor for one request category.
func ScopeKey(block, floor, category string) string {
	return "scope:" + keyPart(block) + ":" + keyPart(floor) + ":" + keyPart(category)
}

// ScopeBlockPattern matches every floor and category of a block.
func ScopeBlockPattern(block string) string {
	return "scope:" + keyPart(block) + ":*"
}

// StudentKey addresses one student's personal channel.
func StudentKey(studentID string) string {
	return "student:" + keyPart(studentID)
}

func keyPart(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ":", "_"))
}

// Match reports whether key is selected by pattern. A trailing * matches any suffix.
func Match(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}
