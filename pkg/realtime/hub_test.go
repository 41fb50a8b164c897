package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "scope:d-block:2:normal", ScopeKey("D-Block", "2", "normal"))
	assert.Equal(t, "scope:d-block:*", ScopeBlockPattern(" D-Block "))
	assert.Equal(t, "student:stu-1", StudentKey("stu-1"))
	assert.True(t, Match(ScopeBlockPattern("D-Block"), ScopeKey("D-Block", "3", "emergency")))
	assert.False(t, Match(ScopeBlockPattern("E-Block"), ScopeKey("D-Block", "3", "emergency")))
	assert.True(t, Match(ScopeKey("D-Block", "3", "emergency"), ScopeKey("d-block", "3", "Emergency")))
}

func TestHubDeliversBySubscription(t *testing.T) {
	hub := NewHub(nil)
	floor := &Client{ID: "fi", Send: make(chan []byte, 1), Patterns: []string{ScopeKey("D-Block", "2", "normal")}}
	block := &Client{ID: "hi", Send: make(chan []byte, 1), Patterns: []string{ScopeBlockPattern("D-Block")}}
	other := &Client{ID: "x", Send: make(chan []byte, 1), Patterns: []string{ScopeBlockPattern("E-Block")}}
	hub.Register(floor)
	hub.Register(block)
	hub.Register(other)

	msg, err := NewMessage(ScopeKey("D-Block", "2", "normal"), "permission-request-created", map[string]string{"id": "req-1"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), msg))

	for _, c := range []*Client{floor, block} {
		select {
		case frame := <-c.Send:
			var got Message
			require.NoError(t, json.Unmarshal(frame, &got))
			assert.Equal(t, "permission-request-created", got.Event)
		default:
			t.Fatalf("client %s received nothing", c.ID)
		}
	}
	assert.Empty(t, other.Send)
}

func TestHubKeepsEmergencyEventsOffFloorConsoles(t *testing.T) {
	hub := NewHub(nil)
	floor := &Client{ID: "fi", Send: make(chan []byte, 1), Patterns: []string{ScopeKey("D-Block", "2", "normal")}}
	block := &Client{ID: "hi", Send: make(chan []byte, 1), Patterns: []string{ScopeBlockPattern("D-Block")}}
	hub.Register(floor)
	hub.Register(block)

	msg, err := NewMessage(ScopeKey("D-Block", "2", "emergency"), "permission-request-created", map[string]string{"id": "req-2"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), msg))

	assert.Empty(t, floor.Send)
	assert.Len(t, block.Send, 1)
}

func TestHubDropsWhenClientIsSlow(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{ID: "slow", Send: make(chan []byte, 1), Patterns: []string{"student:*"}}
	hub.Register(c)

	hub.Deliver("student:a", []byte("1"))
	hub.Deliver("student:a", []byte("2"))
	assert.Len(t, c.Send, 1)

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Equal(t, 0, hub.Len())
}
