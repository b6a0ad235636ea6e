// Package transport delivers chat messages in and out of the agent.
// The Transport interface is what the core consumes; the Slack
// implementation speaks Socket Mode for inbound events and the Web API
// for everything outbound.
package transport

import (
	"context"
	"time"
)

// Event is one inbound user message.
type Event struct {
	UserID    string
	ChannelID string
	Text      string
	Timestamp time.Time
}

// Transport is the chat surface the agent runs on.
type Transport interface {
	// Run connects and delivers inbound events until ctx is canceled.
	Run(ctx context.Context) error

	// Events is the inbound message stream. Closed when Run returns.
	Events() <-chan Event

	// Send posts text to a channel now.
	Send(ctx context.Context, channelID, text string) error

	// SendAt schedules text for a future instant.
	SendAt(ctx context.Context, channelID, text string, at time.Time) error

	// OpenDM opens (or reuses) a direct-message channel with a user and
	// returns its channel id.
	OpenDM(ctx context.Context, userID string) (string, error)

	// ListGroupMembers returns the user ids in a notification group.
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)
}
