// Package llm provides the reasoning-service client used for extraction,
// reconciliation, and response composition. Output from the service is
// untrusted text — callers validate it against their own schemas before
// acting on it.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the reasoning service could not be reached or
// did not answer within its bounded timeout and retry budget. Callers
// must surface this — a missed extraction is not a chat turn.
var ErrUnavailable = errors.New("reasoning service unavailable")

// Client is the interface the reconciliation core uses to reach the
// reasoning service.
type Client interface {
	// Invoke sends a system instruction plus conversation history and
	// returns the assistant's text reply.
	Invoke(ctx context.Context, system string, history []Message) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
