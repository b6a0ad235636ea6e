// Package agent runs the turn loop: an inbound message is logged,
// the reconciliation policy picks the actions, the executor applies
// them against the update store, and the composed reply goes back out
// and into the log. Per (user, day) turns are serialized; different
// users never wait on each other.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"standup-agent/internal/compose"
	"standup-agent/internal/convlog"
	"standup-agent/internal/extract"
	"standup-agent/internal/githublink"
	"standup-agent/internal/llm"
	"standup-agent/internal/reconcile"
	"standup-agent/internal/standup"
	"standup-agent/internal/transport"
)

// Config carries the agent's collaborators.
type Config struct {
	Transport transport.Transport
	Policy    *reconcile.Policy
	Engine    *extract.Engine
	Composer  *compose.Composer
	Updates   *standup.Store
	ConvLog   *convlog.Store
	Feed      *githublink.Feed // nil disables activity context
	Location  *time.Location   // day-key timezone; nil means UTC
	Logger    *slog.Logger
}

// Agent is the standup conversation loop.
type Agent struct {
	transport transport.Transport
	policy    *reconcile.Policy
	engine    *extract.Engine
	composer  *compose.Composer
	updates   *standup.Store
	convlog   *convlog.Store
	feed      *githublink.Feed
	loc       *time.Location
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // (user, date) -> turn lock
}

// New creates the agent.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Agent{
		transport: cfg.Transport,
		policy:    cfg.Policy,
		engine:    cfg.Engine,
		composer:  cfg.Composer,
		updates:   cfg.Updates,
		convlog:   cfg.ConvLog,
		feed:      cfg.Feed,
		loc:       loc,
		logger:    logger.With("component", "agent"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Run consumes inbound events until the transport closes or ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.transport.Events():
			if !ok {
				return nil
			}
			go a.process(ctx, ev)
		}
	}
}

func (a *Agent) process(ctx context.Context, ev transport.Event) {
	reply, err := a.Turn(ctx, ev)
	if err != nil {
		a.logger.Error("turn failed", "user_id", ev.UserID, "error", err)
	}
	if reply == "" {
		return
	}
	if err := a.transport.Send(ctx, ev.ChannelID, reply); err != nil {
		a.logger.Error("send reply", "channel_id", ev.ChannelID, "error", err)
	}
}

// Turn executes one full turn for an inbound message and returns the
// reply text. The reply is already appended to the conversation log;
// the caller only delivers it. A non-nil error means the turn could not
// act on the message — the reply is then an apology, never a partial
// result.
func (a *Agent) Turn(ctx context.Context, ev transport.Event) (string, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	date := standup.DateKey(ev.Timestamp, a.loc)

	unlock := a.lockTurn(ev.UserID, date)
	defer unlock()

	inbound := &convlog.Message{
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
	}
	if err := a.convlog.Append(inbound); err != nil {
		return compose.Apology(), fmt.Errorf("log inbound: %w", err)
	}

	rec, err := a.updates.Get(ev.UserID, date)
	if errors.Is(err, standup.ErrNotFound) {
		rec = nil
	} else if err != nil {
		return compose.Apology(), fmt.Errorf("load record: %w", err)
	}

	actions, err := a.policy.Decide(ctx, reconcile.Input{
		Text:         ev.Text,
		RecordExists: rec != nil,
		RecordEmpty:  rec != nil && rec.Empty(),
		History:      a.history(ev.UserID, ev.ChannelID, reconcile.DecideWindow, inbound.ID),
	})
	if err != nil {
		// ReasoningUnavailable included: never downgrade to chat, and
		// never touch the store.
		reply := compose.Apology()
		a.logReply(ev, reply)
		return reply, err
	}

	var parts []string
	for _, action := range actions {
		part, turnErr := a.execute(ctx, ev, action, inbound.ID, &rec)
		if turnErr != nil {
			reply := compose.Apology()
			a.logReply(ev, reply)
			return reply, turnErr
		}
		if part != "" {
			parts = append(parts, part)
		}
	}

	reply := strings.Join(parts, "\n\n")
	a.logReply(ev, reply)
	return reply, nil
}

// execute applies one action. rec tracks the store state across actions
// within the turn, so a Clarify after a Create sees the fresh record.
// Recoverable extraction failures downgrade to a clarifying question;
// only reasoning outages and store failures escape as errors.
func (a *Agent) execute(ctx context.Context, ev transport.Event, action reconcile.Action, inboundID string, rec **standup.UpdateRecord) (string, error) {
	date := standup.DateKey(ev.Timestamp, a.loc)

	switch action.Kind {
	case reconcile.KindCreate:
		ext, err := a.engine.Create(ctx, ev.Text, a.history(ev.UserID, ev.ChannelID, extract.CreateWindow, inboundID))
		if errors.Is(err, extract.ErrMalformed) {
			a.logger.Warn("create extraction malformed, clarifying", "user_id", ev.UserID)
			return a.composer.Clarify(ctx, "the last message could not be turned into a structured update", a.history(ev.UserID, ev.ChannelID, reconcile.ClarifyWindow, inboundID)), nil
		}
		if err != nil {
			return "", fmt.Errorf("create: %w", err)
		}

		next := &standup.UpdateRecord{
			UserID:         ev.UserID,
			Date:           date,
			PreferredStyle: ext.PreferredStyle,
			Entries:        ext.Entries,
		}
		if *rec != nil {
			next.CreatedAt = (*rec).CreatedAt
		}
		if err := a.updates.Upsert(next); err != nil {
			return "", fmt.Errorf("store create: %w", err)
		}
		created := *rec == nil
		*rec = next
		return compose.Confirm(next, created), nil

	case reconcile.KindEdit:
		if *rec == nil {
			// Lost a race with the guardrail's view of the store; ask
			// rather than fail.
			return a.composer.Clarify(ctx, "there is no update for today yet to edit", a.history(ev.UserID, ev.ChannelID, reconcile.ClarifyWindow, inboundID)), nil
		}

		expected := (*rec).UpdateTime
		merged, err := a.engine.Edit(ctx, *rec, ev.Text, a.history(ev.UserID, ev.ChannelID, extract.EditWindow, inboundID))
		switch {
		case errors.Is(err, standup.ErrAmbiguousMatch):
			a.logger.Warn("ambiguous edit, clarifying", "user_id", ev.UserID, "error", err)
			return a.composer.Clarify(ctx, err.Error(), a.history(ev.UserID, ev.ChannelID, reconcile.ClarifyWindow, inboundID)), nil
		case errors.Is(err, extract.ErrMalformed):
			a.logger.Warn("edit extraction malformed, clarifying", "user_id", ev.UserID)
			return a.composer.Clarify(ctx, "the last message could not be applied to the update", a.history(ev.UserID, ev.ChannelID, reconcile.ClarifyWindow, inboundID)), nil
		case err != nil:
			return "", fmt.Errorf("edit: %w", err)
		}

		if err := a.updates.UpsertIf(merged, expected); err != nil {
			return "", fmt.Errorf("store edit: %w", err)
		}
		*rec = merged
		return compose.Confirm(merged, false), nil

	case reconcile.KindClarify:
		hint := ""
		if *rec != nil && (*rec).Empty() {
			hint = "the update has no entries for today yet; ask for today's plan"
		}
		return a.composer.Clarify(ctx, hint, a.history(ev.UserID, ev.ChannelID, reconcile.ClarifyWindow, inboundID)), nil

	case reconcile.KindChat:
		return a.composer.Chat(ctx, a.history(ev.UserID, ev.ChannelID, reconcile.DecideWindow, inboundID)), nil

	default:
		return "", fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// history returns the recent conversation window as reasoning messages,
// excluding the just-logged inbound message by id (it travels
// separately). Position is not enough: a delayed event timestamp can
// sort the inbound before an already-logged reply.
func (a *Agent) history(userID, channelID string, window int, excludeID string) []llm.Message {
	msgs, err := a.convlog.Recent(userID, channelID, window+1, time.Time{})
	if err != nil {
		a.logger.Warn("load history", "user_id", userID, "error", err)
		return nil
	}

	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == excludeID {
			continue
		}
		role := llm.RoleUser
		if m.IsBot {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

func (a *Agent) logReply(ev transport.Event, reply string) {
	if reply == "" {
		return
	}
	if err := a.convlog.Append(&convlog.Message{
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		Text:      reply,
		IsBot:     true,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		a.logger.Error("log reply", "user_id", ev.UserID, "error", err)
	}
}

// lockTurn serializes turns per (user, day). Rapid double-sends from
// one user queue behind each other; other users are unaffected.
func (a *Agent) lockTurn(userID, date string) func() {
	key := userID + "\x00" + date

	a.mu.Lock()
	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
