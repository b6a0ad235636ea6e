// Package extract turns free-form standup text into the structured
// update shape via the reasoning service. The service's output is
// untrusted: everything is schema-validated here before a caller is
// allowed to persist it, and edits are applied through the
// non-destructive merge rather than trusting the model with a full
// rewrite.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"standup-agent/internal/llm"
	"standup-agent/internal/standup"
)

// ErrMalformed indicates the reasoning output failed schema validation.
// Nothing malformed is ever persisted; callers fall back to a
// clarifying question.
var ErrMalformed = errors.New("malformed extraction output")

// Conversation window sizes per path. Creation needs only the prompt
// and the reply; editing benefits from a little more context. Tunables,
// not hard constants.
const (
	CreateWindow = 2
	EditWindow   = 4
)

// Extraction is the result of the create path.
type Extraction struct {
	PreferredStyle string
	Entries        []standup.UpdateItem
}

// Engine drives the create and edit extraction paths.
type Engine struct {
	client    llm.Client
	logger    *slog.Logger
	splitDays bool
}

// NewEngine creates an extraction engine. splitDays selects the
// yesterday/today bucketed record shape; flat is the default.
func NewEngine(client llm.Client, splitDays bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:    client,
		logger:    logger.With("component", "extract"),
		splitDays: splitDays,
	}
}

// Create extracts a full entries structure plus preferred style from
// free text and a short history window. The engine never invents tasks:
// the prompt forbids it and the schema check rejects out-of-enum
// statuses, but task fabrication itself is a model obligation.
func (e *Engine) Create(ctx context.Context, text string, history []llm.Message) (*Extraction, error) {
	system := createPromptFlat
	if e.splitDays {
		system = createPromptSplit
	}

	raw, err := e.client.Invoke(ctx, system, append(history, llm.Message{Role: llm.RoleUser, Content: text}))
	if err != nil {
		return nil, fmt.Errorf("create extraction: %w", err)
	}

	e.logger.Debug("create extraction response", "len", len(raw))

	ext, err := parseCreate(raw, e.splitDays)
	if err != nil {
		e.logger.Warn("create extraction rejected", "error", err)
		return nil, err
	}

	e.warnAdvisory(ext.Entries)
	return ext, nil
}

// Edit applies the user's free-text delta to the current record and
// returns the merged result. Only mentioned items change; everything
// else is carried over untouched. An ambiguous item reference surfaces
// as standup.ErrAmbiguousMatch for the caller to turn into a
// clarifying question.
func (e *Engine) Edit(ctx context.Context, rec *standup.UpdateRecord, text string, history []llm.Message) (*standup.UpdateRecord, error) {
	if rec == nil {
		return nil, standup.ErrNotFound
	}

	system := editPrompt(rec, e.splitDays)

	raw, err := e.client.Invoke(ctx, system, append(history, llm.Message{Role: llm.RoleUser, Content: text}))
	if err != nil {
		return nil, fmt.Errorf("edit extraction: %w", err)
	}

	e.logger.Debug("edit extraction response", "len", len(raw))

	delta, err := parseEdit(raw)
	if err != nil {
		e.logger.Warn("edit extraction rejected", "error", err)
		return nil, err
	}

	merged, err := standup.Merge(rec.CloneEntries(), delta.Changes)
	if err != nil {
		return nil, err
	}

	out := &standup.UpdateRecord{
		UserID:         rec.UserID,
		Date:           rec.Date,
		PreferredStyle: rec.PreferredStyle,
		Entries:        merged,
		CreatedAt:      rec.CreatedAt,
		UpdateTime:     rec.UpdateTime,
	}
	// A detected style change rides along with the delta and takes
	// effect on the next composed message.
	if delta.PreferredStyle != "" {
		out.PreferredStyle = delta.PreferredStyle
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	e.warnAdvisory(out.Entries)
	return out, nil
}

// warnAdvisory logs the blocked-without-blockers condition. It is
// tolerated in the schema, but worth surfacing.
func (e *Engine) warnAdvisory(entries []standup.UpdateItem) {
	for _, item := range entries {
		if item.Status == standup.StatusBlocked && len(item.IdentifiedBlockers) == 0 {
			e.logger.Warn("blocked item without recorded blockers", "item", item.Item)
		}
	}
}
