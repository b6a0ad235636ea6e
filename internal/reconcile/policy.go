// Package reconcile decides what a turn does with an inbound message:
// create a fresh standup update, edit the existing one, ask a
// clarifying question, or just chat. The decision is a reasoning-service
// call whose output is validated against a closed action set — an
// unknown action name is a defect in the model output, never a new
// behavior.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"standup-agent/internal/llm"
)

// ErrReasoningUnavailable indicates the decision could not be evaluated
// because the reasoning service is down. Callers must surface it and
// abort the turn — silently treating the message as chat would hide a
// missed create or edit.
var ErrReasoningUnavailable = errors.New("reconciliation reasoning unavailable")

// Kind is the closed set of turn actions.
type Kind string

const (
	KindCreate  Kind = "create"
	KindEdit    Kind = "edit"
	KindClarify Kind = "clarify"
	KindChat    Kind = "chat"
)

// Action is one step of a turn. Reason is the model's short rationale,
// kept for logging only.
type Action struct {
	Kind   Kind
	Reason string
}

// Conversation window sizes for the decision and clarify paths.
// Tunables, not hard constants.
const (
	DecideWindow  = 8
	ClarifyWindow = 6
)

// maxActions bounds a single turn. Anything past this is model
// rambling, not a real plan.
const maxActions = 3

// Input is the decision context for one inbound message.
type Input struct {
	Text         string
	RecordExists bool
	RecordEmpty  bool // exists with no entries (carryover accepted, today missing)
	History      []llm.Message
}

// Policy selects the action sequence for a turn.
type Policy struct {
	client llm.Client
	logger *slog.Logger
}

func NewPolicy(client llm.Client, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		client: client,
		logger: logger.With("component", "reconcile"),
	}
}

const decidePrompt = `You are a project manager deciding how to handle a message a developer just sent in a standup conversation.

Pick one or more of these actions, in order:
- "create": the developer has no standup update for today and the message (plus recent history) names at least one task together with a status signal.
- "edit": the developer already has an update for today and the message refers to its items or adds new tasks with status signals.
- "clarify": the message does not carry enough to act on — ask a clarifying question. In particular, if the developer accepted yesterday's carryover but has an empty update for today, ask for today's plan.
- "chat": the message has no task or status content and nothing is pending — respond conversationally, change nothing.

Most turns need exactly one action. Emit more than one only when the message genuinely warrants it, for example confirming yesterday's tasks (create) while omitting today's plan (clarify).

Respond with valid JSON only, no code fences, in this structure:
{"actions": [{"action": "create", "reason": "names task-1 with a status"}]}`

type wireDecision struct {
	Actions []struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	} `json:"actions"`
}

// Decide returns the ordered action sequence for the turn. Reasoning
// outages surface as ErrReasoningUnavailable; structurally bad model
// output degrades to a single Clarify action, which is always safe (no
// store write).
func (p *Policy) Decide(ctx context.Context, in Input) ([]Action, error) {
	system := decidePrompt + "\n\n" + recordStateLine(in)

	raw, err := p.client.Invoke(ctx, system, append(in.History, llm.Message{Role: llm.RoleUser, Content: in.Text}))
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrReasoningUnavailable, err)
		}
		return nil, fmt.Errorf("decide: %w", err)
	}

	actions, err := parseDecision(raw)
	if err != nil {
		p.logger.Warn("decision output rejected, falling back to clarify", "error", err)
		return []Action{{Kind: KindClarify, Reason: "decision output rejected"}}, nil
	}
	if len(actions) == 0 {
		p.logger.Warn("empty decision, falling back to chat")
		return []Action{{Kind: KindChat, Reason: "empty decision"}}, nil
	}
	if len(actions) > maxActions {
		p.logger.Warn("decision truncated", "requested", len(actions), "kept", maxActions)
		actions = actions[:maxActions]
	}

	return p.applyGuardrails(actions, in), nil
}

// applyGuardrails corrects decisions that contradict the store state:
// an edit with nothing to edit becomes a create, and a create on top of
// a populated record becomes an edit. The model reasons about content;
// record existence is ground truth we hold.
func (p *Policy) applyGuardrails(actions []Action, in Input) []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	for i, a := range out {
		switch {
		case a.Kind == KindEdit && !in.RecordExists:
			p.logger.Debug("redirecting edit to create, no record exists")
			out[i].Kind = KindCreate
		case a.Kind == KindCreate && in.RecordExists && !in.RecordEmpty:
			p.logger.Debug("redirecting create to edit, record already populated")
			out[i].Kind = KindEdit
		}
	}
	return out
}

func recordStateLine(in Input) string {
	switch {
	case !in.RecordExists:
		return "Current state: the developer has no standup update for today."
	case in.RecordEmpty:
		return "Current state: the developer has a standup update for today, but it has no entries yet."
	default:
		return "Current state: the developer already has a populated standup update for today."
	}
}

func parseDecision(raw string) ([]Action, error) {
	var wire wireDecision
	if err := json.Unmarshal([]byte(stripFences(raw)), &wire); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}

	actions := make([]Action, 0, len(wire.Actions))
	for _, w := range wire.Actions {
		kind, err := parseKind(w.Action)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{Kind: kind, Reason: strings.TrimSpace(w.Reason)})
	}
	return actions, nil
}

func parseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCreate:
		return KindCreate, nil
	case KindEdit:
		return KindEdit, nil
	case KindClarify:
		return KindClarify, nil
	case KindChat:
		return KindChat, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
