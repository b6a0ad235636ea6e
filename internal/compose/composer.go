// Package compose renders turn outcomes as user-facing chat text.
// Record formatting is deterministic — the composer only ever prints
// what the record holds, so a reply can never claim a task the store
// does not. Clarifying questions and small talk go through the
// reasoning service, with fixed fallbacks when it is unreachable.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"standup-agent/internal/llm"
	"standup-agent/internal/standup"
)

// Fixed fallbacks for when the reasoning service cannot produce a
// conversational reply. A canned question is still a correct turn; a
// dropped one is not.
const (
	fallbackClarify = "Could you tell me a bit more? For each task, let me know what it is and where it stands."
	fallbackChat    = "I'm here to take your standup update — tell me what you're working on whenever you're ready."
	fallbackMorning = "Good morning! Please reply with your standup update for today."
	fallbackApology = "Sorry, something went wrong on my end and I couldn't process that. Your update was not changed — please try again in a moment."
)

const clarifyPrompt = `You are a friendly project manager collecting standup updates from developers.

The developer's last message did not give you enough to record or change their update. Ask one short, specific clarifying question that gets you what is missing. Do not invent tasks or statuses. Respond with the question text only.`

const chatPrompt = `You are a friendly project manager collecting standup updates from developers.

The developer's last message is conversational, not a status update. Reply briefly and warmly, and if natural, remind them you are around to take their standup update. Respond with the reply text only.`

const morningPrompt = `You are a friendly project manager kicking off the day with a developer.

Write a short good-morning message asking for their standup update. Use the context below to make it personal: mention unfinished or blocked tasks from their previous update and any recent code activity, and ask how those are going. Do not invent tasks or activity that is not in the context. Respond with the message text only.`

// Composer renders replies for every action kind.
type Composer struct {
	client llm.Client
	logger *slog.Logger
}

func NewComposer(client llm.Client, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		client: client,
		logger: logger.With("component", "compose"),
	}
}

// Confirm renders the reply after a create or edit: a fixed lead-in
// plus the formatted record.
func Confirm(rec *standup.UpdateRecord, created bool) string {
	lead := "I've updated your standup update for today:"
	if created {
		lead = "Got it! Here's your standup update for today:"
	}
	return lead + "\n" + FormatRecord(rec)
}

// Clarify produces a clarifying question. hint, when non-empty, steers
// the question (e.g. "the update has no entries for today yet").
func (c *Composer) Clarify(ctx context.Context, hint string, history []llm.Message) string {
	system := clarifyPrompt
	if hint != "" {
		system += "\n\nContext: " + hint
	}
	return c.invoke(ctx, system, history, fallbackClarify)
}

// Chat produces a conversational reply with no record content.
func (c *Composer) Chat(ctx context.Context, history []llm.Message) string {
	return c.invoke(ctx, chatPrompt, history, fallbackChat)
}

// Morning produces the daily kickoff message. priorSummary and
// activitySummary are preformatted context blocks; either may be empty.
func (c *Composer) Morning(ctx context.Context, priorSummary, activitySummary string) string {
	var b strings.Builder
	b.WriteString(morningPrompt)
	if priorSummary != "" {
		b.WriteString("\n\nPrevious update:\n")
		b.WriteString(priorSummary)
	}
	if activitySummary != "" {
		b.WriteString("\n\nRecent code activity:\n")
		b.WriteString(activitySummary)
	}
	history := []llm.Message{{Role: llm.RoleUser, Content: "Good morning!"}}
	return c.invoke(ctx, b.String(), history, fallbackMorning)
}

// Apology is the reply for a turn that failed and could not be
// downgraded to a clarifying question. Content-free on purpose.
func Apology() string {
	return fallbackApology
}

func (c *Composer) invoke(ctx context.Context, system string, history []llm.Message, fallback string) string {
	text, err := c.client.Invoke(ctx, system, history)
	if err != nil {
		c.logger.Warn("compose invoke failed, using fallback", "error", err)
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}

// FormatRecord renders a record in the user's preferred style.
// Paragraph style produces prose sentences; anything else gets a
// bullet list. Blocked items are bolded with their blockers spelled
// out, and entries are grouped by bucket when buckets are in use.
func FormatRecord(rec *standup.UpdateRecord) string {
	if rec == nil || rec.Empty() {
		return "_(no entries yet)_"
	}

	paragraph := strings.Contains(strings.ToLower(rec.PreferredStyle), "paragraph")

	none, yesterday, today := splitBuckets(rec.Entries)
	if len(yesterday) == 0 && len(today) == 0 {
		return formatGroup(none, paragraph)
	}

	var parts []string
	if len(none) > 0 {
		parts = append(parts, formatGroup(none, paragraph))
	}
	if len(yesterday) > 0 {
		parts = append(parts, "*Yesterday:*\n"+formatGroup(yesterday, paragraph))
	}
	if len(today) > 0 {
		parts = append(parts, "*Today:*\n"+formatGroup(today, paragraph))
	}
	return strings.Join(parts, "\n")
}

func splitBuckets(entries []standup.UpdateItem) (none, yesterday, today []standup.UpdateItem) {
	for _, e := range entries {
		switch e.Bucket {
		case standup.BucketYesterday:
			yesterday = append(yesterday, e)
		case standup.BucketToday:
			today = append(today, e)
		default:
			none = append(none, e)
		}
	}
	return none, yesterday, today
}

func formatGroup(entries []standup.UpdateItem, paragraph bool) string {
	lines := make([]string, 0, len(entries))
	if paragraph {
		for _, e := range entries {
			lines = append(lines, formatSentence(e))
		}
		return strings.Join(lines, " ")
	}
	for _, e := range entries {
		lines = append(lines, "• "+formatBullet(e))
	}
	return strings.Join(lines, "\n")
}

func formatBullet(e standup.UpdateItem) string {
	if e.Status == standup.StatusBlocked {
		s := fmt.Sprintf("%s — *blocked*", e.Item)
		if len(e.IdentifiedBlockers) > 0 {
			s += " on " + strings.Join(e.IdentifiedBlockers, ", ")
		}
		return s
	}
	return fmt.Sprintf("%s — %s", e.Item, statusLabel(e.Status))
}

func formatSentence(e standup.UpdateItem) string {
	if e.Status == standup.StatusBlocked {
		s := fmt.Sprintf("%s is *blocked*", e.Item)
		if len(e.IdentifiedBlockers) > 0 {
			s += " on " + strings.Join(e.IdentifiedBlockers, ", ")
		}
		return s + "."
	}
	return fmt.Sprintf("%s is %s.", e.Item, statusLabel(e.Status))
}

func statusLabel(s standup.Status) string {
	switch s {
	case standup.StatusNotStarted:
		return "not started"
	case standup.StatusInProgress:
		return "in progress"
	case standup.StatusInReview:
		return "in review"
	case standup.StatusBlocked:
		return "blocked"
	case standup.StatusRejected:
		return "rejected"
	case standup.StatusCompleted:
		return "completed"
	default:
		return string(s)
	}
}
