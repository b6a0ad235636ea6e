package extract

import (
	"encoding/json"
	"fmt"

	"standup-agent/internal/standup"
)

// Prompts for the create and edit paths. The response schemas here are
// load-bearing: parse.go rejects anything that deviates.

const createPromptFlat = `You are a project manager that listens to standup updates from developers and extracts their key insights.

Your goal is to take what developers are saying and extract all task updates.

Rules:
1. Identify the ticket number, PR reference, or task name and its status. The status must be one of NOT_STARTED, IN_PROGRESS, IN_REVIEW, BLOCKED, REJECTED, COMPLETED. Use your best judgment to determine the status.
2. If a task is blocked, record each stated reason in identified_blockers.
3. Identify the user's writing style and summarize it in one or two words (e.g. Paragraph, Bullet points).
4. Use the conversation history to piece together the update, but do not make up tasks the user never mentioned.
5. List every task at most once.
6. Respond with valid JSON only, no code fences, in this structure:
{"preferred_style": "Paragraph", "updates": [{"item": "task-1", "status": "IN_PROGRESS", "identified_blockers": []}, {"item": "task-2", "status": "BLOCKED", "identified_blockers": ["waiting on team-1"]}]}`

const createPromptSplit = `You are a project manager that listens to standup updates from developers and extracts their key insights.

Your goal is to take what developers are saying and extract all task updates, split between the previous day and the current day.

Rules:
1. Identify the ticket number, PR reference, or task name and its status. The status must be one of NOT_STARTED, IN_PROGRESS, IN_REVIEW, BLOCKED, REJECTED, COMPLETED. Use your best judgment to determine the status.
2. If a task is blocked, record each stated reason in identified_blockers.
3. Identify the user's writing style and summarize it in one or two words (e.g. Paragraph, Bullet points).
4. If an update applies to the previous day, put it under "yesterday"; if it applies to the current day, put it under "today". Use an empty array when a day has no updates.
5. Use the conversation history to piece together the update, but do not make up tasks the user never mentioned.
6. List every task at most once per day.
7. Respond with valid JSON only, no code fences, in this structure:
{"preferred_style": "Paragraph", "updates": {"yesterday": [{"item": "task-1", "status": "IN_REVIEW", "identified_blockers": []}], "today": [{"item": "task-2", "status": "IN_PROGRESS", "identified_blockers": []}]}}`

const editPromptHeader = `You are a project manager that listens to standup updates from developers and makes edits to their existing update.

Your goal is to express what the developer just said as a minimal set of changes to the update below.

Rules:
1. Only list tasks the user actually mentioned. Tasks you do not list stay exactly as they are — never restate unchanged tasks.
2. New tasks the user mentions become changes too; they will be appended.
3. The status must be one of NOT_STARTED, IN_PROGRESS, IN_REVIEW, BLOCKED, REJECTED, COMPLETED.
4. identified_blockers is the complete new blocker list for that task; an unblocked task gets an empty array.
5. If you notice a change in the user's preferred writing style, set preferred_style; otherwise leave it empty.
6. Do not make up any information or tasks.
7. Respond with valid JSON only, no code fences, in this structure:
{"preferred_style": "", "changes": [{"item": "task-1", "status": "COMPLETED", "identified_blockers": []}]}`

const editPromptBuckets = `
8. Each change may carry a "bucket" of "yesterday" or "today" matching where the task belongs; include it when the update is day-specific.`

// editPrompt renders the edit system prompt with the current record
// inlined, so the model resolves references against real entries.
func editPrompt(rec *standup.UpdateRecord, splitDays bool) string {
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		entries = []byte("[]")
	}

	prompt := editPromptHeader
	if splitDays {
		prompt += editPromptBuckets
	}
	return fmt.Sprintf("%s\n\nHere is the current standup update you are editing:\n%s", prompt, entries)
}
