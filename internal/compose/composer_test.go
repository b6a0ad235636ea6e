package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"standup-agent/internal/llm"
	"standup-agent/internal/standup"
)

type fakeClient struct {
	response   string
	err        error
	lastSystem string
}

func (f *fakeClient) Invoke(ctx context.Context, system string, history []llm.Message) (string, error) {
	f.lastSystem = system
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func TestFormatRecord_Bullets(t *testing.T) {
	rec := &standup.UpdateRecord{
		PreferredStyle: "Bullet points",
		Entries: []standup.UpdateItem{
			{Item: "task-1", Status: standup.StatusInProgress},
			{Item: "task-2", Status: standup.StatusBlocked, IdentifiedBlockers: []string{"team-1"}},
		},
	}

	got := FormatRecord(rec)
	if !strings.Contains(got, "• task-1 — in progress") {
		t.Errorf("missing task-1 bullet:\n%s", got)
	}
	if !strings.Contains(got, "*blocked* on team-1") {
		t.Errorf("blocked item not highlighted with blockers:\n%s", got)
	}
}

func TestFormatRecord_Paragraph(t *testing.T) {
	rec := &standup.UpdateRecord{
		PreferredStyle: "Paragraph",
		Entries: []standup.UpdateItem{
			{Item: "task-1", Status: standup.StatusCompleted},
			{Item: "task-2", Status: standup.StatusInReview},
		},
	}

	got := FormatRecord(rec)
	if strings.Contains(got, "•") {
		t.Errorf("paragraph style produced bullets:\n%s", got)
	}
	if !strings.Contains(got, "task-1 is completed.") || !strings.Contains(got, "task-2 is in review.") {
		t.Errorf("missing sentences:\n%s", got)
	}
}

func TestFormatRecord_BucketGrouping(t *testing.T) {
	rec := &standup.UpdateRecord{
		Entries: []standup.UpdateItem{
			{Item: "task-1", Status: standup.StatusInReview, Bucket: standup.BucketYesterday},
			{Item: "task-2", Status: standup.StatusInProgress, Bucket: standup.BucketToday},
		},
	}

	got := FormatRecord(rec)
	yIdx := strings.Index(got, "*Yesterday:*")
	tIdx := strings.Index(got, "*Today:*")
	if yIdx < 0 || tIdx < 0 {
		t.Fatalf("missing bucket headers:\n%s", got)
	}
	if yIdx > tIdx {
		t.Errorf("yesterday after today:\n%s", got)
	}
}

func TestFormatRecord_OnlyRecordItems(t *testing.T) {
	rec := &standup.UpdateRecord{
		Entries: []standup.UpdateItem{
			{Item: "task-1", Status: standup.StatusInProgress},
		},
	}

	got := FormatRecord(rec)
	for _, line := range strings.Split(got, "\n") {
		if line == "" {
			continue
		}
		if !strings.Contains(line, "task-1") {
			t.Errorf("line mentions nothing from the record: %q", line)
		}
	}
}

func TestFormatRecord_Empty(t *testing.T) {
	if got := FormatRecord(&standup.UpdateRecord{}); !strings.Contains(got, "no entries") {
		t.Errorf("empty record rendered as %q", got)
	}
	if got := FormatRecord(nil); !strings.Contains(got, "no entries") {
		t.Errorf("nil record rendered as %q", got)
	}
}

func TestConfirm_LeadInVariants(t *testing.T) {
	rec := &standup.UpdateRecord{
		Entries: []standup.UpdateItem{{Item: "task-1", Status: standup.StatusInProgress}},
	}

	created := Confirm(rec, true)
	edited := Confirm(rec, false)
	if created == edited {
		t.Error("create and edit confirmations are identical")
	}
	if !strings.Contains(created, "task-1") || !strings.Contains(edited, "task-1") {
		t.Error("confirmation missing record content")
	}
}

func TestClarify_UsesModelReply(t *testing.T) {
	fake := &fakeClient{response: "Which task is blocked?"}
	c := NewComposer(fake, nil)

	got := c.Clarify(context.Background(), "", nil)
	if got != "Which task is blocked?" {
		t.Errorf("got %q", got)
	}
}

func TestClarify_HintReachesPrompt(t *testing.T) {
	fake := &fakeClient{response: "What's the plan for today?"}
	c := NewComposer(fake, nil)

	c.Clarify(context.Background(), "the update has no entries for today yet", nil)
	if !strings.Contains(fake.lastSystem, "no entries for today yet") {
		t.Errorf("hint missing from system prompt: %q", fake.lastSystem)
	}
}

func TestClarify_FallbackOnError(t *testing.T) {
	fake := &fakeClient{err: errors.New("boom")}
	c := NewComposer(fake, nil)

	got := c.Clarify(context.Background(), "", nil)
	if got != fallbackClarify {
		t.Errorf("got %q, want fixed fallback", got)
	}
}

func TestChat_FallbackOnBlankReply(t *testing.T) {
	fake := &fakeClient{response: "   \n"}
	c := NewComposer(fake, nil)

	got := c.Chat(context.Background(), nil)
	if got != fallbackChat {
		t.Errorf("got %q, want fixed fallback", got)
	}
}

func TestMorning_ContextReachesPrompt(t *testing.T) {
	fake := &fakeClient{response: "Morning! How's task-2 going?"}
	c := NewComposer(fake, nil)

	c.Morning(context.Background(), "task-2 is blocked on team-1", "3 commits to repo-x")
	if !strings.Contains(fake.lastSystem, "task-2 is blocked on team-1") {
		t.Error("prior summary missing from system prompt")
	}
	if !strings.Contains(fake.lastSystem, "3 commits to repo-x") {
		t.Error("activity summary missing from system prompt")
	}
}

func TestMorning_FallbackOnError(t *testing.T) {
	fake := &fakeClient{err: errors.New("down")}
	c := NewComposer(fake, nil)

	got := c.Morning(context.Background(), "", "")
	if got != fallbackMorning {
		t.Errorf("got %q, want fixed fallback", got)
	}
}
