package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"standup-agent/internal/compose"
	"standup-agent/internal/convlog"
	"standup-agent/internal/githublink"
	"standup-agent/internal/standup"
)

// RunMorningPrompts sends the daily kickoff to every member of the
// notification group. One member failing does not stop the rest.
func (a *Agent) RunMorningPrompts(ctx context.Context, groupID string) error {
	members, err := a.transport.ListGroupMembers(ctx, groupID)
	if err != nil {
		return fmt.Errorf("list group members: %w", err)
	}

	var errs []error
	for _, userID := range members {
		if err := a.MorningPrompt(ctx, userID); err != nil {
			a.logger.Error("morning prompt failed", "user_id", userID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

// MorningPrompt opens the user's DM and posts the day's kickoff,
// seeded with yesterday's record and recent code activity when
// available. An unlinked GitHub identity degrades to a plain prompt.
func (a *Agent) MorningPrompt(ctx context.Context, userID string) error {
	channelID, err := a.transport.OpenDM(ctx, userID)
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}

	now := time.Now()
	yesterday := standup.DateKey(now.AddDate(0, 0, -1), a.loc)

	priorSummary := ""
	prior, err := a.updates.Get(userID, yesterday)
	if err == nil && !prior.Empty() {
		priorSummary = compose.FormatRecord(prior)
	} else if err != nil && !errors.Is(err, standup.ErrNotFound) {
		return fmt.Errorf("load prior record: %w", err)
	}

	activitySummary := ""
	if a.feed != nil {
		activity, err := a.feed.ActivitySince(ctx, userID, now.Add(-24*time.Hour))
		switch {
		case errors.Is(err, githublink.ErrNotLinked):
			a.logger.Debug("no github link, plain prompt", "user_id", userID)
		case err != nil:
			a.logger.Warn("activity feed unavailable", "user_id", userID, "error", err)
		default:
			activitySummary = activity.Summary()
		}
	}

	msg := a.composer.Morning(ctx, priorSummary, activitySummary)
	if err := a.transport.Send(ctx, channelID, msg); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	if err := a.convlog.Append(&convlog.Message{
		UserID:    userID,
		ChannelID: channelID,
		Text:      msg,
		IsBot:     true,
		Timestamp: now.UTC(),
	}); err != nil {
		a.logger.Error("log morning prompt", "user_id", userID, "error", err)
	}

	a.logger.Info("morning prompt sent", "user_id", userID, "channel_id", channelID)
	return nil
}
