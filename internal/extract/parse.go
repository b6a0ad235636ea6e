package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"standup-agent/internal/standup"
)

// Wire shapes for reasoning-service JSON. Statuses arrive as strings
// and go through ParseStatus — out-of-enum values are rejected, not
// coerced.

type wireItem struct {
	Item               string   `json:"item"`
	Status             string   `json:"status"`
	IdentifiedBlockers []string `json:"identified_blockers"`
	Bucket             string   `json:"bucket"`
}

type wireCreateFlat struct {
	PreferredStyle string     `json:"preferred_style"`
	Updates        []wireItem `json:"updates"`
}

type wireCreateSplit struct {
	PreferredStyle string `json:"preferred_style"`
	Updates        struct {
		Yesterday []wireItem `json:"yesterday"`
		Today     []wireItem `json:"today"`
	} `json:"updates"`
}

type wireEdit struct {
	PreferredStyle string     `json:"preferred_style"`
	Changes        []wireItem `json:"changes"`
}

// editDelta is the validated edit output.
type editDelta struct {
	PreferredStyle string
	Changes        []standup.ItemChange
}

// stripFences removes a markdown code fence if the model added one
// despite instructions.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseCreate validates the create-path response into an Extraction.
func parseCreate(raw string, splitDays bool) (*Extraction, error) {
	cleaned := stripFences(raw)

	if splitDays {
		var wire wireCreateSplit
		if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		yesterday, err := convertItems(wire.Updates.Yesterday, standup.BucketYesterday)
		if err != nil {
			return nil, err
		}
		today, err := convertItems(wire.Updates.Today, standup.BucketToday)
		if err != nil {
			return nil, err
		}
		return &Extraction{
			PreferredStyle: strings.TrimSpace(wire.PreferredStyle),
			Entries:        append(yesterday, today...),
		}, nil
	}

	var wire wireCreateFlat
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	entries, err := convertItems(wire.Updates, standup.BucketNone)
	if err != nil {
		return nil, err
	}
	return &Extraction{
		PreferredStyle: strings.TrimSpace(wire.PreferredStyle),
		Entries:        entries,
	}, nil
}

// parseEdit validates the edit-path response into a delta.
func parseEdit(raw string) (*editDelta, error) {
	var wire wireEdit
	if err := json.Unmarshal([]byte(stripFences(raw)), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	changes := make([]standup.ItemChange, 0, len(wire.Changes))
	for _, w := range wire.Changes {
		status, err := standup.ParseStatus(w.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: change %q: %v", ErrMalformed, w.Item, err)
		}
		bucket, err := parseBucket(w.Bucket)
		if err != nil {
			return nil, fmt.Errorf("%w: change %q: %v", ErrMalformed, w.Item, err)
		}
		if strings.TrimSpace(w.Item) == "" {
			return nil, fmt.Errorf("%w: change with empty item", ErrMalformed)
		}
		changes = append(changes, standup.ItemChange{
			Item:               w.Item,
			Status:             status,
			IdentifiedBlockers: w.IdentifiedBlockers,
			Bucket:             bucket,
		})
	}

	return &editDelta{
		PreferredStyle: strings.TrimSpace(wire.PreferredStyle),
		Changes:        changes,
	}, nil
}

// convertItems validates wire items into update items, forcing the
// given bucket.
func convertItems(items []wireItem, bucket standup.Bucket) ([]standup.UpdateItem, error) {
	out := make([]standup.UpdateItem, 0, len(items))
	for _, w := range items {
		status, err := standup.ParseStatus(w.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: item %q: %v", ErrMalformed, w.Item, err)
		}
		if strings.TrimSpace(w.Item) == "" {
			return nil, fmt.Errorf("%w: item with empty key", ErrMalformed)
		}
		blockers := w.IdentifiedBlockers
		if blockers == nil {
			blockers = []string{}
		}
		out = append(out, standup.UpdateItem{
			Item:               strings.TrimSpace(w.Item),
			Status:             status,
			IdentifiedBlockers: blockers,
			Bucket:             bucket,
		})
	}
	return out, nil
}

func parseBucket(s string) (standup.Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return standup.BucketNone, nil
	case "yesterday":
		return standup.BucketYesterday, nil
	case "today":
		return standup.BucketToday, nil
	default:
		return "", fmt.Errorf("invalid bucket %q", s)
	}
}
