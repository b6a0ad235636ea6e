package githublink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"
)

// Commit is one commit authored by the linked user.
type Commit struct {
	SHA     string
	Repo    string
	Message string
	URL     string
}

// PullRequest is one pull request authored by the linked user.
type PullRequest struct {
	Number int
	Title  string
	State  string
	URL    string
}

// Activity is what the user pushed and opened since a given instant.
type Activity struct {
	Commits      []Commit
	PullRequests []PullRequest
}

// Empty reports whether the window held no activity.
func (a *Activity) Empty() bool {
	return len(a.Commits) == 0 && len(a.PullRequests) == 0
}

// Summary renders the activity as plain lines for prompt context.
func (a *Activity) Summary() string {
	if a.Empty() {
		return ""
	}

	var b strings.Builder
	for _, c := range a.Commits {
		sha := c.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		fmt.Fprintf(&b, "commit %s in %s: %s\n", sha, c.Repo, firstLine(c.Message))
	}
	for _, pr := range a.PullRequests {
		fmt.Fprintf(&b, "pull request #%d (%s): %s\n", pr.Number, pr.State, pr.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Feed pulls a linked user's recent GitHub activity via the search API.
type Feed struct {
	store  *LinkStore
	logger *slog.Logger

	// apiBase overrides the GitHub API endpoint in tests.
	apiBase    string
	httpClient *http.Client
}

func NewFeed(store *LinkStore, httpClient *http.Client, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		store:      store,
		logger:     logger.With("component", "githublink"),
		httpClient: httpClient,
	}
}

// ActivitySince returns the user's commits and pull requests updated
// since the given instant. Returns ErrNotLinked when the user has no
// GitHub identity on file; callers degrade to no-activity content.
func (f *Feed) ActivitySince(ctx context.Context, userID string, since time.Time) (*Activity, error) {
	link, err := f.store.Get(userID)
	if err != nil {
		return nil, err
	}

	client := apiClient(f.httpClient, link.AccessToken, f.apiBase)
	stamp := since.UTC().Format("2006-01-02T15:04:05Z")
	opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: 30}}

	activity := &Activity{}

	commits, resp, err := client.Search.Commits(ctx,
		fmt.Sprintf("author:%s author-date:>%s", link.Username, stamp), opts)
	if err != nil {
		return nil, fmt.Errorf("search commits: %w", err)
	}
	f.checkRateLimit(resp)
	for _, c := range commits.Commits {
		activity.Commits = append(activity.Commits, Commit{
			SHA:     c.GetSHA(),
			Repo:    c.GetRepository().GetFullName(),
			Message: c.GetCommit().GetMessage(),
			URL:     c.GetHTMLURL(),
		})
	}

	prs, resp, err := client.Search.Issues(ctx,
		fmt.Sprintf("author:%s type:pr updated:>%s", link.Username, stamp), opts)
	if err != nil {
		return nil, fmt.Errorf("search pull requests: %w", err)
	}
	f.checkRateLimit(resp)
	for _, pr := range prs.Issues {
		activity.PullRequests = append(activity.PullRequests, PullRequest{
			Number: pr.GetNumber(),
			Title:  pr.GetTitle(),
			State:  pr.GetState(),
			URL:    pr.GetHTMLURL(),
		})
	}

	return activity, nil
}

// checkRateLimit logs a warning when remaining API calls drop below
// threshold.
func (f *Feed) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		f.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}
