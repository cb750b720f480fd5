// Package github wraps the gh CLI for the issue operations the sync
// daemon needs: listing open issues and commenting, closing and assigning.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/colonyops/hivesync/pkg/executil"
)

// ErrMalformed is returned for an issue record that cannot be decoded.
var ErrMalformed = errors.New("malformed issue")

// Issue is an open issue as reported by gh.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Assignees []string
	UpdatedAt time.Time
}

// Client runs gh commands through an executor.
type Client struct {
	exec executil.Executor
	bin  string
	repo string
}

// New creates a Client. bin defaults to "gh"; an empty repo lets gh infer
// the repository from the working directory.
func New(exec executil.Executor, bin, repo string) *Client {
	if bin == "" {
		bin = "gh"
	}
	return &Client{exec: exec, bin: bin, repo: repo}
}

func (c *Client) args(args ...string) []string {
	if c.repo != "" {
		args = append(args, "--repo", c.repo)
	}
	return args
}

type ghIssue struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListIssues returns up to limit open issues. Records that fail to decode
// are returned in skipped rather than failing the whole listing.
func (c *Client) ListIssues(ctx context.Context, limit int) (issues []Issue, skipped []error, err error) {
	if limit <= 0 {
		limit = 50
	}

	out, err := c.exec.Run(ctx, c.bin, c.args(
		"issue", "list",
		"--state", "open",
		"--limit", strconv.Itoa(limit),
		"--json", "number,title,body,assignees,state,updatedAt",
	)...)
	if err != nil {
		return nil, nil, fmt.Errorf("gh issue list: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, nil, fmt.Errorf("gh issue list: decode: %w", err)
	}

	issues = make([]Issue, 0, len(raw))
	for i, r := range raw {
		var gi ghIssue
		if err := json.Unmarshal(r, &gi); err != nil {
			skipped = append(skipped, fmt.Errorf("%w: record %d: %w", ErrMalformed, i, err))
			continue
		}
		if gi.Number <= 0 {
			skipped = append(skipped, fmt.Errorf("%w: record %d: missing number", ErrMalformed, i))
			continue
		}

		iss := Issue{
			Number:    gi.Number,
			Title:     gi.Title,
			Body:      gi.Body,
			State:     gi.State,
			UpdatedAt: gi.UpdatedAt,
		}
		for _, a := range gi.Assignees {
			if a.Login != "" {
				iss.Assignees = append(iss.Assignees, a.Login)
			}
		}
		issues = append(issues, iss)
	}

	return issues, skipped, nil
}

// Comment posts body as a comment on the issue.
func (c *Client) Comment(ctx context.Context, number int, body string) error {
	_, err := c.exec.Run(ctx, c.bin, c.args("issue", "comment", strconv.Itoa(number), "--body", body)...)
	if err != nil {
		return fmt.Errorf("gh issue comment %d: %w", number, err)
	}
	return nil
}

// Close closes the issue.
func (c *Client) Close(ctx context.Context, number int) error {
	_, err := c.exec.Run(ctx, c.bin, c.args("issue", "close", strconv.Itoa(number))...)
	if err != nil {
		return fmt.Errorf("gh issue close %d: %w", number, err)
	}
	return nil
}

// Assign adds login as an assignee of the issue.
func (c *Client) Assign(ctx context.Context, number int, login string) error {
	_, err := c.exec.Run(ctx, c.bin, c.args("issue", "edit", strconv.Itoa(number), "--add-assignee", login)...)
	if err != nil {
		return fmt.Errorf("gh issue edit %d: %w", number, err)
	}
	return nil
}
