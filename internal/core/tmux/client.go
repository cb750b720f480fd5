// Package tmux provides a small tmux client for reading and writing agent
// panes: capturing visible text, sending input and managing pane titles.
package tmux

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/colonyops/hivesync/pkg/executil"
)

// Client talks to a tmux server through the tmux binary.
type Client struct {
	exec executil.Executor
	bin  string
}

// New creates a Client with the given executor. bin defaults to "tmux".
func New(exec executil.Executor, bin string) *Client {
	if bin == "" {
		bin = "tmux"
	}
	return &Client{exec: exec, bin: bin}
}

// HasTarget checks whether the pane target exists.
func (c *Client) HasTarget(ctx context.Context, target string) bool {
	_, err := c.exec.Run(ctx, c.bin, "display-message", "-p", "-t", target, "#{pane_id}")
	return err == nil
}

// Capture returns the visible text of a pane.
//
// -p: print to stdout
// -J: join wrapped lines and trim trailing spaces
func (c *Client) Capture(ctx context.Context, target string) (string, error) {
	out, err := c.exec.Run(ctx, c.bin, "capture-pane", "-p", "-J", "-t", target)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w", target, err)
	}
	return string(out), nil
}

// Send types text into a pane literally and presses Enter.
func (c *Client) Send(ctx context.Context, target, text string) error {
	log.Debug().Str("target", target).Int("bytes", len(text)).Msg("executing tmux send-keys")
	if _, err := c.exec.Run(ctx, c.bin, "send-keys", "-t", target, "-l", text); err != nil {
		return fmt.Errorf("tmux send-keys %s: %w", target, err)
	}
	if _, err := c.exec.Run(ctx, c.bin, "send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys %s Enter: %w", target, err)
	}
	return nil
}

// SetTitle sets the pane title.
func (c *Client) SetTitle(ctx context.Context, target, title string) error {
	if _, err := c.exec.Run(ctx, c.bin, "select-pane", "-t", target, "-T", title); err != nil {
		return fmt.Errorf("tmux select-pane -T %s: %w", target, err)
	}
	return nil
}

// Title returns the pane title.
func (c *Client) Title(ctx context.Context, target string) (string, error) {
	out, err := c.exec.Run(ctx, c.bin, "display-message", "-p", "-t", target, "#{pane_title}")
	if err != nil {
		return "", fmt.Errorf("tmux display-message %s: %w", target, err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}
