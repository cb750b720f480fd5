package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/store/jsonfile"
	"github.com/colonyops/hivesync/pkg/iojson"
)

type EventsCmd struct {
	flags *Flags

	jsonOutput bool
	agent      string
	source     string
	limit      int
}

// NewEventsCmd creates a new events command
func NewEventsCmd(flags *Flags) *EventsCmd {
	return &EventsCmd{flags: flags}
}

// Register adds the events command to the application
func (cmd *EventsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "events",
		Usage:     "Show recently applied sync events",
		UsageText: "hivesync events [--agent <glob>] [--source <name>] [--limit N] [--json]",
		Description: `Prints the tail of the event log, oldest first. Only events that changed an
agent's state are logged; baselines and discarded events are not.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output raw log lines",
				Destination: &cmd.jsonOutput,
			},
			&cli.StringFlag{
				Name:        "agent",
				Aliases:     []string{"a"},
				Usage:       "only show events for agents matching this glob",
				Destination: &cmd.agent,
			},
			&cli.StringFlag{
				Name:        "source",
				Usage:       "only show events from this source (issues, pane, bridge)",
				Destination: &cmd.source,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "number of events to show (0 for all)",
				Value:       20,
				Destination: &cmd.limit,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *EventsCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.agent != "" && !doublestar.ValidatePattern(cmd.agent) {
		return fmt.Errorf("invalid agent pattern %q", cmd.agent)
	}

	keep := func(e jsonfile.Entry) bool {
		if cmd.source != "" && string(e.Source) != cmd.source {
			return false
		}
		if cmd.agent != "" {
			ok, _ := doublestar.Match(cmd.agent, e.AgentID)
			return ok
		}
		return true
	}

	entries, err := jsonfile.ReadEvents(cmd.flags.Config.EventLogFile(), keep, cmd.limit)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		for _, e := range entries {
			if err := iojson.WriteLine(out, e); err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
		}
		return nil
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(c.Root().ErrWriter, "No events recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tAGENT\tSOURCE\tKIND\tCHANGE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.AgentID, e.Source, e.Kind, describe(e))
	}
	return w.Flush()
}

// describe summarises the payload of an entry in one short phrase.
func describe(e jsonfile.Entry) string {
	p := e.Payload
	switch e.Kind {
	case event.KindTaskAssigned:
		return fmt.Sprintf("task %s -> #%s", orDash(p.OldTask, "#"), p.NewTask)
	case event.KindTaskUnassigned:
		return fmt.Sprintf("task #%s removed", p.OldTask)
	case event.KindStatusChanged:
		return fmt.Sprintf("%s -> %s", orDash(string(p.OldStatus), ""), p.NewStatus)
	}

	switch p.Field {
	case event.FieldStatus:
		return fmt.Sprintf("status %s -> %s", orDash(string(p.OldStatus), ""), p.NewStatus)
	case event.FieldTask:
		return fmt.Sprintf("task %s -> #%s", orDash(p.OldTask, "#"), p.NewTask)
	case event.FieldTitle:
		return fmt.Sprintf("title %q", p.Title)
	}
	return ""
}

func orDash(s, prefix string) string {
	if s == "" {
		return "-"
	}
	return prefix + s
}
