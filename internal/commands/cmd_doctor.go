package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/doctor"
	"github.com/colonyops/hivesync/internal/core/github"
	"github.com/colonyops/hivesync/internal/core/styles"
	"github.com/colonyops/hivesync/internal/core/tmux"
	"github.com/colonyops/hivesync/pkg/executil"
	"github.com/colonyops/hivesync/pkg/iojson"
)

type DoctorCmd struct {
	flags  *Flags
	exec   executil.Executor
	format string
}

// NewDoctorCmd creates a new doctor command. External commands run through exec.
func NewDoctorCmd(flags *Flags, exec executil.Executor) *DoctorCmd {
	return &DoctorCmd{flags: flags, exec: exec}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Check that every synced system is reachable",
		UsageText:   "hivesync doctor [options]",
		Description: "Checks the gh and tmux executables, lists tracker issues, looks up every agent pane and queries the message bridge.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) checks() []doctor.Check {
	cfg := cmd.flags.Config

	var prober doctor.BridgeProber
	if cfg.Bridge.IsEnabled() {
		prober = bridge.NewSession(bridge.Options{
			URL:            cfg.Bridge.URL,
			DialTimeout:    cfg.Timeout,
			BackoffInitial: cfg.Bridge.BackoffInitial,
			BackoffMax:     cfg.Bridge.BackoffMax,
		})
	}

	return []doctor.Check{
		doctor.NewToolsCheck(cfg.Issues.GhPath, cfg.Pane.TmuxPath),
		doctor.NewTrackerCheck(github.New(cmd.exec, cfg.Issues.GhPath, cfg.Issues.Repo), cfg.Issues.Limit),
		doctor.NewPanesCheck(tmux.New(cmd.exec, cfg.Pane.TmuxPath), cfg.Channels()),
		doctor.NewBridgeCheck(prober, cfg.Bridge.URL, cfg.Timeout),
	}
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	results := doctor.RunAll(ctx, cmd.checks())
	_, _, failed := doctor.Summary(results)

	if cmd.format == "json" {
		if err := cmd.outputJSON(c, results); err != nil {
			return err
		}
	} else {
		cmd.outputText(c, results)
	}

	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

type summaryJSON struct {
	Passed int `json:"passed"`
	Warned int `json:"warned"`
	Failed int `json:"failed"`
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	passed, warned, failed := doctor.Summary(results)

	out := struct {
		Healthy bool            `json:"healthy"`
		Summary summaryJSON     `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: failed == 0,
		Summary: summaryJSON{Passed: passed, Warned: warned, Failed: failed},
		Checks:  results,
	}

	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, out)
}

func (cmd *DoctorCmd) outputText(c *cli.Command, results []doctor.Result) {
	w := c.Root().Writer
	divider := styles.MutedStyle.Render(strings.Repeat("─", 40))

	_, _ = fmt.Fprintln(w, styles.HeaderStyle.Render("hivesync doctor"))
	_, _ = fmt.Fprintln(w, divider)

	for _, result := range results {
		_, _ = fmt.Fprintln(w, styles.HeaderStyle.Render(result.Name))

		for _, item := range result.Items {
			var detail string
			if item.Detail != "" {
				detail = " " + styles.MutedStyle.Render(item.Detail)
			}

			var icon string
			switch item.Status {
			case doctor.StatusPass:
				icon = styles.SuccessStyle.Render("✔")
			case doctor.StatusWarn:
				icon = styles.WarningStyle.Render("●")
			case doctor.StatusFail:
				icon = styles.ErrorStyle.Render("✘")
			}

			_, _ = fmt.Fprintf(w, "  %s %s%s\n", icon, item.Label, detail)
		}

		_, _ = fmt.Fprintln(w)
	}

	passed, warned, failed := doctor.Summary(results)
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n",
		styles.SuccessStyle.Render(fmt.Sprintf("%d passed", passed)),
		styles.WarningStyle.Render(fmt.Sprintf("%d warnings", warned)),
		styles.ErrorStyle.Render(fmt.Sprintf("%d failed", failed)),
	)
}
