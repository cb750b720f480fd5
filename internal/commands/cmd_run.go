package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/hivesync/internal/reconcile"
	"github.com/colonyops/hivesync/pkg/executil"
)

type RunCmd struct {
	flags *Flags

	noWatch bool
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run the sync daemon",
		UsageText: "hivesync run [options]",
		Description: `Starts the reconciliation daemon in the foreground.

The daemon polls the issue tracker, every agent's tmux pane and the message
bridge, and pushes the reconciled state of each agent back to all of them.
State is persisted to the data directory and restored on the next start.

Stop with Ctrl-C or SIGTERM; pending events are drained and a final snapshot
is written before exit.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "no-watch",
				Usage:       "do not reload account mappings when the config file changes",
				Destination: &cmd.noWatch,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	for _, w := range cfg.Warnings() {
		log.Warn().Str("category", w.Category).Str("item", w.Item).Msg(w.Message)
	}

	watchPath := cmd.flags.ConfigPath
	if cmd.noWatch {
		watchPath = ""
	} else if _, err := os.Stat(watchPath); err != nil {
		watchPath = ""
	}

	d, err := reconcile.NewDaemon(cfg, &executil.RealExecutor{}, watchPath)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(c.Root().ErrWriter, "hivesync: syncing %d agents (data: %s)\n", len(cfg.Agents), cfg.DataDir)
	return d.Run(ctx)
}
