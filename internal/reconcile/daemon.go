package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/bridge"
	"github.com/colonyops/hivesync/internal/core/config"
	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/github"
	"github.com/colonyops/hivesync/internal/core/logging"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/internal/core/terminal"
	"github.com/colonyops/hivesync/internal/core/tmux"
	"github.com/colonyops/hivesync/internal/integration"
	"github.com/colonyops/hivesync/internal/integration/bridgeadapter"
	"github.com/colonyops/hivesync/internal/integration/issues"
	"github.com/colonyops/hivesync/internal/integration/pane"
	"github.com/colonyops/hivesync/internal/store/jsonfile"
	"github.com/colonyops/hivesync/pkg/executil"
)

// Daemon wires the adapters, pollers, reconciler and persistence together.
type Daemon struct {
	cfg        *config.Config
	configPath string
	log        zerolog.Logger

	store      *state.Store
	queue      *event.Queue
	snapshots  *jsonfile.SnapshotStore
	eventLog   *jsonfile.EventLog
	reconciler *Reconciler
	persister  *Persister
	pollers    []*Poller
	issues     *issues.Adapter
	session    *bridge.Session
}

// NewDaemon builds a daemon from cfg. Commands are run through exec. When
// configPath is set, account mapping changes in that file are applied
// without a restart.
func NewDaemon(cfg *config.Config, exec executil.Executor, configPath string) (*Daemon, error) {
	classifier, err := terminal.NewClassifier(cfg.Pane.Keywords, cfg.Pane.TaskPattern)
	if err != nil {
		return nil, fmt.Errorf("pane classifier: %w", err)
	}

	issuesAdapter := issues.New(
		github.New(exec, cfg.Issues.GhPath, cfg.Issues.Repo),
		cfg.Issues.Limit,
		cfg.Accounts(),
	)
	paneAdapter := pane.New(
		tmux.New(exec, cfg.Pane.TmuxPath),
		classifier,
		integration.NewWorkerPool(cfg.Pane.Workers),
		cfg.Channels(),
		cfg.Timeout,
	)

	adapters := []adapter.Adapter{issuesAdapter, paneAdapter}
	// The pane adapter bounds each tmux call itself, so its poll as a whole
	// is not given the single-call timeout.
	intervals := []intervalFor{
		{issuesAdapter, cfg.Issues.PollInterval, cfg.Timeout},
		{paneAdapter, cfg.Pane.PollInterval, 0},
	}

	var session *bridge.Session
	if cfg.Bridge.IsEnabled() {
		session = bridge.NewSession(bridge.Options{
			URL:            cfg.Bridge.URL,
			DialTimeout:    cfg.Timeout,
			BackoffInitial: cfg.Bridge.BackoffInitial,
			BackoffMax:     cfg.Bridge.BackoffMax,
		})
		bridgeAdapter := bridgeadapter.New(session, cfg.AgentIDs())
		adapters = append(adapters, bridgeAdapter)
		intervals = append(intervals, intervalFor{bridgeAdapter, cfg.Bridge.PollInterval, cfg.Timeout})
	}

	d, err := newDaemon(cfg, adapters, intervals)
	if err != nil {
		return nil, err
	}
	d.configPath = configPath
	d.issues = issuesAdapter
	d.session = session
	return d, nil
}

type intervalFor struct {
	adapter  adapter.Adapter
	interval time.Duration
	timeout  time.Duration
}

func newDaemon(cfg *config.Config, adapters []adapter.Adapter, intervals []intervalFor) (*Daemon, error) {
	d := &Daemon{
		cfg:       cfg,
		log:       logging.Component("daemon"),
		snapshots: jsonfile.NewSnapshotStore(cfg.SnapshotFile()),
		queue:     event.NewQueue(cfg.QueueSize),
	}

	d.store = state.NewStore(d.restore()...)

	evlog, err := jsonfile.OpenEventLog(cfg.EventLogFile())
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	d.eventLog = evlog

	d.reconciler = New(Options{
		Store:          d.store,
		Queue:          d.queue,
		Adapters:       adapters,
		EventLog:       evlog,
		PendingCeiling: cfg.PendingCeiling,
		Timeout:        cfg.Timeout,
		AdvisoryWindow: cfg.AdvisoryWindow,
	})
	d.persister = NewPersister(d.store, d.snapshots, cfg.SnapshotInterval)

	for _, iv := range intervals {
		d.pollers = append(d.pollers, NewPoller(iv.adapter, d.store, d.queue, iv.interval, iv.timeout))
	}

	return d, nil
}

// restore builds one record per configured agent and overlays the last
// snapshot. An unreadable snapshot is moved aside and the daemon starts
// empty, establishing a baseline from the first polls.
func (d *Daemon) restore() []*state.Record {
	records := make([]*state.Record, 0, len(d.cfg.Agents))
	for _, id := range d.cfg.AgentIDs() {
		records = append(records, state.NewRecord(id, d.cfg.Agents[id].Channel))
	}

	snap, err := d.snapshots.Load()
	switch {
	case errors.Is(err, jsonfile.ErrSnapshotCorrupt):
		backup, qerr := d.snapshots.Quarantine()
		d.log.Warn().Err(err).AnErr("quarantine_error", qerr).Str("backup", backup).
			Msg("snapshot unreadable, starting from empty state")
	case err != nil:
		d.log.Warn().Err(err).Msg("snapshot could not be read, starting from empty state")
	case snap == nil:
		d.log.Info().Msg("no snapshot found, establishing baseline")
	default:
		snap.Restore(records)
		d.log.Info().Time("snapshot_at", snap.Timestamp).Int("agents", len(snap.Agents)).Msg("state restored")
	}

	return records
}

// Store returns the daemon's state store.
func (d *Daemon) Store() *state.Store {
	return d.store
}

// Run starts every loop and blocks until ctx is cancelled. On shutdown the
// pollers stop first, the reconciler drains the queue, and a final snapshot
// is written.
func (d *Daemon) Run(ctx context.Context) error {
	defer func() { _ = d.eventLog.Close() }()

	d.log.Info().
		Strs("agents", d.cfg.AgentIDs()).
		Int("sources", len(d.pollers)).
		Str("data_dir", d.cfg.DataDir).
		Msg("sync daemon starting")

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		_ = d.reconciler.Run(context.WithoutCancel(ctx))
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range d.pollers {
		g.Go(func() error { return p.Run(gctx) })
	}
	g.Go(func() error { return d.persister.Run(gctx) })
	if d.session != nil {
		g.Go(func() error { return d.session.Run(gctx) })
	}
	if d.configPath != "" && d.issues != nil {
		g.Go(func() error {
			w := config.NewWatcher(d.configPath, d.cfg.DataDir, d.reload)
			if err := w.Run(gctx); err != nil {
				d.log.Warn().Err(err).Msg("config watcher stopped")
			}
			return nil
		})
	}

	err := g.Wait()

	d.queue.Close()
	<-reconcilerDone

	if serr := d.persister.Save(); serr != nil {
		err = errors.Join(err, fmt.Errorf("final snapshot: %w", serr))
	}
	d.log.Info().Msg("sync daemon stopped")
	return err
}

// reload applies the parts of a changed config that can change at runtime.
func (d *Daemon) reload(cfg *config.Config) {
	d.issues.SetAccounts(cfg.Accounts())
	d.log.Info().Msg("agent account mapping reloaded")

	if !slices.Equal(cfg.AgentIDs(), d.cfg.AgentIDs()) || !maps.Equal(cfg.Channels(), d.cfg.Channels()) {
		d.log.Warn().Msg("agent roster or channel changes require a restart")
	}
}
