package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/hivesync/internal/core/logging"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/internal/store/jsonfile"
)

// Persister writes the published store view to the snapshot file on a
// fixed interval.
type Persister struct {
	store     *state.Store
	snapshots *jsonfile.SnapshotStore
	interval  time.Duration
	log       zerolog.Logger
}

// NewPersister creates a Persister.
func NewPersister(store *state.Store, snapshots *jsonfile.SnapshotStore, interval time.Duration) *Persister {
	return &Persister{
		store:     store,
		snapshots: snapshots,
		interval:  interval,
		log:       logging.Component("persister"),
	}
}

// Run saves a snapshot on every tick until ctx is cancelled. The final
// snapshot is taken by the caller once the reconciler has stopped.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = p.Save()
		}
	}
}

// Save writes one snapshot. Failures are logged and returned.
func (p *Persister) Save() error {
	snap := jsonfile.NewSnapshot(p.store.View())
	if err := p.snapshots.Save(snap); err != nil {
		p.log.Error().Err(err).Str("path", p.snapshots.Path()).Msg("failed to write snapshot")
		return err
	}
	p.log.Debug().Int("agents", len(snap.Agents)).Msg("snapshot written")
	return nil
}
