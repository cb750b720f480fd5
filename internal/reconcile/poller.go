package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/hivesync/internal/core/adapter"
	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/logging"
	"github.com/colonyops/hivesync/internal/core/state"
)

// Poller runs one adapter's poll loop and feeds detected events to the queue.
type Poller struct {
	adapter  adapter.Adapter
	store    *state.Store
	queue    *event.Queue
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewPoller creates a poller for a. Every poll is bounded by timeout; zero
// leaves the bound to the adapter, which must then limit its own calls.
func NewPoller(a adapter.Adapter, store *state.Store, queue *event.Queue, interval, timeout time.Duration) *Poller {
	return &Poller{
		adapter:  a,
		store:    store,
		queue:    queue,
		interval: interval,
		timeout:  timeout,
		log:      logging.Component("poller").With().Str("source", string(a.Source())).Logger(),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce performs one poll cycle. A failed poll is logged and skipped;
// previously known state is left untouched. The returned error is only
// non-nil when events could not be enqueued.
func (p *Poller) PollOnce(ctx context.Context) error {
	pctx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	ext, err := p.adapter.Poll(pctx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("poll failed, skipping cycle")
		}
		return nil
	}

	for _, e := range ext.Dropped {
		p.log.Warn().Err(e).Msg("dropping malformed record")
	}

	events := Detect(p.store.View(), ext)
	for _, ev := range events {
		if err := p.queue.Push(ctx, ev); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		p.log.Debug().Int("events", len(events)).Msg("divergence detected")
	}
	return nil
}
