package sim

import (
	"context"

	"github.com/danmuck/firegrid/internal/gather"
)

// Observer receives each gathered snapshot on the collector rank. Snapshots
// are fresh per generation and may be retained.
type Observer interface {
	Observe(ctx context.Context, snap *gather.Snapshot) error
}

type ObserverFunc func(ctx context.Context, snap *gather.Snapshot) error

func (f ObserverFunc) Observe(ctx context.Context, snap *gather.Snapshot) error {
	return f(ctx, snap)
}

// Observers fans a snapshot out in order, stopping at the first error.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, snap *gather.Snapshot) error {
	for _, obs := range o {
		if obs == nil {
			continue
		}
		if err := obs.Observe(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// lastSnapshot remembers the most recent snapshot.
type lastSnapshot struct {
	snap *gather.Snapshot
}

func (l *lastSnapshot) Observe(_ context.Context, snap *gather.Snapshot) error {
	l.snap = snap
	return nil
}
