package store

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"airmap/pkg/model"
)

// SnapshotRecorder persists a summary of every committed map state. It is a
// map store sink: UpdateState only enqueues, Run does the writes.
type SnapshotRecorder struct {
	store  SnapshotStore
	clock  clock.Clock
	logger *slog.Logger
	queue  chan model.StateSnapshot

	saved   atomic.Int64
	dropped atomic.Int64
}

// NewSnapshotRecorder creates a recorder with room for buffer pending snapshots.
func NewSnapshotRecorder(s SnapshotStore, clk clock.Clock, buffer int) *SnapshotRecorder {
	if clk == nil {
		clk = clock.New()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &SnapshotRecorder{
		store:  s,
		clock:  clk,
		logger: slog.With("component", "snapshots"),
		queue:  make(chan model.StateSnapshot, buffer),
	}
}

// UpdateState enqueues a snapshot of state. A full queue drops it.
func (r *SnapshotRecorder) UpdateState(state model.MapState) {
	snap := state.Snapshot(r.clock.Now())
	select {
	case r.queue <- snap:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued snapshots until ctx is done, then flushes what is left.
func (r *SnapshotRecorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case snap := <-r.queue:
			r.save(context.WithoutCancel(ctx), &snap)
		}
	}
}

func (r *SnapshotRecorder) flush() {
	for {
		select {
		case snap := <-r.queue:
			r.save(context.Background(), &snap)
		default:
			return
		}
	}
}

func (r *SnapshotRecorder) save(ctx context.Context, snap *model.StateSnapshot) {
	if err := r.store.SaveSnapshot(ctx, snap); err != nil {
		r.logger.Warn("Failed to save state snapshot", "revision", snap.Revision, "error", err)
		return
	}
	r.saved.Add(1)
}

// Saved returns how many snapshots were written.
func (r *SnapshotRecorder) Saved() int64 { return r.saved.Load() }

// Dropped returns how many snapshots were discarded because the queue was full.
func (r *SnapshotRecorder) Dropped() int64 { return r.dropped.Load() }
