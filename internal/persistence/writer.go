package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AISRelay/internal/observability"
	"AISRelay/internal/state"

	"github.com/rs/zerolog"
)

// SnapshotWriter periodically merges the in-memory vessel set into the
// durable snapshot. Each cycle loads the stored snapshot, overlays every
// in-memory record and replaces the stored content with the result, so the
// durable set only ever grows.
type SnapshotWriter struct {
	store    *state.VesselStore
	backend  SnapshotStore
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger

	// mu serializes whole load-merge-replace cycles.
	mu sync.Mutex
}

func NewSnapshotWriter(
	store *state.VesselStore,
	backend SnapshotStore,
	interval time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *SnapshotWriter {
	return &SnapshotWriter{
		store:    store,
		backend:  backend,
		interval: interval,
		metrics:  metrics,
		log:      log,
	}
}

// Run flushes every interval until ctx is cancelled. Failed cycles are
// logged and the next tick tries again. A cycle cut short by the
// cancellation is dropped without being counted as a failure.
func (w *SnapshotWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Msg("snapshot writer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = w.Flush(ctx)
		}
	}
}

// Flush runs one merge cycle. When the stored snapshot cannot be read the
// cycle is abandoned and the stored content is left untouched.
func (w *SnapshotWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()

	prior, err := w.backend.Load(ctx)
	if err != nil {
		w.fail(ctx, "load", err)
		return fmt.Errorf("load snapshot: %w", err)
	}

	merged := Merge(prior, w.store.Snapshot())

	if err := w.backend.Replace(ctx, merged); err != nil {
		w.fail(ctx, "replace", err)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	elapsed := time.Since(start)
	if w.metrics != nil {
		w.metrics.SnapshotFlushes.Inc()
		w.metrics.SnapshotDuration.Observe(elapsed.Seconds())
		w.metrics.SnapshotVessels.Set(float64(len(merged)))
		w.metrics.SnapshotLastSuccess.SetToCurrentTime()
	}
	w.log.Info().
		Int("vessels", len(merged)).
		Dur("took", elapsed).
		Msg("snapshot written")
	return nil
}

func (w *SnapshotWriter) fail(ctx context.Context, stage string, err error) {
	if ctx.Err() != nil {
		w.log.Debug().Err(err).Str("stage", stage).Msg("snapshot flush abandoned")
		return
	}
	w.log.Error().Err(err).Str("stage", stage).Msg("snapshot flush failed")
	if w.metrics != nil {
		w.metrics.SnapshotErrors.WithLabelValues(stage).Inc()
	}
}
