package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
)

type VehicleMirror interface {
	MirrorVehicle(ctx context.Context, v domain.Vehicle) error
}

const (
	stateBatchSize     = 100
	stateFlushInterval = 50 * time.Millisecond
)

// StateWriter mirrors flushed vehicles into the shared state cache. Within a
// batch only the latest record per vehicle is written.
type StateWriter struct {
	ch     <-chan domain.Vehicle
	mirror VehicleMirror
	clock  clock.Clock
}

func NewStateWriter(ch <-chan domain.Vehicle, mirror VehicleMirror, clk clock.Clock) *StateWriter {
	return &StateWriter{ch: ch, mirror: mirror, clock: clk}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make(map[string]domain.Vehicle, stateBatchSize)
	ticker := w.clock.NewTicker(stateFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-w.ch:
			if !ok {
				w.flushBatch(context.WithoutCancel(ctx), batch)
				return
			}
			batch[v.ID] = v
			if len(batch) >= stateBatchSize {
				w.flushBatch(ctx, batch)
			}

		case <-ticker.C:
			w.flushBatch(ctx, batch)

		case <-ctx.Done():
			w.flushBatch(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch map[string]domain.Vehicle) {
	for id, v := range batch {
		if err := w.mirror.MirrorVehicle(ctx, v); err != nil {
			log.Warn().Err(err).Str("vehicle", id).Msg("Vehicle state mirror failed")
		}
		delete(batch, id)
	}
}
