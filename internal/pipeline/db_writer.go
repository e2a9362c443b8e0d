package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/metrics"
)

// AlertSink persists alert history.
type AlertSink interface {
	BatchInsertAlerts(ctx context.Context, alerts []domain.Alert) error
}

// HistoryWriter batches accepted alerts into the history sink, flushing on
// size or on the interval, whichever comes first.
type HistoryWriter struct {
	ch         <-chan domain.Alert
	sink       AlertSink
	clock      clock.Clock
	batchSize  int
	interval   time.Duration
	retryDelay time.Duration
}

func NewHistoryWriter(
	ch <-chan domain.Alert,
	sink AlertSink,
	clk clock.Clock,
	batchSize int,
	interval time.Duration,
) *HistoryWriter {
	return &HistoryWriter{
		ch:         ch,
		sink:       sink,
		clock:      clk,
		batchSize:  batchSize,
		interval:   interval,
		retryDelay: 500 * time.Millisecond,
	}
}

func (w *HistoryWriter) Run(ctx context.Context) {
	batch := make([]domain.Alert, 0, w.batchSize)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case a, ok := <-w.ch:
			if !ok {
				w.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, a)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (w *HistoryWriter) flush(ctx context.Context, batch []domain.Alert) {
	if len(batch) == 0 {
		return
	}

	err := w.sink.BatchInsertAlerts(ctx, batch)
	if err != nil {
		log.Warn().Err(err).Int("batch", len(batch)).Msg("Alert history write failed, retrying")
		w.wait(ctx, w.retryDelay)
		err = w.sink.BatchInsertAlerts(ctx, batch)
		if err != nil {
			log.Error().Err(err).Int("batch", len(batch)).Msg("Alert history write permanently failed")
			metrics.HistoryWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.HistoryWriteSuccess.Add(int64(len(batch)))
}

// wait blocks for d on the writer's clock or until ctx is done.
func (w *HistoryWriter) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	done := make(chan struct{})
	timer := w.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
	case <-ctx.Done():
		timer.Stop()
	}
}
